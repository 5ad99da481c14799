package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
)

// Report summarizes a startup reconciliation.
type Report struct {
	Issuers        int `json:"issuers"`
	Targets        int `json:"targets"`
	RemovedIssuers int `json:"removed_issuers"`
	RemovedTargets int `json:"removed_targets"`
	Invalid        int `json:"invalid"`
}

// Reconcile loads the durable list, drops issuers, tracked accounts and
// destinations that no longer resolve, starts a Target for every remaining entry and writes the
// pruned list back once.
func (r *Registry) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	raw, err := r.loadRaw(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Info("reconcile_empty")
			return rep, nil
		}
		return rep, err
	}

	issuers := make([]string, 0, len(raw))
	for id := range raw {
		issuers = append(issuers, id)
	}
	sort.Strings(issuers)

	pruned := make(domain.TargetList, len(raw))
	for _, issuer := range issuers {
		log := r.log.With(zap.String("issuer_id", issuer))
		if _, err := r.directory.ResolveUser(ctx, issuer); err != nil {
			log.Info("reconcile_issuer_removed", zap.Error(err))
			rep.RemovedIssuers++
			continue
		}
		var kept []domain.TargetSpec
		for i, entry := range raw[issuer] {
			var spec domain.TargetSpec
			err := json.Unmarshal(entry, &spec)
			if err == nil {
				spec.IssuerID = issuer
				err = spec.Validate()
			}
			if err != nil {
				log.Warn("reconcile_invalid_entry", zap.Int("index", i), zap.Error(err))
				r.owner.Alert(ctx, fmt.Sprintf("Invalid target options in database for issuer %s: %s", issuer, entry))
				rep.Invalid++
				continue
			}
			if _, err := r.source.FetchAccount(ctx, spec.TrackedID); err != nil {
				log.Info("reconcile_target_removed", zap.String("tracked_id", spec.TrackedID), zap.Error(err))
				rep.RemovedTargets++
				continue
			}
			if spec.Destination != "" {
				if _, err := r.directory.ResolveDestination(ctx, spec.Destination); err != nil {
					log.Info("reconcile_target_removed",
						zap.String("tracked_id", spec.TrackedID),
						zap.String("destination", spec.Destination),
						zap.Error(err),
					)
					rep.RemovedTargets++
					continue
				}
			}
			kept = append(kept, spec)
		}
		if len(kept) > 0 {
			pruned[issuer] = kept
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issuer := range issuers {
		for _, spec := range pruned[issuer] {
			r.addLocked(spec)
		}
	}
	rep.Issuers, rep.Targets = pruned.Count()
	r.log.Info("reconcile_done",
		zap.Int("issuers", rep.Issuers),
		zap.Int("targets", rep.Targets),
		zap.Int("removed_issuers", rep.RemovedIssuers),
		zap.Int("removed_targets", rep.RemovedTargets),
		zap.Int("invalid", rep.Invalid),
	)
	return rep, r.writeList(ctx, pruned)
}

// loadRaw reads the durable list keeping entries undecoded, so one bad entry
// does not discard the rest.
func (r *Registry) loadRaw(ctx context.Context) (map[string][]json.RawMessage, error) {
	data, err := r.store.Get(ctx, SettingsTable, SettingsKey)
	if err != nil {
		return nil, err
	}
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.owner.Alert(ctx, "Stored target list is unreadable: "+err.Error())
		return nil, fmt.Errorf("decode target list: %w", err)
	}
	return raw, nil
}
