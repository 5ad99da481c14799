// Package tracker runs the presence state machine of every tracked account
// and keeps the durable target list in step with the live set.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/notify"
	"github.com/hamed0406/presencewatch/internal/presence"
	"github.com/hamed0406/presencewatch/internal/repo"
	"github.com/hamed0406/presencewatch/internal/scheduler"
)

// Durable location of the target list.
const (
	SettingsTable = "targets"
	SettingsKey   = "list"
)

var (
	// ErrPersist means the live change happened but the durable write failed.
	ErrPersist   = errors.New("persist target list")
	ErrDuplicate = errors.New("target already tracked for this destination")
)

// Alerter is the operator alert channel.
type Alerter interface {
	Alert(ctx context.Context, msg string)
}

type Options struct {
	Source    presence.Source
	Directory notify.Directory
	Store     repo.SettingsStore
	Owner     Alerter
	Scheduler scheduler.Scheduler
	Clock     scheduler.Clock
	Log       *zap.Logger
	Metrics   Metrics

	// Period is the poll interval of both loops.
	Period time.Duration
	// CallTimeout bounds the I/O of a single tick.
	CallTimeout time.Duration
}

// Registry owns the issuer to Targets mapping. All mutations and durable
// writes happen under mu, in order.
type Registry struct {
	source      presence.Source
	directory   notify.Directory
	store       repo.SettingsStore
	owner       Alerter
	sched       scheduler.Scheduler
	clock       scheduler.Clock
	log         *zap.Logger
	metrics     Metrics
	period      time.Duration
	callTimeout time.Duration

	mu      sync.Mutex
	targets map[string][]*Target
}

func NewRegistry(o Options) *Registry {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = NopMetrics{}
	}
	if o.Clock == nil {
		o.Clock = scheduler.SystemClock{}
	}
	if o.Owner == nil {
		o.Owner = notify.NewOwner(o.Log, nil)
	}
	if o.Period <= 0 {
		o.Period = time.Minute
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return &Registry{
		source:      o.Source,
		directory:   o.Directory,
		store:       o.Store,
		owner:       o.Owner,
		sched:       o.Scheduler,
		clock:       o.Clock,
		log:         o.Log,
		metrics:     o.Metrics,
		period:      o.Period,
		callTimeout: o.CallTimeout,
		targets:     make(map[string][]*Target),
	}
}

// Add starts tracking spec and persists the issuer list. On ErrPersist the
// returned Target is live regardless.
func (r *Registry) Add(ctx context.Context, spec domain.TargetSpec) (*Target, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets[spec.IssuerID] {
		if t.Spec().Matches(spec.TrackedID, spec.Destination) {
			return nil, ErrDuplicate
		}
	}
	t := r.addLocked(spec)
	return t, r.persistLocked(ctx)
}

func (r *Registry) addLocked(spec domain.TargetSpec) *Target {
	t := newTarget(r, spec)
	r.targets[spec.IssuerID] = append(r.targets[spec.IssuerID], t)
	t.start()
	t.log.Info("target_added", zap.Int("timeout_minutes", spec.TimeoutMinutes), zap.String("destination", spec.Destination))
	return t
}

// Remove stops the issuer's Target matching trackedID and destination and
// persists the issuer list. It returns domain.ErrNotFound when nothing matches.
func (r *Registry) Remove(ctx context.Context, issuerID, trackedID, destination string) error {
	r.mu.Lock()
	var found *Target
	for _, t := range r.targets[issuerID] {
		if t.Spec().Matches(trackedID, destination) {
			found = t
			break
		}
	}
	r.mu.Unlock()
	if found == nil {
		return fmt.Errorf("target %s for issuer %s: %w", trackedID, issuerID, domain.ErrNotFound)
	}

	// Stop waits for a running callback, which may itself need mu.
	found.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.unlinkLocked(found) {
		// Already removed by its own teardown.
		return nil
	}
	r.metrics.Removal("requested")
	found.log.Info("target_removed", zap.String("reason", "requested"))
	return r.persistLocked(ctx)
}

// drop removes a Target that already halted itself.
func (r *Registry) drop(ctx context.Context, t *Target, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.unlinkLocked(t) {
		return
	}
	r.metrics.Removal(reason)
	t.log.Info("target_removed", zap.String("reason", reason))
	if err := r.persistLocked(ctx); err != nil {
		t.log.Warn("target_removal_not_persisted", zap.Error(err))
	}
}

func (r *Registry) unlinkLocked(t *Target) bool {
	issuer := t.Spec().IssuerID
	list := r.targets[issuer]
	for i, cur := range list {
		if cur != t {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.targets, issuer)
		} else {
			r.targets[issuer] = list
		}
		return true
	}
	return false
}

// Find returns the issuer's first Target tracking trackedID, or nil.
func (r *Registry) Find(trackedID, issuerID string) *Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.targets[issuerID] {
		if t.Spec().TrackedID == trackedID {
			return t
		}
	}
	return nil
}

// Issuer returns snapshots of the issuer's Targets in add order.
func (r *Registry) Issuer(issuerID string) []Snapshot {
	r.mu.Lock()
	list := append([]*Target(nil), r.targets[issuerID]...)
	r.mu.Unlock()
	out := make([]Snapshot, 0, len(list))
	for _, t := range list {
		out = append(out, t.Snapshot())
	}
	return out
}

// List returns snapshots of every Target, grouped by issuer.
func (r *Registry) List() []Snapshot {
	var out []Snapshot
	for _, issuer := range r.issuers() {
		out = append(out, r.Issuer(issuer)...)
	}
	return out
}

func (r *Registry) issuers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of issuers and live Targets.
func (r *Registry) Counts() (issuers, targets int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked().Count()
}

// Sync writes the live list to the durable store.
func (r *Registry) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked(ctx)
}

// StopAll stops every Target without touching the durable list.
func (r *Registry) StopAll() {
	r.mu.Lock()
	var all []*Target
	for _, list := range r.targets {
		all = append(all, list...)
	}
	r.mu.Unlock()
	for _, t := range all {
		t.Stop()
	}
}

func (r *Registry) listLocked() domain.TargetList {
	l := make(domain.TargetList, len(r.targets))
	for issuer, list := range r.targets {
		specs := make([]domain.TargetSpec, 0, len(list))
		for _, t := range list {
			specs = append(specs, t.Spec())
		}
		l[issuer] = specs
	}
	return l
}

func (r *Registry) persistLocked(ctx context.Context) error {
	return r.writeList(ctx, r.listLocked())
}

// writeList stores l, deleting the key when l is empty. Failures are reported
// to the owner and wrapped in ErrPersist.
func (r *Registry) writeList(ctx context.Context, l domain.TargetList) error {
	var err error
	if _, n := l.Count(); n == 0 {
		err = r.store.Delete(ctx, SettingsTable, SettingsKey)
	} else {
		var data []byte
		data, err = json.Marshal(l)
		if err == nil {
			err = r.store.Set(ctx, SettingsTable, SettingsKey, data)
		}
	}
	if err != nil {
		r.log.Error("registry_persist_error", zap.Error(err))
		r.owner.Alert(ctx, "Target list could not be saved; live and stored targets differ: "+err.Error())
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}
