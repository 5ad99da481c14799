package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/notify"
	"github.com/hamed0406/presencewatch/internal/scheduler"
)

// Target watches one tracked account for one issuer and destination.
//
// Exactly one loop (watch or alert) is scheduled while the Target is live.
// Callbacks are serialized by runMu; mu guards the fields and is never held
// across I/O.
type Target struct {
	id  string
	reg *Registry
	log *zap.Logger

	runMu sync.Mutex

	mu      sync.Mutex
	spec    domain.TargetSpec
	ep      episode
	handle  notify.Handle
	account *domain.Account
	task    scheduler.Task
	gen     uint64
	stopped bool
}

// Snapshot is a read-only view of a live Target.
type Snapshot struct {
	ID           string            `json:"id"`
	Spec         domain.TargetSpec `json:"spec"`
	Phase        string            `json:"phase"`
	OfflineSince *time.Time        `json:"offline_since,omitempty"`
	Notified     bool              `json:"notified"`
	Display      string            `json:"display"`
}

func newTarget(reg *Registry, spec domain.TargetSpec) *Target {
	id := uuid.NewString()
	return &Target{
		id:   id,
		reg:  reg,
		spec: spec,
		log: reg.log.With(
			zap.String("target", id),
			zap.String("tracked_id", spec.TrackedID),
			zap.String("issuer_id", spec.IssuerID),
		),
	}
}

func (t *Target) ID() string { return t.id }

func (t *Target) Spec() domain.TargetSpec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spec
}

// Phase reports the active loop. ok is false once the Target is stopped.
func (t *Target) Phase() (p Phase, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ep.phase, !t.stopped
}

// Display returns the cached account name when a lookup has succeeded, else
// the configured name.
func (t *Target) Display() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.displayLocked()
}

func (t *Target) displayLocked() string {
	if t.account != nil {
		return t.account.LongName()
	}
	return t.spec.Name
}

func (t *Target) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		ID:       t.id,
		Spec:     t.spec,
		Phase:    t.ep.phase.String(),
		Notified: t.ep.notified,
		Display:  t.displayLocked(),
	}
	if t.stopped {
		s.Phase = "stopped"
	}
	if !t.ep.offlineSince.IsZero() {
		since := t.ep.offlineSince
		s.OfflineSince = &since
	}
	return s
}

// start enters the watch loop.
func (t *Target) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ep = episode{phase: Watching}
	t.reg.metrics.PhaseChanged("", Watching.String())
	t.scheduleLocked(Watching)
}

// scheduleLocked replaces the running loop. The watch loop checks right away;
// the alert loop waits one period so a freshly detected absence is never
// reported on the tick that detected it.
func (t *Target) scheduleLocked(p Phase) {
	if t.stopped {
		return
	}
	if t.task != nil {
		t.task.Cancel()
	}
	t.gen++
	gen := t.gen
	t.task = t.reg.sched.Every(t.reg.period, p == Watching, func() { t.tick(gen) })
}

// Stop cancels the current loop and waits for a running callback to finish.
// It is idempotent and must not be called from a Target callback.
func (t *Target) Stop() {
	t.mu.Lock()
	task := t.haltLocked()
	t.mu.Unlock()
	if task != nil {
		task.Stop()
	}
	// A callback of a loop replaced earlier may still be running.
	t.runMu.Lock()
	t.runMu.Unlock()
}

// halt stops scheduling from inside a callback. It reports whether this call
// did the stopping.
func (t *Target) halt() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if task := t.haltLocked(); task != nil {
		task.Cancel()
	}
	return true
}

func (t *Target) haltLocked() scheduler.Task {
	if t.stopped {
		return nil
	}
	t.stopped = true
	t.gen++
	t.reg.metrics.PhaseChanged(t.ep.phase.String(), "")
	task := t.task
	t.task = nil
	return task
}

func (t *Target) tick(gen uint64) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if !t.current(gen) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.reg.callTimeout)
	defer cancel()

	online, ok := t.check(ctx, gen)
	if !ok {
		return
	}

	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	from := t.ep.phase
	tr := step(t.ep, online, t.reg.clock.Now(), t.spec.Timeout(), t.displayLocked())
	t.ep = tr.next
	handle := t.handle
	if tr.effect == effectRecover {
		t.handle = nil
	}
	if tr.switched {
		t.reg.metrics.PhaseChanged(from.String(), tr.next.phase.String())
		t.scheduleLocked(tr.next.phase)
	}
	t.mu.Unlock()

	if tr.switched {
		if tr.next.phase == Alerting {
			t.log.Info("target_offline")
		} else {
			t.log.Info("target_online")
		}
	}

	switch tr.effect {
	case effectNotify:
		t.notify(ctx, nil, notify.Message{Kind: notify.KindAlert, Text: tr.text})
	case effectRefresh:
		t.notify(ctx, handle, notify.Message{Kind: notify.KindAlert, Text: tr.text})
	case effectRecover:
		// The episode is over; the resulting handle is not kept.
		t.edit(ctx, handle, notify.Message{Kind: notify.KindRecovery, Text: tr.text})
	}
}

func (t *Target) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && gen == t.gen
}

// check looks the account up. When the lookup fails the Target is torn down
// and ok is false.
func (t *Target) check(ctx context.Context, gen uint64) (online, ok bool) {
	acct, err := t.reg.source.FetchAccount(ctx, t.Spec().TrackedID)
	if err != nil {
		t.reg.metrics.Check("unreachable")
		t.unreachable(ctx, err)
		return false, false
	}
	t.mu.Lock()
	t.account = &acct
	t.mu.Unlock()
	if acct.Online() {
		t.reg.metrics.Check("online")
	} else {
		t.reg.metrics.Check("offline")
	}
	return acct.Online(), true
}

// unreachable tears the Target down after the tracked account stopped
// resolving: one notice to the best destination, then removal.
func (t *Target) unreachable(ctx context.Context, cause error) {
	if !t.halt() {
		return
	}
	spec := t.Spec()
	text := unreachableText(spec.Name, spec.TrackedID)
	t.log.Warn("target_unreachable", zap.String("display", t.Display()), zap.Error(cause))
	if _, ok := t.deliver(ctx, notify.Message{Kind: notify.KindNotice, Text: text}); !ok {
		return // deliver already removed the Target
	}
	t.reg.drop(ctx, t, "account_unreachable")
}

// notify sends msg, editing h in place when given. The resulting handle
// becomes the active notification.
func (t *Target) notify(ctx context.Context, h notify.Handle, msg notify.Message) {
	next, ok := t.edit(ctx, h, msg)
	if !ok {
		return
	}
	t.mu.Lock()
	if !t.stopped && t.ep.notified {
		t.handle = next
	}
	t.mu.Unlock()
}

// edit edits h, falling back to a fresh delivery when there is no handle or
// the edit fails.
func (t *Target) edit(ctx context.Context, h notify.Handle, msg notify.Message) (notify.Handle, bool) {
	if h != nil {
		next, err := h.Edit(ctx, msg)
		if err == nil {
			t.reg.metrics.Notification(string(msg.Kind), "edited")
			return next, true
		}
		t.log.Info("notification_edit_failed", zap.Error(err))
	}
	return t.deliver(ctx, msg)
}

// deliver runs the delivery attempts in order: the destination; on failure a
// notice to the issuer, clearing the destination; then the issuer. When no
// attempt succeeds the Target is removed and ok is false.
func (t *Target) deliver(ctx context.Context, msg notify.Message) (notify.Handle, bool) {
	spec := t.Spec()
	dir := t.reg.directory

	if spec.Destination != "" {
		h, err := sendTo(ctx, msg, func() (notify.Sink, error) { return dir.ResolveDestination(ctx, spec.Destination) })
		if err == nil {
			t.reg.metrics.Notification(string(msg.Kind), "sent")
			return h, true
		}
		t.log.Warn("destination_unreachable", zap.String("destination", spec.Destination), zap.Error(err))

		notice := notify.Message{Kind: notify.KindNotice, Text: destinationGoneText(t.Display(), spec.Destination)}
		_, noticeErr := sendTo(ctx, notice, func() (notify.Sink, error) { return dir.ResolveUser(ctx, spec.IssuerID) })
		t.clearDestination(ctx, spec.Destination)
		if noticeErr != nil {
			return nil, t.giveUp(ctx, msg, noticeErr)
		}
	}

	h, err := sendTo(ctx, msg, func() (notify.Sink, error) { return dir.ResolveUser(ctx, spec.IssuerID) })
	if err != nil {
		return nil, t.giveUp(ctx, msg, err)
	}
	t.reg.metrics.Notification(string(msg.Kind), "sent")
	return h, true
}

func sendTo(ctx context.Context, msg notify.Message, resolve func() (notify.Sink, error)) (notify.Handle, error) {
	sink, err := resolve()
	if err != nil {
		return nil, err
	}
	return sink.Send(ctx, msg)
}

func (t *Target) giveUp(ctx context.Context, msg notify.Message, cause error) bool {
	t.reg.metrics.Notification(string(msg.Kind), "failed")
	t.log.Warn("issuer_unreachable", zap.String("display", t.Display()), zap.Error(cause))
	t.halt()
	t.reg.drop(ctx, t, "issuer_unreachable")
	return false
}

func (t *Target) clearDestination(ctx context.Context, ref string) {
	t.mu.Lock()
	if t.spec.Destination != ref {
		t.mu.Unlock()
		return
	}
	t.spec.Destination = ""
	t.mu.Unlock()
	if err := t.reg.Sync(ctx); err != nil {
		t.log.Warn("destination_clear_persist_error", zap.Error(err))
	}
}
