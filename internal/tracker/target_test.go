package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hamed0406/presencewatch/internal/domain"
	"github.com/hamed0406/presencewatch/internal/notify"
	"github.com/hamed0406/presencewatch/internal/presence"
	"github.com/hamed0406/presencewatch/internal/repo/memory"
	"github.com/hamed0406/presencewatch/internal/scheduler"
)

func texts(ds []notify.Delivery) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Message.Text)
	}
	return out
}

func TestTarget_ZeroTimeoutWaitsOnePoll(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)
	f.dir.AddUser("u1")

	tgt, err := f.reg.Add(context.Background(), spec("b1", "u1", 0))
	require.NoError(t, err)
	f.sched.Flush()

	p, _ := tgt.Phase()
	require.Equal(t, Alerting, p, "offline on the first watch tick")
	require.Empty(t, f.dir.Deliveries(""), "nothing sent on the detecting tick")

	f.sched.Step(time.Minute)
	got := f.dir.Deliveries(notify.UserKey("u1"))
	require.Len(t, got, 1)
	require.Equal(t, notify.KindAlert, got[0].Message.Kind)
	require.Equal(t, "`bot-b1#0001 (b1)` has been offline for `1` minutes.", got[0].Message.Text)
	require.True(t, tgt.Snapshot().Notified)
}

func TestTarget_TimeoutAndDuplicateTick(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)
	f.dir.AddUser("u1")

	_, err := f.reg.Add(context.Background(), spec("b1", "u1", 10))
	require.NoError(t, err)
	f.sched.Flush() // offline detected at t0

	for i := 0; i < 5; i++ {
		f.sched.Step(time.Minute)
	}
	require.Empty(t, f.dir.Deliveries(""), "5 of 10 minutes")

	for i := 0; i < 5; i++ {
		f.sched.Step(time.Minute)
	}
	require.Equal(t, []string{"`bot-b1#0001 (b1)` has been offline for `10` minutes."}, texts(f.dir.Deliveries("")))

	// Same rounded downtime: no edit.
	f.sched.Step(10 * time.Second)
	require.Len(t, f.dir.Deliveries(""), 1)

	f.sched.Step(50 * time.Second)
	got := f.dir.Deliveries("")
	require.Len(t, got, 2)
	require.True(t, got[1].Edit)
	require.Equal(t, got[0].MessageID, got[1].MessageID)
	require.Equal(t, "`bot-b1#0001 (b1)` has been offline for `11` minutes.", got[1].Message.Text)
}

func TestTarget_RecoveryEditsNotification(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)
	f.dir.AddUser("u1")

	tgt, err := f.reg.Add(context.Background(), spec("b1", "u1", 1))
	require.NoError(t, err)
	f.sched.Flush()
	f.sched.Step(time.Minute)
	require.Len(t, f.dir.Deliveries(""), 1)

	f.account("b1", domain.StatusIdle)
	f.sched.Step(time.Minute)

	got := f.dir.Deliveries("")
	require.Len(t, got, 2)
	require.True(t, got[1].Edit)
	require.Equal(t, notify.KindRecovery, got[1].Message.Kind)
	require.Equal(t, "`bot-b1#0001 (b1)` is now back online!", got[1].Message.Text)

	snap := tgt.Snapshot()
	require.Equal(t, "watching", snap.Phase)
	require.Nil(t, snap.OfflineSince)
	require.False(t, snap.Notified)
	require.Equal(t, 1, f.sched.Active())

	f.sched.Step(time.Minute)
	require.Len(t, f.dir.Deliveries(""), 2)
}

func TestTarget_EditFallsBackToNewMessage(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)
	f.dir.AddUser("u1")

	_, err := f.reg.Add(context.Background(), spec("b1", "u1", 0))
	require.NoError(t, err)
	f.sched.Flush()
	f.sched.Step(time.Minute)
	first := f.dir.Deliveries("")[0]
	f.dir.DeleteMessage(first.MessageID)

	f.sched.Step(time.Minute)
	got := f.dir.Deliveries("")
	require.Len(t, got, 2)
	require.False(t, got[1].Edit)
	require.NotEqual(t, first.MessageID, got[1].MessageID)

	// The replacement becomes the active notification.
	f.sched.Step(time.Minute)
	got = f.dir.Deliveries("")
	require.Len(t, got, 3)
	require.True(t, got[2].Edit)
	require.Equal(t, got[1].MessageID, got[2].MessageID)
}

func TestTarget_AccountUnreachableWhileAlerting(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)
	f.dir.AddDestination("chan")
	f.dir.AddUser("u1")

	s := spec("b1", "u1", 0)
	s.Destination = "chan"
	_, err := f.reg.Add(context.Background(), s)
	require.NoError(t, err)
	f.sched.Flush()
	f.sched.Step(time.Minute)
	require.Len(t, f.dir.Deliveries(notify.DestinationKey("chan")), 1)

	f.src.Delete("b1")
	f.sched.Step(time.Minute)

	got := f.dir.Deliveries(notify.DestinationKey("chan"))
	require.Len(t, got, 2)
	require.Equal(t, notify.KindNotice, got[1].Message.Kind)
	require.Equal(t, "Target 'name-b1' (id: b1) has become unreachable: I've stopped watching it.", got[1].Message.Text)
	require.Empty(t, f.dir.Deliveries(notify.UserKey("u1")))

	require.Nil(t, f.reg.Find("b1", "u1"))
	require.Equal(t, domain.TargetList{}, f.stored(t))
	require.Equal(t, 0, f.sched.Active())
	require.Zero(t, f.owner.count(), "teardown is a per-target notice, not an operator alert")

	f.sched.Step(time.Minute)
	require.Len(t, f.dir.Deliveries(""), 2, "no callbacks after teardown")
}

func TestTarget_DestinationGoneFallsBackToIssuer(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOnline)
	f.dir.AddDestination("chan")
	f.dir.AddUser("u1")

	s := spec("b1", "u1", 0)
	s.Destination = "chan"
	tgt, err := f.reg.Add(context.Background(), s)
	require.NoError(t, err)
	f.sched.Flush()

	f.dir.RemoveDestination("chan")
	f.account("b1", domain.StatusOffline)
	f.sched.Step(time.Minute) // detected
	f.sched.Step(time.Minute) // notified

	user := f.dir.Deliveries(notify.UserKey("u1"))
	require.Len(t, user, 2)
	require.Equal(t, notify.KindNotice, user[0].Message.Kind)
	require.Equal(t, "The previous notification channel you set for bot-b1#0001 (b1) has become unreachable "+
		"(identifier: chan). From now on, notifications for this target will be sent here.", user[0].Message.Text)
	require.Equal(t, notify.KindAlert, user[1].Message.Kind)

	require.Equal(t, "", tgt.Spec().Destination)
	require.Equal(t, domain.TargetList{"u1": {spec("b1", "u1", 0)}}, f.stored(t))

	f.dir.AddDestination("chan") // coming back does not matter any more
	f.sched.Step(time.Minute)
	f.account("b1", domain.StatusOnline)
	f.sched.Step(time.Minute)

	require.Empty(t, f.dir.Deliveries(notify.DestinationKey("chan")))
	user = f.dir.Deliveries(notify.UserKey("u1"))
	require.Len(t, user, 4, "notice, alert, refresh, recovery")
	require.Equal(t, notify.KindRecovery, user[3].Message.Kind)
}

func TestTarget_IssuerUnreachableRemovesTarget(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)

	_, err := f.reg.Add(context.Background(), spec("b1", "u1", 0))
	require.NoError(t, err)
	f.sched.Flush()
	f.sched.Step(time.Minute)

	require.Empty(t, f.dir.Deliveries(""))
	require.Nil(t, f.reg.Find("b1", "u1"))
	require.Equal(t, 0, f.sched.Active())
	require.Equal(t, domain.TargetList{}, f.stored(t))
	require.Zero(t, f.owner.count())
}

func TestTarget_DisplayFallsBackToName(t *testing.T) {
	f := newFixture(t)
	tgt, err := f.reg.Add(context.Background(), spec("b1", "u1", 0))
	require.NoError(t, err)
	require.Equal(t, "name-b1", tgt.Display())
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) FetchAccount(ctx context.Context, id string) (domain.Account, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return domain.Account{ID: id, Status: domain.StatusOnline}, nil
}

func TestTarget_StopWaitsForRunningCheck(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	reg := NewRegistry(Options{
		Source:    src,
		Directory: notify.NewMemory(),
		Store:     memory.New(),
		Scheduler: scheduler.NewTicker(),
		Period:    time.Hour,
	})
	tgt, err := reg.Add(context.Background(), spec("b1", "u1", 0))
	require.NoError(t, err)
	<-src.entered

	stopped := make(chan struct{})
	go func() {
		tgt.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a check was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(src.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestTarget_TickerEndToEnd(t *testing.T) {
	src := presence.NewMemory(domain.Account{ID: "b1", Username: "bot", Status: domain.StatusOffline})
	dir := notify.NewMemory()
	dir.AddUser("u1")
	reg := NewRegistry(Options{
		Source:    src,
		Directory: dir,
		Store:     memory.New(),
		Scheduler: scheduler.NewTicker(),
		Period:    10 * time.Millisecond,
	})
	_, err := reg.Add(context.Background(), spec("b1", "u1", 0))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(dir.Deliveries("")) > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, reg.Remove(context.Background(), "u1", "b1", ""))

	n := len(dir.Deliveries(""))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, len(dir.Deliveries("")), "no deliveries after Remove")
}

func TestTarget_PersistErrorOnDestinationClearIsAlerted(t *testing.T) {
	f := newFixture(t)
	f.account("b1", domain.StatusOffline)
	f.dir.AddUser("u1")
	s := spec("b1", "u1", 0)
	s.Destination = "gone"
	_, err := f.reg.Add(context.Background(), s)
	require.NoError(t, err)
	f.sched.Flush()

	f.store.FailWrites(errors.New("read only"))
	f.sched.Step(time.Minute)

	require.Len(t, f.dir.Deliveries(notify.UserKey("u1")), 2)
	require.Equal(t, 1, f.owner.count())
	require.NotNil(t, f.reg.Find("b1", "u1"))
}
