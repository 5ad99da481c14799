package scheduler

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler and Clock. Nothing runs on its own:
// Flush runs pending immediate callbacks and Step fires every active task
// once, standing in for one poll period.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*manualTask
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) Every(_ time.Duration, immediate bool, fn func()) Task {
	t := &manualTask{m: m, fn: fn}
	if immediate {
		t.pending = 1
	}
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	return t
}

// Step advances the clock by d and fires each task that is active at the
// start of the step once. Immediate runs scheduled by those callbacks are
// flushed before Step returns.
func (m *Manual) Step(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	for _, t := range m.tasks {
		if !t.stopped {
			t.pending++
		}
	}
	m.mu.Unlock()
	m.Flush()
}

// Flush runs pending callbacks until none are left.
func (m *Manual) Flush() {
	for {
		t := m.nextPending()
		if t == nil {
			return
		}
		t.fn()
	}
}

// Active returns the number of tasks that have not been stopped.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) nextPending() *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.tasks[:0]
	var next *manualTask
	for _, t := range m.tasks {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if next == nil && t.pending > 0 {
			next = t
		}
	}
	m.tasks = live
	if next != nil {
		next.pending--
	}
	return next
}

type manualTask struct {
	m       *Manual
	fn      func()
	pending int
	stopped bool
}

func (t *manualTask) Stop() { t.Cancel() }

func (t *manualTask) Cancel() {
	t.m.mu.Lock()
	t.stopped = true
	t.pending = 0
	t.m.mu.Unlock()
}
