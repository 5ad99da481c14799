package scheduler

import (
	"sync"
	"time"
)

const minPeriod = 10 * time.Millisecond

// Ticker runs every task on its own goroutine driven by a time.Ticker.
type Ticker struct{}

func NewTicker() *Ticker { return &Ticker{} }

func (Ticker) Every(period time.Duration, immediate bool, fn func()) Task {
	if period < minPeriod {
		period = minPeriod
	}
	t := &tickerTask{
		fn:     fn,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go t.run(period, immediate)
	return t
}

type tickerTask struct {
	fn func()

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
	exited  chan struct{}
}

func (t *tickerTask) run(period time.Duration, immediate bool) {
	defer close(t.exited)

	tk := time.NewTicker(period)
	defer tk.Stop()

	if immediate && !t.fire() {
		return
	}
	for {
		select {
		case <-t.done:
			return
		case <-tk.C:
			if !t.fire() {
				return
			}
		}
	}
}

// fire runs the callback unless the task was deactivated in the meantime.
func (t *tickerTask) fire() bool {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return false
	}
	t.fn()
	return true
}

func (t *tickerTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.done)
}

func (t *tickerTask) Stop() {
	t.Cancel()
	<-t.exited
}
