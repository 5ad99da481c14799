// Package scheduler provides cancellable periodic tasks. Each tracked target
// owns at most one task at a time; there is no global run queue.
package scheduler

import "time"

// Task is the handle of one periodic loop.
type Task interface {
	// Stop deactivates the loop and blocks until an in-flight callback has
	// returned. It must not be called from the task's own callback.
	Stop()
	// Cancel deactivates the loop without waiting. Use it from inside the
	// task's own callback.
	Cancel()
}

// Scheduler starts periodic tasks. When immediate is true fn also runs once
// right away, without waiting for the first period to elapse.
type Scheduler interface {
	Every(period time.Duration, immediate bool, fn func()) Task
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
