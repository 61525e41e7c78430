// Package clock abstracts time and timer scheduling so that the motion
// detector can run on wall-clock time in production and on virtual time in
// tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running again. It returns false if the
	// timer had already fired (one-shot) or been stopped. Stop is safe to
	// call more than once.
	Stop() bool
}

// Clock supplies the current time and schedules callbacks.
type Clock interface {
	Now() time.Time

	// AfterFunc runs fn once after d.
	AfterFunc(d time.Duration, fn func()) Timer

	// Every runs fn every d until the returned timer is stopped.
	Every(d time.Duration, fn func()) Timer
}

// Real is a Clock backed by the time package. Callbacks run on their own
// goroutines; callers serialize shared state themselves.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Every starts a ticker goroutine that calls fn on each tick.
func (Real) Every(d time.Duration, fn func()) Timer {
	t := &ticker{stop: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-tk.C:
				select {
				case <-t.stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return t
}

type ticker struct {
	once sync.Once
	stop chan struct{}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stop)
		stopped = true
	})
	return stopped
}
