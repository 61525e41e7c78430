package clock

import (
	"sync"
	"time"
)

// Fake is a Clock driven manually through Advance. Timers fire on the
// goroutine calling Advance, in deadline order; timers due at the same
// instant fire in the order they were (re)scheduled.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *Fake
	at      time.Time
	every   time.Duration
	seq     uint64
	fn      func()
	stopped bool
}

// NewFake creates a Fake clock reading start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules fn to run once when the virtual time reaches now+d.
func (c *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return c.schedule(d, 0, fn)
}

// Every schedules fn every d of virtual time. It panics if d is not positive,
// like time.NewTicker.
func (c *Fake) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}
	return c.schedule(d, d, fn)
}

func (c *Fake) schedule(d, every time.Duration, fn func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{
		clock: c,
		at:    c.now.Add(d),
		every: every,
		seq:   c.seq,
		fn:    fn,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the virtual time forward by d, firing every timer that
// becomes due. Callbacks may schedule or stop timers; those due before the
// new time also fire.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	for {
		t := c.nextLocked(end)
		if t == nil {
			break
		}
		c.now = t.at
		if t.every > 0 {
			c.seq++
			t.seq = c.seq
			t.at = t.at.Add(t.every)
		} else {
			c.removeLocked(t)
			t.stopped = true
		}
		c.mu.Unlock()
		t.fn()
		c.mu.Lock()
	}
	if end.After(c.now) {
		c.now = end
	}
	c.mu.Unlock()
}

// Pending returns the number of outstanding timers.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Fake) nextLocked(end time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.at.After(end) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (c *Fake) removeLocked(t *fakeTimer) {
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Stop cancels the timer.
func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	c.removeLocked(t)
	return true
}
