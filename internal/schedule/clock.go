package schedule

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source for the registry and executor.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the part of time.Timer the scheduler uses. C is nil for timers
// made by AfterFunc.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// RealClock uses the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// FakeClock is a manually advanced Clock. Timers fire during Advance, in
// deadline order; AfterFunc callbacks run on the advancing goroutine.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFakeClock returns a FakeClock reading now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

type fakeTimer struct {
	clock  *FakeClock
	when   time.Time
	ch     chan time.Time
	fn     func()
	active bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) NewTimer(d time.Duration) Timer {
	return c.add(d, make(chan time.Time, 1), nil)
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, nil, f)
}

func (c *FakeClock) add(d time.Duration, ch chan time.Time, fn func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), ch: ch, fn: fn, active: true}
	c.timers = append(c.timers, t)
	if d <= 0 {
		if fn := c.fireLocked(t); fn != nil {
			go fn()
		}
	}
	return t
}

// Advance moves the clock forward and fires every timer that came due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*fakeTimer
	kept := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case !t.active:
		case !t.when.After(now):
			due = append(due, t)
		default:
			kept = append(kept, t)
		}
	}
	c.timers = kept
	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })

	var funcs []func()
	for _, t := range due {
		if fn := c.fireLocked(t); fn != nil {
			funcs = append(funcs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range funcs {
		fn()
	}
}

// fireLocked deactivates t and signals its channel. AfterFunc callbacks are
// returned for the caller to run without the lock.
func (c *FakeClock) fireLocked(t *fakeTimer) func() {
	t.active = false
	if t.ch != nil {
		select {
		case t.ch <- c.now:
		default:
		}
		return nil
	}
	return t.fn
}

// Pending reports how many timers are armed.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.active {
			n++
		}
	}
	return n
}
