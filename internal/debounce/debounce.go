// Package debounce provides trailing-edge timers whose pending call can be
// replaced or abandoned, plus a manual clock for driving them in tests.
package debounce

import (
	"sync"
	"time"
)

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through Real.
type AfterFunc func(d time.Duration, f func()) Timer

// Real schedules on the runtime timer.
func Real(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Debouncer runs only the most recently triggered call, wait after the last
// Trigger. Superseded and cancelled calls never run, even if their timer
// already fired and is waiting on the lock.
type Debouncer struct {
	mu    sync.Mutex
	after AfterFunc
	wait  time.Duration
	timer Timer
	gen   uint64
}

func New(wait time.Duration, after AfterFunc) *Debouncer {
	if after == nil {
		after = Real
	}
	return &Debouncer{after: after, wait: wait}
}

// Trigger (re)arms the timer with f, replacing any pending call.
func (d *Debouncer) Trigger(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.after(d.wait, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		f()
	})
}

// Cancel abandons the pending call. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
