// Package debounce coalesces bursts of calls into a single delayed call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered function once no new trigger
// has arrived for the configured delay. Earlier pending functions are
// dropped, not queued.
type Debouncer struct {
	delay time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	pending    func()
	generation uint64
	stopped    bool
}

func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any call that has not run yet. It returns
// false once the debouncer is stopped.
func (d *Debouncer) Trigger(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	d.pending = fn
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
	return true
}

// fire runs the pending call if no later trigger superseded generation gen.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.generation || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	fn()
}

// Flush runs the pending call immediately on the calling goroutine. It
// reports whether there was one.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.pending == nil || d.stopped {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	fn()
	return true
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop cancels pending work. Later triggers are rejected.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = nil
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
