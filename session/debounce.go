package session

import "time"

// Debouncer runs fn once after interval has passed since the last Restart.
// It is owned by a single editor; Restart and Cancel must be called from
// the editor's event loop, and fn is delivered through dispatch onto it.
type Debouncer struct {
	clock    Clock
	interval time.Duration
	dispatch func(func())
	fn       func()

	timer Timer
	gen   uint64
}

// NewDebouncer creates an idle debouncer.
func NewDebouncer(clock Clock, interval time.Duration, dispatch func(func()), fn func()) *Debouncer {
	return &Debouncer{clock: clock, interval: interval, dispatch: dispatch, fn: fn}
}

// Restart cancels any pending run and schedules a new one.
func (d *Debouncer) Restart() {
	d.Cancel()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.interval, func() {
		d.dispatch(func() {
			// a Restart or Cancel after this timer fired supersedes it
			if d.gen != gen || d.timer == nil {
				return
			}
			d.timer = nil
			d.fn()
		})
	})
}

// Cancel drops the pending run, if any.
func (d *Debouncer) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool { return d.timer != nil }
