package reactor

// OnWakeup is invoked when a Deferred's timer fires. By the time it runs,
// the Deferred's timer field has already been nulled, so the callback may
// freely re-arm it with CallLater.
type OnWakeup func(d *Deferred)

// Deferred is a user-owned "call me back in N ms" handle. It is cancel-safe:
// cancelling an unarmed or already-cancelled Deferred is a no-op, and
// cancelling an armed one only detaches it from its Timer; the scheduler
// reclaims the Timer's memory the next time it is observed (on fire or
// during a heap-head scan).
type Deferred struct {
	scheduler *Scheduler
	timer     *Timer
	priority  uint
	onWakeup  OnWakeup
}

// NewDeferred creates a Deferred bound to scheduler, invoking onWakeup when
// it fires. priority only affects ordering among zero-delay (ms == 0)
// timers; higher values fire first, ties are FIFO by scheduling order.
func NewDeferred(scheduler *Scheduler, priority uint, onWakeup OnWakeup) *Deferred {
	return &Deferred{scheduler: scheduler, priority: priority, onWakeup: onWakeup}
}

// Armed reports whether this Deferred currently has a live Timer.
func (d *Deferred) Armed() bool { return d.timer != nil }

// CallLater arms the Deferred to fire after ms milliseconds (0 meaning
// "zero-delay", the highest scheduling priority class). If reset is true,
// any existing timer is cancelled first and a fresh one is always armed;
// otherwise calling CallLater while already armed is a no-op.
func (d *Deferred) CallLater(ms int64, reset bool) {
	if reset {
		d.Cancel()
	} else if d.timer != nil {
		return
	}
	d.timer = d.scheduler.callLater(ms, d)
}

// Cancel detaches this Deferred from its Timer, if any. The Timer's
// memory is reclaimed lazily by the scheduler.
func (d *Deferred) Cancel() {
	if d.timer == nil {
		return
	}
	d.timer.deferred = nil
	d.timer = nil
}

// fire is the scheduler's wakeup entry point: the timer field is nulled first (the
// scheduler already did this for the Timer side; this mirrors it for the
// Deferred side defensively) before the user callback runs.
func (d *Deferred) fire() {
	d.timer = nil
	if d.onWakeup != nil {
		d.onWakeup(d)
	}
}
