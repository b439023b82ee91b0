package engine

import "time"

// Ticker converts wall-clock time into a fixed-rate tick count. Time that
// passes between polls accumulates, so a stalled loop owes every missed
// tick and catches up by running them back to back; ticks are never
// skipped.
type Ticker struct {
	interval time.Duration
	now      func() time.Time

	last    time.Time
	acc     time.Duration
	started bool
}

func NewTicker(rate int) *Ticker {
	return &Ticker{
		interval: time.Second / time.Duration(rate),
		now:      time.Now,
	}
}

// Interval is the duration of one tick.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Owed advances the accumulator and returns how many ticks are due. The
// first call arms the clock and owes nothing.
func (t *Ticker) Owed() int {
	now := t.now()
	if !t.started {
		t.started = true
		t.last = now
		return 0
	}

	t.acc += now.Sub(t.last)
	t.last = now

	owed := int(t.acc / t.interval)
	t.acc -= time.Duration(owed) * t.interval
	return owed
}

// Wait sleeps until at least one tick is due, then returns the owed count.
func (t *Ticker) Wait() int {
	for {
		if owed := t.Owed(); owed > 0 {
			return owed
		}
		remaining := t.interval - t.acc
		time.Sleep(remaining)
	}
}
