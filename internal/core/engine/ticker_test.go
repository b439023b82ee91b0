package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newFakeTicker(rate int) (*Ticker, func(d time.Duration)) {
	t := NewTicker(rate)
	now := time.Unix(0, 0)
	t.now = func() time.Time { return now }
	advance := func(d time.Duration) { now = now.Add(d) }
	return t, advance
}

func TestTickerFirstPollOwesNothing(t *testing.T) {
	tk, _ := newFakeTicker(60)
	assert.Equal(t, 0, tk.Owed())
}

func TestTickerOwesOnePerInterval(t *testing.T) {
	tk, advance := newFakeTicker(10)
	tk.Owed()

	advance(100 * time.Millisecond)
	assert.Equal(t, 1, tk.Owed())

	advance(100 * time.Millisecond)
	assert.Equal(t, 1, tk.Owed())
}

func TestTickerCatchesUpAfterStall(t *testing.T) {
	tk, advance := newFakeTicker(10)
	tk.Owed()

	// A stalled loop owes every missed tick, not just one.
	advance(550 * time.Millisecond)
	assert.Equal(t, 5, tk.Owed())

	// The leftover half interval carries into the next poll.
	advance(50 * time.Millisecond)
	assert.Equal(t, 1, tk.Owed())
}

func TestTickerAccumulatesFractions(t *testing.T) {
	tk, advance := newFakeTicker(10)
	tk.Owed()

	advance(60 * time.Millisecond)
	assert.Equal(t, 0, tk.Owed())
	advance(60 * time.Millisecond)
	assert.Equal(t, 1, tk.Owed())
}

func TestTickerInterval(t *testing.T) {
	assert.Equal(t, 50*time.Millisecond, NewTicker(20).Interval())
}
