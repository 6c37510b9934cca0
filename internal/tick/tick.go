package tick

import (
	"context"
	"sync/atomic"
	"time"
)

// Tick is a millisecond count since the counter started. It wraps after
// about 49 days; Since handles the wrap.
type Tick uint32

// Common durations in ticks.
const (
	HundredMilliseconds Tick = 100
	OneSecond           Tick = 1000
	TwoSeconds          Tick = 2000
)

// Source is the monotonic tick service the node reads.
type Source interface {
	Now() Tick
}

// Since returns the ticks elapsed from start to now, wrap-safe.
func Since(src Source, start Tick) Tick {
	return src.Now() - start
}

// Counter is a tick source advanced from the timer context. Reads and the
// increment are atomic, so the main loop never sees a torn value.
type Counter struct {
	ticks atomic.Uint32
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) Now() Tick {
	return Tick(c.ticks.Load())
}

// Advance adds n milliseconds.
func (c *Counter) Advance(n Tick) {
	c.ticks.Add(uint32(n))
}

// Run advances the counter from a time.Ticker until ctx is done. It is the
// timer interrupt of a hosted node.
func (c *Counter) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = time.Millisecond
	}
	step := Tick(period / time.Millisecond)
	if step == 0 {
		step = 1
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Advance(step)
		}
	}
}
