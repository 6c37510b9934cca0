package startup

import (
	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

// SettleTime is how long every node waits after power-up before it
// announces itself.
const SettleTime = tick.TwoSeconds

// Sequencer delays the start of day until the bus has settled. It fires
// once per power cycle and never blocks; message reception continues while
// it waits.
type Sequencer struct {
	clock   tick.Source
	boot    tick.Tick
	started bool
}

func NewSequencer(clock tick.Source) *Sequencer {
	return &Sequencer{clock: clock, boot: clock.Now()}
}

// Delay is the total wait for an extra delay in units of 100 ms.
func Delay(extra uint8) tick.Tick {
	return SettleTime + tick.Tick(extra)*tick.HundredMilliseconds
}

// Poll checks the delay. On the call where it expires, sod runs if
// announce is set, and Poll reports true.
func (s *Sequencer) Poll(extra uint8, announce bool, sod func()) bool {
	if s.started || tick.Since(s.clock, s.boot) < Delay(extra) {
		return false
	}
	s.started = true
	log.Info().Uint32("after_ms", uint32(tick.Since(s.clock, s.boot))).Bool("sod", announce).Msg("Start of day")
	if announce && sod != nil {
		sod()
	}
	return true
}

func (s *Sequencer) Started() bool {
	return s.started
}
