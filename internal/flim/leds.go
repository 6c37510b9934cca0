package flim

import (
	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

// FlashPeriod is the on or off time of a flashing LED.
const FlashPeriod tick.Tick = 500

// leds shows the mode: green in SLiM, yellow in FLiM, yellow flashing in
// setup and learn. Pins are only written on change.
type leds struct {
	green, yellow gpio.DigitalPin
	state         [2]int8 // -1 unknown
	init          bool
}

func (l *leds) show(mode Mode, now tick.Tick) {
	var green, yellow bool
	switch mode {
	case SLiM:
		green = true
	case FLiM:
		yellow = true
	case SetupPending, Learn:
		yellow = (now/FlashPeriod)%2 == 0
	}
	l.write(0, l.green, green)
	l.write(1, l.yellow, yellow)
}

func (l *leds) write(i int, pin gpio.DigitalPin, on bool) {
	if pin == nil {
		return
	}
	if !l.init {
		l.state = [2]int8{-1, -1}
		l.init = true
	}
	want := int8(0)
	if on {
		want = 1
	}
	if l.state[i] == want {
		return
	}
	if l.state[i] < 0 {
		if err := pin.SetDirection(true); err != nil {
			log.Error().Err(err).Msg("Failed to configure status LED")
			return
		}
	}
	if err := pin.Set(on); err != nil {
		log.Error().Err(err).Msg("Failed to set status LED")
		return
	}
	l.state[i] = want
}
