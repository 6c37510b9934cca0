package flim

import (
	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

// Switch timing.
const (
	SwitchDebounce tick.Tick = 50
	SetupHold      tick.Tick = 4 * tick.OneSecond
	ReleaseHold    tick.Tick = 8 * tick.OneSecond
)

// button debounces the mode switch. The switch pulls its line low.
type button struct {
	pin       gpio.DigitalPin
	stable    bool // pressed
	candidate bool
	since     tick.Tick
	pressedAt tick.Tick
	handled   bool
}

// sample returns the debounced state and whether it changed.
func (b *button) sample(now tick.Tick, clock tick.Source) (pressed, changed bool) {
	level, err := b.pin.Read()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read mode switch")
		return b.stable, false
	}
	raw := !level
	if raw != b.candidate {
		b.candidate = raw
		b.since = now
	}
	if b.candidate != b.stable && tick.Since(clock, b.since) >= SwitchDebounce {
		b.stable = b.candidate
		return b.stable, true
	}
	return b.stable, false
}

func (m *Machine) pollSwitch() {
	b := &m.sw
	if b.pin == nil {
		return
	}
	now := m.clock.Now()
	pressed, changed := b.sample(now, m.clock)

	if changed && pressed {
		b.pressedAt = now
		b.handled = false
		if m.mode == SetupPending {
			b.handled = true
			log.Info().Msg("Setup aborted from switch")
			m.AbortSetup()
		}
		return
	}

	held := tick.Since(m.clock, b.pressedAt)
	if pressed && !b.handled {
		switch {
		case m.mode == SLiM && held >= SetupHold:
			b.handled = true
			m.RequestSetup()
		case m.mode.Numbered() && held >= ReleaseHold:
			b.handled = true
			m.Release()
		}
		return
	}

	if changed && !pressed && !b.handled && held < SetupHold {
		b.handled = true
		switch m.mode {
		case FLiM:
			m.RequestSetup()
		case Learn:
			m.set(FLiM, m.nn)
		}
	}
}
