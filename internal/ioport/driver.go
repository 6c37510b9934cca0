package ioport

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

type channel struct {
	pin      gpio.Pin
	settings Settings
	state    behaviour
	value    uint8 // last commanded value, as persisted
}

// Driver runs the module's IOs. Every method belongs to the main loop.
type Driver struct {
	ios      [gpio.NumIO]channel
	ee       nvm.EEPROM
	clock    tick.Source
	debounce tick.Tick
	lastStep tick.Tick
}

func New(pins [gpio.NumIO]gpio.Pin, ee nvm.EEPROM, clock tick.Source) *Driver {
	d := &Driver{ee: ee, clock: clock, lastStep: clock.Now()}
	for i := range d.ios {
		d.ios[i].pin = pins[i]
		d.ios[i].state = &inputState{}
	}
	return d
}

// SetDebounce sets how long an input must be stable before it changes.
func (d *Driver) SetDebounce(ms uint8) {
	d.debounce = tick.Tick(ms)
}

func (d *Driver) channel(i int) (*channel, error) {
	if i < 0 || i >= gpio.NumIO {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIO, i)
	}
	return &d.ios[i], nil
}

// Configure re-initialises io i. Outputs of every kind come back at their
// last persisted value.
func (d *Driver) Configure(i int, s Settings) error {
	ch, err := d.channel(i)
	if err != nil {
		return err
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidType, s.Type)
	}
	ch.settings = s

	if err := ch.pin.SetDirection(s.Type.Drives()); err != nil {
		return fmt.Errorf("configure io %d as %s: %w", i, s.Type, err)
	}

	if s.Type == Input {
		level, err := d.readInput(ch)
		if err != nil {
			return err
		}
		ch.state = &inputState{stable: level, candidate: level, since: d.clock.Now()}
		return nil
	}

	saved, err := d.ee.ReadEE(nvm.EEOpState + uint16(i))
	if err != nil {
		return fmt.Errorf("restore io %d: %w", i, err)
	}
	ch.value = saved

	switch s.Type {
	case Output:
		ch.state = &outputState{on: saved != 0}
	case Servo:
		ch.state = newServo(s.Params, saved)
	case Bounce:
		ch.state = newBounce(s.Params, saved)
	}
	log.Debug().Int("io", i).Str("type", s.Type.String()).Uint8("value", saved).Msg("IO configured")
	return d.drive(ch)
}

// SetOutput commands io i. The value is persisted before the pin changes:
// 0 or not 0 for Output and Bounce, a position for Servo.
func (d *Driver) SetOutput(i int, value uint8) error {
	ch, err := d.channel(i)
	if err != nil {
		return err
	}
	if ch.state.kind() == Input {
		return ErrNotAnOutput
	}
	if value != ch.value {
		if err := d.ee.WriteEE(nvm.EEOpState+uint16(i), value); err != nil {
			return fmt.Errorf("persist io %d: %w", i, err)
		}
		ch.value = value
	}
	if err := ch.state.set(value); err != nil {
		return err
	}
	if ch.state.kind() == Output {
		return d.drive(ch)
	}
	return nil
}

func (d *Driver) drive(ch *channel) error {
	switch ch.state.kind() {
	case Output:
		on := ch.state.position() != 0
		return ch.pin.Set(on != ch.settings.Invert)
	case Servo, Bounce:
		return drivePosition(ch.pin.DigitalPin, ch.state.position())
	}
	return nil
}

// Step advances servo and bounce motion, once per StepInterval. It never
// blocks.
func (d *Driver) Step() {
	now := d.clock.Now()
	if tick.Since(d.clock, d.lastStep) < StepInterval {
		return
	}
	d.lastStep = now
	for i := range d.ios {
		ch := &d.ios[i]
		if !ch.state.step() {
			continue
		}
		if err := d.drive(ch); err != nil {
			log.Error().Err(err).Int("io", i).Msg("Failed to drive IO")
		}
	}
}

func (d *Driver) readInput(ch *channel) (bool, error) {
	level, err := ch.pin.Read()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", ch.pin.Config, err)
	}
	return level != ch.settings.Invert, nil
}

// Scan samples every input and returns those that changed after debounce.
func (d *Driver) Scan() []Change {
	var changes []Change
	now := d.clock.Now()
	for i := range d.ios {
		ch := &d.ios[i]
		in, ok := ch.state.(*inputState)
		if !ok {
			continue
		}
		level, err := d.readInput(ch)
		if err != nil {
			log.Error().Err(err).Int("io", i).Msg("Failed to read input")
			continue
		}
		if level != in.candidate {
			in.candidate = level
			in.since = now
		}
		if in.candidate != in.stable && tick.Since(d.clock, in.since) >= d.debounce {
			in.stable = in.candidate
			changes = append(changes, Change{IO: i, On: in.stable})
		}
	}
	return changes
}

func (d *Driver) Type(i int) Type {
	ch, err := d.channel(i)
	if err != nil {
		return Input
	}
	return ch.state.kind()
}

// Value returns the last commanded value of an output, or the debounced
// level of an input as 0 or 1.
func (d *Driver) Value(i int) uint8 {
	ch, err := d.channel(i)
	if err != nil {
		return 0
	}
	if ch.state.kind() == Input {
		return ch.state.position()
	}
	return ch.value
}

func (d *Driver) Settings(i int) Settings {
	ch, err := d.channel(i)
	if err != nil {
		return Settings{}
	}
	return ch.settings
}

func (d *Driver) Status() []Status {
	out := make([]Status, 0, gpio.NumIO)
	for i := range d.ios {
		ch := &d.ios[i]
		out = append(out, Status{
			IO:       i,
			Pin:      ch.pin.Config.String(),
			Type:     ch.state.kind().String(),
			Invert:   ch.settings.Invert,
			Value:    d.Value(i),
			Position: ch.state.position(),
			Moving:   ch.state.moving(),
		})
	}
	return out
}
