package ioport

import (
	"time"

	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

// StepInterval is the servo frame period.
const StepInterval tick.Tick = 20

// behaviour is the per-type state of an IO. Exactly one implementation
// exists per Type.
type behaviour interface {
	kind() Type
	// set commands a new value. Input returns ErrNotAnOutput.
	set(value uint8) error
	// step advances any motion by one StepInterval and reports whether the
	// pin must be redriven.
	step() bool
	position() uint8
	moving() bool
}

type inputState struct {
	stable    bool
	candidate bool
	since     tick.Tick
}

func (s *inputState) kind() Type      { return Input }
func (s *inputState) set(uint8) error { return ErrNotAnOutput }
func (s *inputState) step() bool      { return false }
func (s *inputState) moving() bool    { return false }
func (s *inputState) position() uint8 {
	if s.stable {
		return 1
	}
	return 0
}

type outputState struct {
	on bool
}

func (s *outputState) kind() Type { return Output }
func (s *outputState) set(v uint8) error {
	s.on = v != 0
	return nil
}
func (s *outputState) step() bool   { return false }
func (s *outputState) moving() bool { return false }
func (s *outputState) position() uint8 {
	if s.on {
		return 1
	}
	return 0
}

type servoState struct {
	current, target    uint8
	upSpeed, downSpeed uint8
}

func newServo(p [NumParams]byte, at uint8) *servoState {
	return &servoState{
		current:   at,
		target:    at,
		upSpeed:   speed(p[ServoOnSpeed]),
		downSpeed: speed(p[ServoOffSpeed]),
	}
}

func speed(v byte) uint8 {
	if v == 0 {
		return 1
	}
	return v
}

func (s *servoState) kind() Type { return Servo }
func (s *servoState) set(v uint8) error {
	s.target = v
	return nil
}
func (s *servoState) moving() bool    { return s.current != s.target }
func (s *servoState) position() uint8 { return s.current }
func (s *servoState) step() bool {
	if s.current == s.target {
		return false
	}
	s.current = approach(s.current, s.target, s.upSpeed, s.downSpeed)
	return true
}

// approach moves cur toward target by at most up (rising) or down (falling).
func approach(cur, target, up, down uint8) uint8 {
	if cur < target {
		if int(target)-int(cur) <= int(up) {
			return target
		}
		return cur + up
	}
	if int(cur)-int(target) <= int(down) {
		return target
	}
	return cur - down
}

type bouncePhase uint8

const (
	bounceIdle bouncePhase = iota
	bouncePulling
	bounceWaiting
	bounceFalling
)

// bounceState pulls slowly to the upper position when on. When off it waits
// the pause, drops to the lower position and rebounds by a shrinking
// amplitude until the rebound is under two units.
type bounceState struct {
	upper, lower uint8
	coefficient  uint8
	pullSpeed    uint8
	pause        int

	phase     bouncePhase
	current   uint8
	on        bool
	wait      int
	amplitude int
	up        bool
}

func newBounce(p [NumParams]byte, at uint8) *bounceState {
	b := &bounceState{
		upper:       p[BounceUpper],
		lower:       p[BounceLower],
		coefficient: p[BounceCoefficient],
		pullSpeed:   speed(p[BouncePullSpeed]),
		// pause is in 10 ms units, steps are 20 ms
		pause: int(p[BouncePause]) / 2,
	}
	b.on = at != 0
	b.current = b.lower
	if b.on {
		b.current = b.upper
	}
	return b
}

func (b *bounceState) kind() Type      { return Bounce }
func (b *bounceState) position() uint8 { return b.current }
func (b *bounceState) moving() bool    { return b.phase != bounceIdle }

func (b *bounceState) set(v uint8) error {
	on := v != 0
	if on == b.on && b.phase == bounceIdle {
		return nil
	}
	b.on = on
	if on {
		b.phase = bouncePulling
		return nil
	}
	b.phase = bounceWaiting
	b.wait = b.pause
	return nil
}

func (b *bounceState) step() bool {
	switch b.phase {
	case bouncePulling:
		b.current = approach(b.current, b.upper, b.pullSpeed, b.pullSpeed)
		if b.current == b.upper {
			b.phase = bounceIdle
		}
		return true
	case bounceWaiting:
		if b.wait > 0 {
			b.wait--
			return false
		}
		b.current = b.lower
		b.amplitude = absDiff(b.upper, b.lower) * int(b.coefficient) / 256
		b.up = true
		b.phase = bounceFalling
		return true
	case bounceFalling:
		if b.amplitude < 2 {
			b.current = b.lower
			b.phase = bounceIdle
			return true
		}
		if b.up {
			b.current = offset(b.lower, b.upper, b.amplitude)
		} else {
			b.current = b.lower
			b.amplitude = b.amplitude * int(b.coefficient) / 256
		}
		b.up = !b.up
		return true
	}
	return false
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// offset moves from toward dir by n.
func offset(from, dir uint8, n int) uint8 {
	if dir >= from {
		return uint8(int(from) + n)
	}
	return uint8(int(from) - n)
}

// pulseWidth maps a position onto the 1 to 2 ms servo pulse.
func pulseWidth(pos uint8) time.Duration {
	return time.Millisecond + time.Duration(pos)*time.Millisecond/255
}

// drive puts a position on the pin, as a pulse where the pin can make one.
func drivePosition(p gpio.DigitalPin, pos uint8) error {
	if pp, ok := p.(gpio.PulsePin); ok {
		return pp.SetPulse(pulseWidth(pos))
	}
	return p.Set(pos >= 128)
}
