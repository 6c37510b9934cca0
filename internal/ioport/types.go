package ioport

import (
	"errors"
	"fmt"
)

// Type selects an IO's behaviour.
type Type uint8

const (
	Input Type = iota
	Output
	Servo
	Bounce
)

func (t Type) Valid() bool {
	return t <= Bounce
}

// Drives reports whether the IO is an output of any kind.
func (t Type) Drives() bool {
	return t != Input && t.Valid()
}

func (t Type) String() string {
	switch t {
	case Input:
		return "input"
	case Output:
		return "output"
	case Servo:
		return "servo"
	case Bounce:
		return "bounce"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

var (
	ErrNotAnOutput = errors.New("ioport: not an output")
	ErrInvalidIO   = errors.New("ioport: no such io")
	ErrInvalidType = errors.New("ioport: unknown io type")
)

// Params positions within Settings.Params.
const (
	// servo
	ServoOnPosition  = 0
	ServoOffPosition = 1
	ServoOnSpeed     = 2
	ServoOffSpeed    = 3

	// bounce
	BounceUpper       = 0
	BounceLower       = 1
	BounceCoefficient = 2
	BouncePullSpeed   = 3
	BouncePause       = 4

	NumParams = 5
)

// Settings is an IO's configuration as held in its node variables.
type Settings struct {
	Type   Type
	Invert bool
	Params [NumParams]byte
}

// DefaultParams is what an IO's parameters are reset to when its type
// changes.
func DefaultParams(t Type) [NumParams]byte {
	switch t {
	case Servo:
		return [NumParams]byte{200, 55, 5, 5, 0}
	case Bounce:
		return [NumParams]byte{200, 55, 160, 5, 50}
	}
	return [NumParams]byte{}
}

// Status describes one IO for diagnostics.
type Status struct {
	IO       int    `json:"io"`
	Pin      string `json:"pin"`
	Type     string `json:"type"`
	Invert   bool   `json:"invert"`
	Value    uint8  `json:"value"`
	Position uint8  `json:"position"`
	Moving   bool   `json:"moving"`
}

// Change is a debounced input transition.
type Change struct {
	IO int
	On bool
}
