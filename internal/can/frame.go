package can

import (
	"errors"
	"fmt"
)

// CBUS uses standard 11-bit identifiers: a four bit priority above a seven
// bit CAN id.
const (
	MaxID           = 0x7FF
	CanIDMask       = 0x7F
	PriorityShift   = 7
	DefaultPriority = 0xB // major 2 (low), minor 3 (normal)
	MaxCanID        = 99
	MinCanID        = 1
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
	ErrClosed     = errors.New("can: port closed")
)

// Frame is a classical CAN frame restricted to the standard identifiers
// CBUS uses.
type Frame struct {
	ID   uint16
	RTR  bool
	Len  uint8
	Data [8]byte
}

// Header builds the 11-bit identifier for a priority and CAN id.
func Header(priority, canID uint8) uint16 {
	return uint16(priority&0x0F)<<PriorityShift | uint16(canID&CanIDMask)
}

// NewFrame builds a data frame. It panics if data exceeds eight bytes.
func NewFrame(priority, canID uint8, data []byte) Frame {
	if len(data) > 8 {
		panic(ErrInvalidLen)
	}
	f := Frame{ID: Header(priority, canID), Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	if f.ID > MaxID {
		return ErrInvalidID
	}
	return nil
}

// CanID returns the sender's seven bit CAN id.
func (f Frame) CanID() uint8 {
	return uint8(f.ID & CanIDMask)
}

func (f Frame) Priority() uint8 {
	return uint8(f.ID >> PriorityShift)
}

// Payload returns the valid data bytes.
func (f Frame) Payload() []byte {
	return f.Data[:f.Len]
}

func (f Frame) String() string {
	if f.RTR {
		return fmt.Sprintf("%03X [R]", f.ID)
	}
	return fmt.Sprintf("%03X [%d] % X", f.ID, f.Len, f.Data[:f.Len])
}

// Port is the transmit side of a CAN driver. Transmit enqueues and must not
// block on bus arbitration.
type Port interface {
	Transmit(f Frame) error
}
