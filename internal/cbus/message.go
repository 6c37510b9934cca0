package cbus

import (
	"errors"
	"fmt"
)

// MaxLen is the largest CBUS message: opcode plus seven data bytes.
const MaxLen = 8

var ErrShortMessage = errors.New("cbus: message shorter than its opcode requires")

// Message is one CBUS message: Data[0] is the opcode, followed by
// Opcode().DataLen() data bytes.
type Message struct {
	Len  uint8
	Data [MaxLen]byte
}

// Parse decodes a received payload. Trailing bytes beyond the opcode's
// declared length are ignored.
func Parse(b []byte) (Message, error) {
	var m Message
	if len(b) == 0 {
		return m, ErrShortMessage
	}
	n := 1 + Opcode(b[0]).DataLen()
	if len(b) < n {
		return m, fmt.Errorf("opcode 0x%02X wants %d bytes, got %d: %w", b[0], n, len(b), ErrShortMessage)
	}
	m.Len = uint8(n)
	copy(m.Data[:], b[:n])
	return m, nil
}

// New builds a message. Missing data bytes are zero, extra ones are dropped.
func New(op Opcode, data ...byte) Message {
	var m Message
	m.Data[0] = byte(op)
	m.Len = uint8(1 + op.DataLen())
	copy(m.Data[1:m.Len], data)
	return m
}

// NewNN builds a message whose first two data bytes are a node number.
func NewNN(op Opcode, nn uint16, data ...byte) Message {
	b := make([]byte, 0, 2+len(data))
	b = append(b, byte(nn>>8), byte(nn))
	b = append(b, data...)
	return New(op, b...)
}

// NewEvent builds an event message carrying a node number and event number.
func NewEvent(op Opcode, nn, en uint16, data ...byte) Message {
	b := make([]byte, 0, 2+len(data))
	b = append(b, byte(en>>8), byte(en))
	b = append(b, data...)
	return NewNN(op, nn, b...)
}

func (m Message) Opcode() Opcode {
	return Opcode(m.Data[0])
}

// Bytes returns the encoded message.
func (m Message) Bytes() []byte {
	return m.Data[:m.Len]
}

// Byte returns data byte i, counting the opcode as byte 0.
func (m Message) Byte(i int) byte {
	return m.Data[i]
}

// Word returns the big-endian word stored at byte i and i+1.
func (m Message) Word(i int) uint16 {
	return uint16(m.Data[i])<<8 | uint16(m.Data[i+1])
}

// NN returns the node number carried in bytes 1 and 2.
func (m Message) NN() uint16 {
	return m.Word(1)
}

// EN returns the event number carried in bytes 3 and 4.
func (m Message) EN() uint16 {
	return m.Word(3)
}

func (m Message) String() string {
	return fmt.Sprintf("%02X % X", m.Data[0], m.Data[1:m.Len])
}

// EventKind describes how an accessory event opcode is to be interpreted.
type EventKind struct {
	On    bool
	Short bool
}

// Event reports whether op is an accessory event (including responses) and
// how it must be matched. Request opcodes (AREQ, ASRQ) are not events.
func Event(op Opcode) (EventKind, bool) {
	switch op {
	case OpACON, OpACON1, OpACON2, OpACON3, OpARON, OpARON1, OpARON2, OpARON3:
		return EventKind{On: true}, true
	case OpACOF, OpACOF1, OpACOF2, OpACOF3, OpAROF, OpAROF1, OpAROF2, OpAROF3:
		return EventKind{On: false}, true
	case OpASON, OpASON1, OpASON2, OpASON3, OpARSON, OpARSON1, OpARSON2, OpARSON3:
		return EventKind{On: true, Short: true}, true
	case OpASOF, OpASOF1, OpASOF2, OpASOF3, OpARSOF, OpARSOF1, OpARSOF2, OpARSOF3:
		return EventKind{On: false, Short: true}, true
	}
	return EventKind{}, false
}

// EventOpcode returns the plain (no trailing data) event opcode for a kind.
func EventOpcode(k EventKind) Opcode {
	switch {
	case k.Short && k.On:
		return OpASON
	case k.Short:
		return OpASOF
	case k.On:
		return OpACON
	default:
		return OpACOF
	}
}
