package nvm

import (
	"errors"
	"fmt"
)

// Sizes of the two memories a node persists to.
const (
	EEPROMSize     = 1024
	FlashSize      = 0x8000
	FlashBlockSize = 64
	Erased         = 0xFF
)

// EEPROM layout. Offsets are stable across revisions sharing this layout.
const (
	EEReset    = 0x000 // sentinel, written last on first boot
	EEOpState  = 0x010 // last commanded output value, one byte per IO
	EEFlimMode = 0x3FB
	EENodeID   = 0x3FC // big-endian
	EECanID    = 0x3FE
	EEBootFlag = 0x3FF

	ResetSentinel = 0xCA
	BootRequested = 0xFF
)

// Flash layout.
const (
	AtNV           = 0x7F80
	NVSpace        = 0x80
	AtAction2Event = 0x7E80
	Action2EventSz = 0x100
	AtEvent2Action = 0x6E80
	Event2ActionSz = 0x1000
)

var (
	ErrOutOfRange = errors.New("nvm: address out of range")
	ErrPowerLost  = errors.New("nvm: write interrupted")
)

// EEPROM is byte-addressable persistent memory. Writes are synchronous.
type EEPROM interface {
	ReadEE(addr uint16) (byte, error)
	WriteEE(addr uint16, v byte) error
}

// Flash is reprogrammable memory written a whole block at a time.
type Flash interface {
	ReadFlash(addr uint16, buf []byte) error
	WriteBlock(block uint16, data []byte) error
}

// ReadWord reads a big-endian word from EEPROM.
func ReadWord(ee EEPROM, addr uint16) (uint16, error) {
	hi, err := ee.ReadEE(addr)
	if err != nil {
		return 0, err
	}
	lo, err := ee.ReadEE(addr + 1)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

func WriteWord(ee EEPROM, addr uint16, v uint16) error {
	if err := ee.WriteEE(addr, byte(v>>8)); err != nil {
		return err
	}
	return ee.WriteEE(addr+1, byte(v))
}

func checkEE(addr uint16) error {
	if addr >= EEPROMSize {
		return fmt.Errorf("%w: eeprom 0x%03X", ErrOutOfRange, addr)
	}
	return nil
}

func checkFlash(addr uint16, n int) error {
	if int(addr)+n > FlashSize {
		return fmt.Errorf("%w: flash 0x%04X+%d", ErrOutOfRange, addr, n)
	}
	return nil
}
