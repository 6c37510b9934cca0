package node

import (
	"fmt"

	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/ioport"
	"github.com/thatsimonsguy/cbus-node/internal/nv"
	"github.com/thatsimonsguy/cbus-node/internal/params"
)

// Node variables.
const (
	NVSODDelay = 1 // extra start of day delay, 100 ms units
	NVDebounce = 2 // input debounce, ms
	NVSendSOD  = 3 // 1 to send the start of day event
	NVIOBase   = 9 // first per-IO variable
	NVPerIO    = 7
	NVCount    = NVIOBase + gpio.NumIO*NVPerIO - 1

	// offsets within an IO's variables
	nvType   = 0
	nvFlags  = 1
	nvParams = 2

	FlagInvert = 0x01
)

const (
	DefaultCanID    = 1
	DefaultDebounce = 20
)

// Actions. Producer actions name the events this node sends; consumer
// actions are what taught events make it do.
const (
	ActionNone        = 0
	ActionProducerSOD = 1
	ActionConsumerSOD = 18
	MaxAction         = 50

	NumProducerActions = 1 + gpio.NumIO

	producerInputBase  = 2
	consumerOutputBase = 19
	consumerInvertBase = 35
)

func ActionProducerInput(io int) uint8          { return uint8(producerInputBase + io) }
func ActionConsumerOutput(io int) uint8         { return uint8(consumerOutputBase + io) }
func ActionConsumerOutputInverted(io int) uint8 { return uint8(consumerInvertBase + io) }

// Module is what the node reports in its parameter block.
var Module = params.Identity{
	Manufacturer:    cbus.ManuMERG,
	MinorVersion:    'a',
	ModuleType:      cbus.MtypCANMIO,
	Events:          events.NumConsumedEvents,
	EVsPerEvent:     events.EVperEVT,
	NVs:             NVCount,
	MajorVersion:    1,
	Flags:           cbus.PFCombi | cbus.PFFLiM | cbus.PFBoot,
	CPU:             cbus.P18F25K80,
	BusType:         cbus.PBCAN,
	LoadAddress:     0x800,
	CPUManufacturer: cbus.CPUMMicrochip,
	Name:            "CANMIO",
}

// IONV returns the index of field of io's variables.
func IONV(io, field int) uint8 {
	return uint8(NVIOBase + io*NVPerIO + field)
}

func ioField(index uint8) (io, field int, ok bool) {
	if index < NVIOBase || index > NVCount {
		return 0, 0, false
	}
	off := int(index) - NVIOBase
	return off / NVPerIO, off % NVPerIO, true
}

// DefaultNVs is the first-boot image: every IO an input, no start of day.
func DefaultNVs() []byte {
	nvs := make([]byte, NVCount)
	nvs[NVDebounce-1] = DefaultDebounce
	return nvs
}

// DefaultProducers returns the events sent for each producer action: short
// events numbered 1 to 16 for the inputs and 17 for start of day.
func DefaultProducers() []events.Event {
	out := make([]events.Event, NumProducerActions)
	out[ActionProducerSOD-1] = events.Event{NN: 0, EN: gpio.NumIO + 1}
	for i := 0; i < gpio.NumIO; i++ {
		out[ActionProducerInput(i)-1] = events.Event{NN: 0, EN: uint16(i + 1)}
	}
	return out
}

func validateNV(index, value uint8) error {
	switch {
	case index == NVSendSOD:
		if value > 1 {
			return nv.ErrInvalidValue
		}
	case index > NVSendSOD && index < NVIOBase:
		if value != 0 {
			return nv.ErrInvalidValue
		}
	}
	_, field, ok := ioField(index)
	if !ok {
		return nil
	}
	switch field {
	case nvType:
		if !ioport.Type(value).Valid() {
			return nv.ErrInvalidValue
		}
	case nvFlags:
		if value&^FlagInvert != 0 {
			return nv.ErrInvalidValue
		}
	}
	return nil
}

func validAction(evIndex, v uint8) error {
	switch {
	case v > MaxAction:
		return cbus.CmdErrInvEvValue
	case evIndex != 1 && v >= ActionProducerSOD && v < ActionConsumerSOD:
		return fmt.Errorf("producer action %d outside EV1: %w", v, cbus.CmdErrInvEvValue)
	}
	return nil
}
