package flim

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

const (
	eeMode   = nvm.EEFlimMode
	eeNodeID = nvm.EENodeID
	eeCanID  = nvm.EECanID
)

// Bus is what the machine needs from the CAN controller.
type Bus interface {
	Send(payload []byte) error
	BeginEnumeration() error
	EndEnumeration() (id uint8, ok bool, contended bool)
	CanID() uint8
	SetCanID(id uint8)
	TakeClash() bool
}

// Options wires a Machine to its hardware. Switch and LEDs are optional.
type Options struct {
	EEPROM nvm.EEPROM
	Bus    Bus
	Clock  tick.Source
	Rand   Rand
	Switch gpio.DigitalPin
	Green  gpio.DigitalPin
	Yellow gpio.DigitalPin
}

// Machine tracks SLiM, FLiM, setup and learn, assigns the node number and
// keeps the CAN id unique.
type Machine struct {
	ee    nvm.EEPROM
	bus   Bus
	clock tick.Source
	rng   Rand

	mode  Mode
	nn    uint16
	prior Mode
	// node number held before setup, restored on abort
	priorNN uint16

	enum       enumeration
	canIDClash bool

	sw   button
	leds leds
}

func New(opts Options) *Machine {
	return &Machine{
		ee:    opts.EEPROM,
		bus:   opts.Bus,
		clock: opts.Clock,
		rng:   opts.Rand,
		sw:    button{pin: opts.Switch},
		leds:  leds{green: opts.Green, yellow: opts.Yellow},
	}
}

// Load restores mode and node number from EEPROM. The stored values must
// already have been validated.
func (m *Machine) Load() error {
	b, err := m.ee.ReadEE(eeMode)
	if err != nil {
		return fmt.Errorf("load mode: %w", err)
	}
	nn, err := nvm.ReadWord(m.ee, eeNodeID)
	if err != nil {
		return fmt.Errorf("load node number: %w", err)
	}
	m.mode, m.nn = SLiM, 0
	if b == StoredFLiM && nn != 0 {
		m.mode, m.nn = FLiM, nn
	}
	m.enum = enumeration{}
	if m.sw.pin != nil {
		if err := m.sw.pin.SetDirection(false); err != nil {
			return fmt.Errorf("configure mode switch: %w", err)
		}
	}
	log.Info().Str("mode", m.mode.String()).Uint16("nn", m.nn).Uint8("canid", m.bus.CanID()).Msg("Node identity loaded")
	return nil
}

// Defaults writes the first-boot identity: SLiM, no node number.
func Defaults(ee nvm.EEPROM, canID uint8) error {
	if err := ee.WriteEE(eeCanID, canID); err != nil {
		return err
	}
	if err := nvm.WriteWord(ee, eeNodeID, 0); err != nil {
		return err
	}
	return ee.WriteEE(eeMode, StoredSLiM)
}

func (m *Machine) Mode() Mode       { return m.mode }
func (m *Machine) NN() uint16       { return m.nn }
func (m *Machine) CanID() uint8     { return m.bus.CanID() }
func (m *Machine) CanIDClash() bool { return m.canIDClash }

// Addressed reports whether nn names this node.
func (m *Machine) Addressed(nn uint16) bool {
	return m.mode.Numbered() && nn == m.nn
}

func (m *Machine) commit(mode Mode, nn uint16) error {
	stored := byte(StoredSLiM)
	if mode.Numbered() {
		stored = StoredFLiM
	}
	if err := nvm.WriteWord(m.ee, eeNodeID, nn); err != nil {
		return err
	}
	if err := m.ee.WriteEE(eeMode, stored); err != nil {
		return err
	}
	m.set(mode, nn)
	return nil
}

func (m *Machine) set(mode Mode, nn uint16) {
	if mode != m.mode {
		log.Info().Str("from", m.mode.String()).Str("to", mode.String()).Uint16("nn", nn).Msg("Mode change")
	}
	m.mode, m.nn = mode, nn
}

func (m *Machine) emit(msg cbus.Message) {
	if err := m.bus.Send(msg.Bytes()); err != nil {
		log.Error().Err(err).Str("msg", msg.String()).Msg("Failed to send")
	}
}

func nnackMessage(nn uint16) cbus.Message {
	return cbus.NewNN(cbus.OpNNACK, nn)
}

// RequestSetup enters setup and asks the bus for a node number. The
// current node number is kept so that an abort can restore it.
func (m *Machine) RequestSetup() {
	if m.mode == SetupPending {
		return
	}
	m.prior, m.priorNN = m.mode, m.nn
	m.set(SetupPending, 0)
	m.emit(cbus.NewNN(cbus.OpRQNN, m.priorNN))
}

// AbortSetup leaves setup without a new node number.
func (m *Machine) AbortSetup() {
	if m.mode != SetupPending {
		return
	}
	m.enum.assign = 0
	m.set(m.prior, m.priorNN)
}

// SetNodeNumber handles SNN. It is only accepted in setup; the node becomes
// FLiM and acknowledges once self-enumeration has finished.
func (m *Machine) SetNodeNumber(nn uint16) bool {
	if m.mode != SetupPending || nn == 0 || m.enum.assign != 0 {
		return false
	}
	m.startEnumeration(nn)
	return true
}

// Release drops the node number and returns to SLiM.
func (m *Machine) Release() {
	if !m.mode.Numbered() {
		return
	}
	nn := m.nn
	if err := m.commit(SLiM, 0); err != nil {
		log.Error().Err(err).Msg("Failed to store SLiM mode")
		return
	}
	m.emit(cbus.NewNN(cbus.OpNNREL, nn))
}

// EnterLearn handles NNLRN.
func (m *Machine) EnterLearn(nn uint16) bool {
	if m.mode != FLiM || nn != m.nn {
		return false
	}
	m.set(Learn, m.nn)
	return true
}

// ExitLearn handles NNULN.
func (m *Machine) ExitLearn(nn uint16) bool {
	if m.mode != Learn || nn != m.nn {
		return false
	}
	m.set(FLiM, m.nn)
	return true
}

// Enumerate renews the CAN id.
func (m *Machine) Enumerate() {
	if m.Enumerating() {
		return
	}
	m.startEnumeration(0)
}

// SetCanID handles CANID: the id is taken and persisted without
// enumeration.
func (m *Machine) SetCanID(id uint8) error {
	if err := m.ee.WriteEE(eeCanID, id); err != nil {
		return err
	}
	m.bus.SetCanID(id)
	m.canIDClash = false
	return nil
}

// Poll runs the switch, the LEDs and any self-enumeration. It never blocks.
func (m *Machine) Poll() {
	if m.bus.TakeClash() && m.mode.Numbered() && !m.Enumerating() {
		log.Warn().Uint8("canid", m.bus.CanID()).Msg("CAN id clash, re-enumerating")
		m.startEnumeration(0)
	}
	m.pollEnumeration()
	m.pollSwitch()
	m.leds.show(m.mode, m.clock.Now())
}
