package flim

import (
	"github.com/rs/zerolog/log"
	"github.com/thatsimonsguy/cbus-node/internal/tick"
)

// Self-enumeration timing.
const (
	EnumWindow   tick.Tick = 100
	BackoffBase  tick.Tick = 10
	BackoffSlot  tick.Tick = 100
	BackoffSlots           = 8
	MaxRetries             = 8
)

// Rand supplies the back-off slot after a contended enumeration.
type Rand interface {
	Intn(n int) int
}

type enumPhase uint8

const (
	enumIdle enumPhase = iota
	enumListening
	enumBackoff
)

type enumeration struct {
	phase   enumPhase
	at      tick.Tick // start of listening or back-off
	wait    tick.Tick
	retries int
	// set while enumerating on behalf of a node number assignment
	assign uint16
}

// startEnumeration begins self-enumeration. nn is the node number to commit
// on success, 0 when the CAN id alone is being renewed.
func (m *Machine) startEnumeration(nn uint16) {
	m.enum = enumeration{assign: nn}
	m.listen()
}

func (m *Machine) listen() {
	if err := m.bus.BeginEnumeration(); err != nil {
		log.Error().Err(err).Msg("Failed to start self-enumeration")
		m.enum.phase = enumIdle
		m.finishEnumeration(false)
		return
	}
	m.enum.phase = enumListening
	m.enum.at = m.clock.Now()
}

// Enumerating reports whether a self-enumeration is running.
func (m *Machine) Enumerating() bool {
	return m.enum.phase != enumIdle
}

func (m *Machine) pollEnumeration() {
	switch m.enum.phase {
	case enumListening:
		if tick.Since(m.clock, m.enum.at) < EnumWindow {
			return
		}
		id, ok, contended := m.bus.EndEnumeration()
		if contended && m.enum.retries < MaxRetries {
			m.enum.retries++
			m.enum.phase = enumBackoff
			m.enum.at = m.clock.Now()
			m.enum.wait = BackoffBase + BackoffSlot*tick.Tick(m.rng.Intn(BackoffSlots))
			log.Debug().Int("retry", m.enum.retries).Uint32("backoff_ms", uint32(m.enum.wait)).Msg("Self-enumeration contended")
			return
		}
		m.enum.phase = enumIdle
		if !ok {
			m.canIDClash = true
			log.Error().Msg("No free CAN id on the bus")
			m.finishEnumeration(false)
			return
		}
		m.bus.SetCanID(id)
		m.canIDClash = false
		if err := m.ee.WriteEE(eeCanID, id); err != nil {
			log.Error().Err(err).Msg("Failed to persist CAN id")
		}
		log.Info().Uint8("canid", id).Msg("Self-enumeration complete")
		m.finishEnumeration(true)
	case enumBackoff:
		if tick.Since(m.clock, m.enum.at) >= m.enum.wait {
			m.listen()
		}
	}
}

func (m *Machine) finishEnumeration(ok bool) {
	nn := m.enum.assign
	m.enum.assign = 0
	if nn == 0 || m.mode != SetupPending {
		return
	}
	if !ok {
		// stay in setup; the tool may retry SNN
		return
	}
	if err := m.commit(FLiM, nn); err != nil {
		log.Error().Err(err).Uint16("nn", nn).Msg("Failed to store node number")
		return
	}
	m.emit(nnackMessage(nn))
}
