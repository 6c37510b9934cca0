package node

import (
	"errors"

	"github.com/thatsimonsguy/cbus-node/internal/can"
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/datadog"
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/flim"
	"github.com/thatsimonsguy/cbus-node/internal/nvm"
)

func (n *Node) receive(f can.Frame) {
	msg, err := cbus.Parse(f.Payload())
	if err != nil {
		n.log.Debug().Err(err).Str("frame", f.String()).Msg("Dropping malformed message")
		return
	}
	n.Dispatch(msg)
}

// Dispatch handles one received message. It sends at most one reply;
// opcodes this node does not implement are ignored.
func (n *Node) Dispatch(msg cbus.Message) {
	op := msg.Opcode()
	if kind, ok := cbus.Event(op); ok {
		n.consume(msg, kind)
		return
	}

	switch op {
	case cbus.OpQNN:
		n.queryNode()
	case cbus.OpRQNP:
		if n.flim.Mode() == flim.SetupPending {
			n.send(n.params.ParamsMessage())
		}
	case cbus.OpRQMN:
		if n.flim.Mode() == flim.SetupPending {
			n.send(n.params.NameMessage())
		}
	case cbus.OpSNN:
		n.flim.SetNodeNumber(msg.NN())
	case cbus.OpNNLRN:
		n.flim.EnterLearn(msg.NN())
	case cbus.OpNNULN:
		n.flim.ExitLearn(msg.NN())
	case cbus.OpERR:
		n.log.Info().Uint16("data", msg.Word(1)).Err(cbus.SessionErr(msg.Byte(3))).Msg("Command station error")
	case cbus.OpSSTAT:
		n.log.Info().Uint8("session", msg.Byte(1)).Err(cbus.ServiceStatus(msg.Byte(2))).Msg("Service mode status")
	case cbus.OpCMDERR:
		n.log.Info().Uint16("from", msg.NN()).Err(cbus.CmdErr(msg.Byte(3))).Msg("Node reported a command error")
	case cbus.OpEVULN, cbus.OpREQEV, cbus.OpEVLRN, cbus.OpEVLRNI:
		if n.flim.Mode() == flim.Learn {
			n.learn(msg)
		}
	default:
		if op.DataLen() >= 2 && n.flim.Addressed(msg.NN()) {
			n.addressed(msg)
		}
	}
}

// addressed handles the opcodes that carry this node's number.
func (n *Node) addressed(msg cbus.Message) {
	nn := n.flim.NN()
	switch msg.Opcode() {
	case cbus.OpNNRSM:
		n.log.Warn().Msg("Reset to manufacturer defaults")
		if err := n.defaults(); err != nil {
			n.log.Error().Err(err).Msg("Failed to write defaults")
			return
		}
		n.restart("NNRSM")
	case cbus.OpNNRST:
		n.restart("NNRST")
	case cbus.OpBOOT:
		if err := n.ee.WriteEE(nvm.EEBootFlag, nvm.BootRequested); err != nil {
			n.log.Error().Err(err).Msg("Failed to set boot flag")
			return
		}
		n.boot()
	case cbus.OpENUM:
		n.flim.Enumerate()
	case cbus.OpCANID:
		id := msg.Byte(3)
		if id < can.MinCanID || id > can.MaxCanID {
			n.reject(cbus.CmdErrInvCmd)
			return
		}
		n.reply(n.flim.SetCanID(id), cbus.NewNN(cbus.OpWRACK, nn))
	case cbus.OpNNCLR:
		if n.flim.Mode() != flim.Learn {
			n.reject(cbus.CmdErrNotLrn)
			return
		}
		n.reply(n.events.Clear(), cbus.NewNN(cbus.OpWRACK, nn))
	case cbus.OpNNEVN:
		n.send(cbus.NewNN(cbus.OpEVNLF, nn, byte(n.events.Free())))
	case cbus.OpRQEVN:
		n.send(cbus.NewNN(cbus.OpNUMEV, nn, byte(n.events.Count())))
	case cbus.OpNERD:
		for _, slot := range n.events.Slots() {
			r, _ := n.events.Slot(slot)
			n.stream = append(n.stream, enrsp(nn, slot, r.Event))
		}
	case cbus.OpNENRD:
		slot := int(msg.Byte(3))
		r, ok := n.events.Slot(slot)
		if !ok {
			n.reject(cbus.CmdErrInvalidEvent)
			return
		}
		n.send(enrsp(nn, slot, r.Event))
	case cbus.OpREVAL:
		slot, evIndex := int(msg.Byte(3)), msg.Byte(4)
		r, ok := n.events.Slot(slot)
		if !ok {
			n.reject(cbus.CmdErrInvalidEvent)
			return
		}
		v, err := n.events.EV(r.Event, evIndex)
		n.reply(err, cbus.NewNN(cbus.OpNEVAL, nn, byte(slot), evIndex, v))
	case cbus.OpNVRD:
		index := msg.Byte(3)
		v, err := n.nvs.Read(index)
		n.reply(err, cbus.NewNN(cbus.OpNVANS, nn, index, v))
	case cbus.OpNVSET:
		n.reply(n.nvs.Write(msg.Byte(3), msg.Byte(4)), cbus.NewNN(cbus.OpWRACK, nn))
	case cbus.OpRQNPN:
		index := msg.Byte(3)
		v, err := n.params.Index(index)
		n.reply(err, cbus.NewNN(cbus.OpPARAN, nn, index, v))
	}
}

// learn handles the event teaching opcodes, accepted only in learn mode.
func (n *Node) learn(msg cbus.Message) {
	e := events.Event{NN: msg.NN(), EN: msg.EN()}
	switch msg.Opcode() {
	case cbus.OpEVULN:
		n.reply(n.events.Unlearn(e), cbus.NewNN(cbus.OpWRACK, n.flim.NN()))
	case cbus.OpREQEV:
		evIndex := msg.Byte(5)
		v, err := n.events.EV(e, evIndex)
		n.reply(err, cbus.NewEvent(cbus.OpEVANS, e.NN, e.EN, evIndex, v))
	case cbus.OpEVLRN:
		n.teach(e, msg.Byte(5), msg.Byte(6))
	case cbus.OpEVLRNI:
		// the slot index is advisory; events are placed by hash
		n.teach(e, msg.Byte(6), msg.Byte(7))
	}
}

func (n *Node) teach(e events.Event, evIndex, value uint8) {
	if err := validAction(evIndex, value); err != nil {
		n.reply(err, cbus.Message{})
		return
	}
	err := n.events.Teach(e, evIndex, value)
	if err == nil {
		n.log.Info().Str("event", e.String()).Uint8("ev", evIndex).Uint8("value", value).Msg("Event taught")
	}
	n.reply(err, cbus.NewNN(cbus.OpWRACK, n.flim.NN()))
}

func (n *Node) queryNode() {
	if n.flim.Mode() == flim.SetupPending {
		return
	}
	flags := n.params.Flags()
	if !n.flim.Mode().Numbered() {
		flags &^= cbus.PFFLiM
	}
	n.send(cbus.NewNN(cbus.OpPNN, n.flim.NN(), Module.Manufacturer, Module.ModuleType, flags))
}

// reply sends ok, or the CMDERR for err. Errors without a CMDERR code are
// logged and answered with nothing.
func (n *Node) reply(err error, ok cbus.Message) {
	if err == nil {
		n.send(ok)
		return
	}
	var code cbus.CmdErr
	if errors.As(err, &code) {
		n.reject(code)
		return
	}
	n.log.Error().Err(err).Msg("Configuration request failed")
}

func (n *Node) reject(code cbus.CmdErr) {
	n.log.Info().Err(code).Msg("Rejecting request")
	datadog.Count("cmderr", 1)
	n.send(cbus.NewNN(cbus.OpCMDERR, n.flim.NN(), byte(code)))
}

func enrsp(nn uint16, slot int, e events.Event) cbus.Message {
	return cbus.NewNN(cbus.OpENRSP, nn, byte(e.NN>>8), byte(e.NN), byte(e.EN>>8), byte(e.EN), byte(slot))
}
