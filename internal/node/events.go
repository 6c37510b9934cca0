package node

import (
	"github.com/thatsimonsguy/cbus-node/internal/cbus"
	"github.com/thatsimonsguy/cbus-node/internal/datadog"
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/gpio"
	"github.com/thatsimonsguy/cbus-node/internal/ioport"
)

// consume carries out the actions taught for a received event.
func (n *Node) consume(msg cbus.Message, kind cbus.EventKind) {
	e := events.Event{NN: msg.NN(), EN: msg.EN()}
	if kind.Short {
		e.NN = 0
	}
	r, ok := n.events.Lookup(e)
	if !ok {
		return
	}
	datadog.Count("events.consumed", 1)
	for _, action := range r.Actions() {
		n.act(action, kind.On)
	}
}

func (n *Node) act(action uint8, on bool) {
	switch {
	case action == ActionConsumerSOD:
		if on {
			n.queueInputStates()
		}
		return
	case action >= consumerInvertBase && action < consumerInvertBase+gpio.NumIO:
		n.setOutput(int(action-consumerInvertBase), !on)
	case action >= consumerOutputBase && action < consumerOutputBase+gpio.NumIO:
		n.setOutput(int(action-consumerOutputBase), on)
	}
}

func (n *Node) setOutput(io int, on bool) {
	s := n.settings(io)
	var v uint8
	switch {
	case s.Type == ioport.Servo && on:
		v = s.Params[ioport.ServoOnPosition]
	case s.Type == ioport.Servo:
		v = s.Params[ioport.ServoOffPosition]
	case on:
		v = 1
	}
	if err := n.io.SetOutput(io, v); err != nil {
		n.log.Debug().Err(err).Int("io", io).Msg("Event action not applied")
	}
}

// eventMessage builds the message that reports producer action's state.
func (n *Node) eventMessage(action uint8, on bool) (cbus.Message, bool) {
	e, ok := n.events.Producer(action)
	if !ok {
		return cbus.Message{}, false
	}
	op := cbus.EventOpcode(cbus.EventKind{On: on, Short: e.Short()})
	nn := e.NN
	if e.Short() {
		nn = n.flim.NN()
	}
	return cbus.NewEvent(op, nn, e.EN), true
}

// produce reports an input change. Only a node with a number sends
// events.
func (n *Node) produce(io int, on bool) {
	if !n.flim.Mode().Numbered() {
		return
	}
	if msg, ok := n.eventMessage(ActionProducerInput(io), on); ok {
		n.send(msg)
	}
}

func (n *Node) sendSOD() {
	if msg, ok := n.eventMessage(ActionProducerSOD, true); ok {
		n.send(msg)
	}
}

// queueInputStates answers a start of day request with the state of every
// input, one frame per Poll, after anything already queued.
func (n *Node) queueInputStates() {
	if !n.flim.Mode().Numbered() {
		return
	}
	for io := 0; io < gpio.NumIO; io++ {
		if n.io.Type(io) != ioport.Input {
			continue
		}
		if msg, ok := n.eventMessage(ActionProducerInput(io), n.io.Value(io) != 0); ok {
			n.stream = append(n.stream, msg)
		}
	}
}
