package node

import (
	"github.com/thatsimonsguy/cbus-node/internal/events"
	"github.com/thatsimonsguy/cbus-node/internal/flim"
	"github.com/thatsimonsguy/cbus-node/internal/ioport"
)

// Info is a snapshot of the node's identity and counters.
type Info struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	NodeNumber  uint16 `json:"node_number"`
	CanID       uint8  `json:"can_id"`
	CanIDClash  bool   `json:"can_id_clash"`
	Started     bool   `json:"started"`
	Events      int    `json:"events"`
	FreeEvents  int    `json:"free_events"`
	Received    uint32 `json:"received"`
	Transmitted uint32 `json:"transmitted"`
	Dropped     uint32 `json:"dropped"`
}

// EventInfo is one taught consumed event.
type EventInfo struct {
	Slot    int    `json:"slot"`
	NN      uint16 `json:"nn"`
	EN      uint16 `json:"en"`
	Actions []int  `json:"actions"`
}

// ProducedEvent is the event a producer action sends.
type ProducedEvent struct {
	Action uint8  `json:"action"`
	NN     uint16 `json:"nn"`
	EN     uint16 `json:"en"`
}

func (n *Node) Mode() flim.Mode { return n.flim.Mode() }
func (n *Node) NN() uint16      { return n.flim.NN() }
func (n *Node) CanID() uint8    { return n.ctrl.CanID() }

func (n *Node) Info() Info {
	return Info{
		Name:        n.params.Name(),
		Mode:        n.flim.Mode().String(),
		NodeNumber:  n.flim.NN(),
		CanID:       n.ctrl.CanID(),
		CanIDClash:  n.flim.CanIDClash(),
		Started:     n.start.Started(),
		Events:      n.events.Count(),
		FreeEvents:  n.events.Free(),
		Received:    n.ctrl.Received(),
		Transmitted: n.ctrl.Transmitted(),
		Dropped:     n.ctrl.Dropped(),
	}
}

// Params returns the parameter block as sent to configuration tools.
func (n *Node) Params() []byte {
	return n.params.Bytes()
}

func (n *Node) NVs() []byte {
	return n.nvs.Values()
}

func (n *Node) ReadNV(index uint8) (byte, error) {
	return n.nvs.Read(index)
}

// WriteNV changes a node variable as NVSET would.
func (n *Node) WriteNV(index, value uint8) error {
	return n.nvs.Write(index, value)
}

func (n *Node) Events() []EventInfo {
	slots := n.events.Slots()
	out := make([]EventInfo, 0, len(slots))
	for _, slot := range slots {
		r, _ := n.events.Slot(slot)
		out = append(out, EventInfo{Slot: slot, NN: r.NN, EN: r.EN, Actions: actionList(r)})
	}
	return out
}

func (n *Node) Produced() []ProducedEvent {
	var out []ProducedEvent
	for i := range n.events.Producers() {
		action := uint8(i + 1)
		if e, ok := n.events.Producer(action); ok {
			out = append(out, ProducedEvent{Action: action, NN: e.NN, EN: e.EN})
		}
	}
	return out
}

func (n *Node) IO() []ioport.Status {
	return n.io.Status()
}

// Lookup reports the record taught for an event, for diagnostics.
func (n *Node) Lookup(e events.Event) (events.Record, bool) {
	return n.events.Lookup(e)
}

func actionList(r events.Record) []int {
	var out []int
	for _, a := range r.Actions() {
		out = append(out, int(a))
	}
	return out
}
