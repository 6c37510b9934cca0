package can

import (
	"fmt"
	"sync/atomic"
)

// Controller is the CAN driver as the node core sees it. HandleFrame is the
// receive interrupt: it answers enumeration requests, records enumeration
// replies and CAN id clashes, and deposits everything else in the mailbox.
// Every other method belongs to the main loop. State shared between the two
// sides is held in atomics.
type Controller struct {
	port     Port
	priority uint8

	canID atomic.Uint32
	inbox Mailbox

	enumerating atomic.Bool
	contended   atomic.Bool
	seen        [4]atomic.Uint32
	clash       atomic.Bool

	received    atomic.Uint32
	transmitted atomic.Uint32
}

func NewController(port Port, canID uint8) *Controller {
	c := &Controller{port: port, priority: DefaultPriority}
	c.canID.Store(uint32(canID & CanIDMask))
	return c
}

func (c *Controller) CanID() uint8 {
	return uint8(c.canID.Load())
}

func (c *Controller) SetCanID(id uint8) {
	c.canID.Store(uint32(id & CanIDMask))
}

// HandleFrame is called from the receive context for every frame on the bus.
func (c *Controller) HandleFrame(f Frame) {
	own := c.CanID()
	if f.RTR {
		// another node is enumerating: tell it which id we hold
		if c.enumerating.Load() {
			c.contended.Store(true)
		}
		if own != 0 {
			c.port.Transmit(Frame{ID: Header(c.priority, own)})
		}
		return
	}
	if f.Len == 0 {
		if c.enumerating.Load() {
			c.markSeen(f.CanID())
		}
		return
	}
	if own != 0 && f.CanID() == own && !c.enumerating.Load() {
		c.clash.Store(true)
	}
	c.received.Add(1)
	c.inbox.Put(f)
}

// Receive takes the pending frame, if any.
func (c *Controller) Receive() (Frame, bool) {
	return c.inbox.Take()
}

// Dropped returns the number of frames lost to a full mailbox.
func (c *Controller) Dropped() uint32 {
	return c.inbox.Dropped()
}

func (c *Controller) Received() uint32 {
	return c.received.Load()
}

func (c *Controller) Transmitted() uint32 {
	return c.transmitted.Load()
}

// Send transmits payload from this node's CAN id at normal priority.
func (c *Controller) Send(payload []byte) error {
	if len(payload) > 8 {
		return ErrInvalidLen
	}
	f := NewFrame(c.priority, c.CanID(), payload)
	if err := c.port.Transmit(f); err != nil {
		return fmt.Errorf("transmit %s: %w", f, err)
	}
	c.transmitted.Add(1)
	return nil
}

// BeginEnumeration clears previous replies and broadcasts the enumeration
// request.
func (c *Controller) BeginEnumeration() error {
	for i := range c.seen {
		c.seen[i].Store(0)
	}
	c.contended.Store(false)
	c.enumerating.Store(true)
	f := Frame{ID: Header(c.priority, c.CanID()), RTR: true}
	if err := c.port.Transmit(f); err != nil {
		c.enumerating.Store(false)
		return fmt.Errorf("transmit enumeration request: %w", err)
	}
	return nil
}

// EndEnumeration stops collecting replies. It returns the lowest CAN id in
// [MinCanID, MaxCanID] nobody answered with, whether such an id exists, and
// whether another node was enumerating at the same time.
func (c *Controller) EndEnumeration() (id uint8, ok bool, contended bool) {
	c.enumerating.Store(false)
	contended = c.contended.Load()
	for candidate := uint8(MinCanID); candidate <= MaxCanID; candidate++ {
		if c.seen[candidate/32].Load()&(1<<(candidate%32)) == 0 {
			return candidate, true, contended
		}
	}
	return 0, false, contended
}

func (c *Controller) markSeen(id uint8) {
	word := &c.seen[id/32]
	bit := uint32(1) << (id % 32)
	for {
		old := word.Load()
		if old&bit != 0 || word.CompareAndSwap(old, old|bit) {
			return
		}
	}
}

// Enumerating reports whether replies are being collected.
func (c *Controller) Enumerating() bool {
	return c.enumerating.Load()
}

// TakeClash reports and clears a detected CAN id clash.
func (c *Controller) TakeClash() bool {
	return c.clash.Swap(false)
}
