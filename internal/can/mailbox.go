package can

import "sync/atomic"

// Mailbox is the single-slot handoff between the receive context and the
// main loop. One producer, one consumer. The full flag is the only
// synchronisation: the producer writes the slot before publishing it and the
// consumer copies the slot before releasing it. A frame arriving while the
// slot is full is dropped.
type Mailbox struct {
	full    atomic.Bool
	slot    Frame
	dropped atomic.Uint32
}

// Put deposits f. It reports false, and counts a drop, if the previous frame
// has not been taken yet.
func (m *Mailbox) Put(f Frame) bool {
	if m.full.Load() {
		m.dropped.Add(1)
		return false
	}
	m.slot = f
	m.full.Store(true)
	return true
}

// Take removes the pending frame, if any.
func (m *Mailbox) Take() (Frame, bool) {
	if !m.full.Load() {
		return Frame{}, false
	}
	f := m.slot
	m.full.Store(false)
	return f, true
}

// Dropped returns the number of frames lost because the slot was full.
func (m *Mailbox) Dropped() uint32 {
	return m.dropped.Load()
}
