package can

import (
	"sync"
)

// LoopbackBus is an in-memory CAN bus for tests and simulations. Frames are
// delivered synchronously to every other endpoint's handler, in attach
// order, before Transmit returns. A sender never receives its own frame.
type LoopbackBus struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
}

func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{}
}

// Endpoint is one station on a LoopbackBus.
type Endpoint struct {
	bus *LoopbackBus

	mu      sync.RWMutex
	handler func(Frame)
	closed  bool
}

// Open attaches a new endpoint. Frames arriving before Bind are discarded.
func (b *LoopbackBus) Open() *Endpoint {
	ep := &Endpoint{bus: b}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, ep)
	b.mu.Unlock()
	return ep
}

// Bind sets the receive handler, typically Controller.HandleFrame.
func (e *Endpoint) Bind(handler func(Frame)) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// Transmit broadcasts f to all other endpoints.
func (e *Endpoint) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	// Snapshot endpoints so handlers may transmit in turn.
	e.bus.mu.RLock()
	targets := make([]*Endpoint, 0, len(e.bus.endpoints))
	for _, ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		t.mu.RLock()
		h := t.handler
		dead := t.closed
		t.mu.RUnlock()
		if h != nil && !dead {
			h(f)
		}
	}
	return nil
}

// Close detaches the endpoint from the bus.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.bus.mu.Lock()
	for i, ep := range e.bus.endpoints {
		if ep == e {
			e.bus.endpoints = append(e.bus.endpoints[:i], e.bus.endpoints[i+1:]...)
			break
		}
	}
	e.bus.mu.Unlock()
	return nil
}

// Recorder is a bus monitor that keeps every frame it sees.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
}

// Record attaches a recorder to the bus.
func (b *LoopbackBus) Record() *Recorder {
	r := &Recorder{}
	b.Open().Bind(r.add)
	return r
}

func (r *Recorder) add(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

// Frames returns a copy of the recorded frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Reset forgets recorded frames.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}
