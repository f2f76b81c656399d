package display

import "sync"

// Headless is a Surface with no output device. Quit may be called from any
// goroutine, which makes it the shutdown path for signal handlers and tests.
type Headless struct {
	mu      sync.Mutex
	pending []Event
	last    Frame
	renders int
	closed  bool
}

var _ Surface = (*Headless)(nil)

// NewHeadless creates an empty headless surface.
func NewHeadless() *Headless {
	return &Headless{}
}

// Quit queues a quit event.
func (h *Headless) Quit() {
	h.Push(Event{Kind: EventQuit})
}

// Push queues an arbitrary input event.
func (h *Headless) Push(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = append(h.pending, ev)
}

// PollEvents drains the queued events.
func (h *Headless) PollEvents() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	evs := h.pending
	h.pending = nil

	return evs
}

// Render records f as the last frame.
func (h *Headless) Render(f Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	f.Lines = append([]string(nil), f.Lines...)
	h.last = f
	h.renders++

	return nil
}

// Close marks the surface closed.
func (h *Headless) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true

	return nil
}

// LastFrame returns the most recently rendered frame.
func (h *Headless) LastFrame() Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.last
}

// Renders returns how many frames have been rendered.
func (h *Headless) Renders() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.renders
}

// Closed reports whether Close was called.
func (h *Headless) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closed
}
