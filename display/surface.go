// Package display provides the surfaces the run loop draws on: an interactive
// terminal window backed by termbox-go and an in-memory headless surface.
package display

// EventKind identifies an input event.
type EventKind int

const (
	// EventQuit asks the application to shut down.
	EventQuit EventKind = iota + 1
	// EventResize reports a new surface size.
	EventResize
)

// Event is one input event drained from a surface.
type Event struct {
	Kind   EventKind
	Width  int
	Height int
}

// Frame is everything a surface needs to draw one frame.
type Frame struct {
	Title    string
	Endpoint string
	State    string
	Received int
	Sent     int
	Lines    []string
}

// Surface is a display the run loop polls for input and renders to.
//
// PollEvents must not block.
type Surface interface {
	PollEvents() []Event
	Render(Frame) error
	Close() error
}
