package app

import (
	"fmt"

	"github.com/qntx/wsloop/websocket"
)

// EventKind identifies a lifecycle event delivered to the run loop.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
	EventConnectFailed
	EventError
	EventShutdown
)

// Event carries one lifecycle notification from another goroutine to the run loop.
type Event struct {
	Kind    EventKind
	Conn    Conn
	Session string
	Type    websocket.MessageType
	Data    []byte
	Code    int
	Reason  string
	Err     error
}

// Post hands ev to the run loop. It blocks while the queue is full and returns
// false once Run has finished.
func (a *App) Post(ev Event) bool {
	select {
	case <-a.done:
		return false
	default:
	}

	select {
	case a.events <- ev:
		return true
	case <-a.done:
		return false
	}
}

// TryPost is Post without blocking; it reports whether ev was queued.
func (a *App) TryPost(ev Event) bool {
	select {
	case <-a.done:
		return false
	case a.events <- ev:
		return true
	default:
		return false
	}
}

// Handle applies ev to the state. It must run on the run loop goroutine.
func (a *App) Handle(ev Event) {
	switch ev.Kind {
	case EventOpen:
		a.handleOpen(ev)
	case EventMessage:
		a.handleMessage(ev)
	case EventClose:
		a.handleClose(ev)
	case EventConnectFailed:
		a.state.ConnState = websocket.StateDisconnected
		a.state.Failure = fmt.Errorf("%w: %w", ErrConnectionFailed, ev.Err)
		a.note("WebSocket connection failed: %v", ev.Err)
		a.fail(a.state.Failure)
	case EventError:
		a.logger.Warn("WebSocket error: %v", ev.Err)
	case EventShutdown:
		a.Shutdown()
	default:
		a.logger.Warn("Unknown event kind: %d", ev.Kind)
	}
}

// Shutdown stops the application. With an open handle it starts the closing
// handshake and the loop keeps running until the close completes; without one
// the next Tick ends the loop.
func (a *App) Shutdown() {
	if !a.state.Running {
		return
	}

	a.state.Running = false
	a.logger.Info("Shutdown requested")

	if a.state.Conn == nil || a.state.ConnState != websocket.StateOpen {
		return
	}

	a.state.ConnState = websocket.StateClosing

	if err := a.state.Conn.RequestClose(a.closeCode, ""); err != nil {
		a.logger.Warn("Close request failed: %v", err)
	}
}

func (a *App) handleOpen(ev Event) {
	if ev.Conn == nil {
		return
	}

	if a.state.Conn != nil {
		a.logger.Warn("Ignoring open event for a second session")

		return
	}

	a.state.Conn = ev.Conn
	a.state.Session = ev.Session
	a.state.ConnState = websocket.StateOpen
	a.note("WebSocket connection open.")

	if !a.state.Running {
		// The shutdown arrived first; close the late session right away.
		a.state.ConnState = websocket.StateClosing

		if err := ev.Conn.RequestClose(a.closeCode, ""); err != nil {
			a.logger.Warn("Close request failed: %v", err)
		}
	}
}

func (a *App) handleMessage(ev Event) {
	a.state.Received++

	kind := ev.Type.String()

	if ev.Type == websocket.MessageBinary {
		a.note("Binary message received: %d bytes", len(ev.Data))
	} else {
		a.note("Text message received: %s", ev.Data)
	}

	if a.journal == nil {
		return
	}

	if _, err := a.journal.Record(a.state.Session, kind, ev.Data); err != nil {
		a.logger.Warn("Journal write failed: %v", err)
	}
}

func (a *App) handleClose(ev Event) {
	if a.state.Conn == nil {
		a.logger.Debug("Ignoring close event without an active handle")

		return
	}

	a.state.Conn = nil
	a.state.ConnState = websocket.StateDisconnected
	a.state.Running = false
	a.note("WebSocket connection closed: %d %s", ev.Code, ev.Reason)
}
