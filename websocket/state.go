package websocket

import (
	"errors"

	"github.com/gorilla/websocket"
)

// MessageType identifies the kind of a data frame.
type MessageType int

const (
	// MessageText is for UTF-8 encoded text messages.
	MessageText MessageType = websocket.TextMessage
	// MessageBinary is for binary messages.
	MessageBinary MessageType = websocket.BinaryMessage
)

// String returns "text", "binary" or "unknown".
func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// State is the lifecycle stage of a Client's session.
//
// A session moves Disconnected → Connecting → Open → Closing → Disconnected,
// or Connecting → Disconnected when the dial fails.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Close codes re-exported from gorilla/websocket.
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	CloseAbnormalClosure = websocket.CloseAbnormalClosure
)

var (
	// ErrNotConnected is returned by operations that need an open session.
	ErrNotConnected = errors.New("wsloop/websocket: client is not connected")
	// ErrConnectionFailed wraps dial and handshake failures.
	ErrConnectionFailed = errors.New("wsloop/websocket: connection failed")
	// ErrClientUsed is returned when Connect is called on a client that already had a session.
	ErrClientUsed = errors.New("wsloop/websocket: client can not be reused")
	// ErrClientClosed is returned after Close has been called.
	ErrClientClosed = errors.New("wsloop/websocket: client is closed")
)
