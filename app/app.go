// Package app drives the application: one goroutine owns all state, pumps
// frames (input, conditional send, render) on a ticker, and applies connection
// lifecycle events posted by the WebSocket client's callbacks.
package app

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/qntx/wsloop/display"
	"github.com/qntx/wsloop/journal"
	"github.com/qntx/wsloop/logger"
	"github.com/qntx/wsloop/util"
	"github.com/qntx/wsloop/websocket"
)

// --------------------------------------------------------------------------------
// Constants

const (
	DefaultEndpoint      = "ws://localhost:9000"
	DefaultSendInterval  = time.Second
	DefaultFrameInterval = time.Second / 60
	DefaultCloseCode     = websocket.CloseNormalClosure
	DefaultText          = "Hello, world!"
	DefaultTitle         = "wsloop"

	eventBuffer = 256
	maxLines    = 10
)

// DefaultBinary is the binary payload sent alongside DefaultText.
var DefaultBinary = []byte{0x00, 0x01, 0x03, 0x04}

var (
	// ErrConnectionFailed marks a failed dial or handshake.
	ErrConnectionFailed = errors.New("wsloop/app: connection failed")
	// ErrSendFailed marks a failed outbound send.
	ErrSendFailed = errors.New("wsloop/app: send failed")
)

// --------------------------------------------------------------------------------
// Types

// Conn is the connection handle as seen by the run loop.
type Conn interface {
	SendText([]byte) error
	SendBinary([]byte) error
	RequestClose(code int, reason string) error
}

// State is the application state. It is only mutated on the run loop goroutine.
type State struct {
	Running   bool
	Conn      Conn
	ConnState websocket.State
	Session   string
	LastSend  time.Time
	Received  int
	Sent      int
	Failure   error
}

// Option configures an App.
type Option func(*App) error

// App is the run loop driver.
type App struct {
	endpoint      string
	title         string
	sendInterval  time.Duration
	frameInterval time.Duration
	closeCode     int
	text          []byte
	binary        []byte
	strict        bool

	clock   util.Clock
	surface display.Surface
	logger  logger.Interface
	journal *journal.Journal

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	state State
	lines []string
	err   error
}

// --------------------------------------------------------------------------------
// Initialization

// New creates an App. The send timer starts at creation time, so the first
// send happens one interval after New at the earliest.
func New(opts ...Option) (*App, error) {
	l, err := logger.New("info", os.Stdout)
	if err != nil {
		return nil, err
	}

	a := &App{
		endpoint:      DefaultEndpoint,
		title:         DefaultTitle,
		sendInterval:  DefaultSendInterval,
		frameInterval: DefaultFrameInterval,
		closeCode:     DefaultCloseCode,
		text:          []byte(DefaultText),
		binary:        DefaultBinary,
		clock:         util.SystemClock{},
		surface:       display.NewHeadless(),
		logger:        l,
		events:        make(chan Event, eventBuffer),
		done:          make(chan struct{}),
	}

	for i, opt := range opts {
		if opt == nil {
			continue
		}

		if err := opt(a); err != nil {
			return nil, fmt.Errorf("failed to apply option at index %d: %w", i, err)
		}
	}

	a.state = State{
		Running:   true,
		ConnState: websocket.StateDisconnected,
		LastSend:  a.clock.Now(),
	}

	return a, nil
}

// State returns a snapshot of the application state.
//
// Only call it from the run loop goroutine or after Run has returned.
func (a *App) State() State {
	return a.state
}

// Err returns the failure that ended a strict run, if any.
func (a *App) Err() error {
	return a.err
}

// Endpoint returns the WebSocket endpoint.
func (a *App) Endpoint() string {
	return a.endpoint
}

// --------------------------------------------------------------------------------
// Private

// note logs an informational line and keeps it for the display.
func (a *App) note(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	a.logger.Info("%s", line)

	a.lines = append(a.lines, line)
	if len(a.lines) > maxLines {
		a.lines = a.lines[len(a.lines)-maxLines:]
	}
}

// fail records err; in strict mode it ends the run.
func (a *App) fail(err error) {
	if a.strict && a.err == nil {
		a.err = err
	}
}

func (a *App) frame() display.Frame {
	return display.Frame{
		Title:    a.title,
		Endpoint: a.endpoint,
		State:    a.state.ConnState.String(),
		Received: a.state.Received,
		Sent:     a.state.Sent,
		Lines:    a.lines,
	}
}

// --------------------------------------------------------------------------------
// Option Functions

// WithEndpoint sets the WebSocket endpoint used by Dial.
func WithEndpoint(endpoint string) Option {
	return func(a *App) error {
		if endpoint == "" {
			return errors.New("endpoint cannot be empty")
		}

		a.endpoint = endpoint

		return nil
	}
}

// WithTitle sets the title drawn on the surface.
func WithTitle(title string) Option {
	return func(a *App) error {
		a.title = title

		return nil
	}
}

// WithSendInterval sets the minimum gap between send pairs.
func WithSendInterval(d time.Duration) Option {
	return func(a *App) error {
		if d <= 0 {
			return fmt.Errorf("send interval must be positive: %v", d)
		}

		a.sendInterval = d

		return nil
	}
}

// WithFrameInterval sets how often Run invokes Tick.
func WithFrameInterval(d time.Duration) Option {
	return func(a *App) error {
		if d <= 0 {
			return fmt.Errorf("frame interval must be positive: %v", d)
		}

		a.frameInterval = d

		return nil
	}
}

// WithPayloads replaces the text and binary messages sent each interval.
func WithPayloads(text string, binary []byte) Option {
	return func(a *App) error {
		a.text = []byte(text)
		a.binary = append([]byte(nil), binary...)

		return nil
	}
}

// WithCloseCode sets the status code used for the closing handshake.
func WithCloseCode(code int) Option {
	return func(a *App) error {
		if code < 1000 || code > 4999 {
			return fmt.Errorf("close code out of range: %d", code)
		}

		a.closeCode = code

		return nil
	}
}

// WithStrict makes connection and send failures end Run with an error instead
// of only being logged.
func WithStrict(enable bool) Option {
	return func(a *App) error {
		a.strict = enable

		return nil
	}
}

// WithClock sets the time source used by the send gate.
func WithClock(c util.Clock) Option {
	return func(a *App) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}

		a.clock = c

		return nil
	}
}

// WithSurface sets the display surface.
func WithSurface(s display.Surface) Option {
	return func(a *App) error {
		if s == nil {
			return errors.New("surface cannot be nil")
		}

		a.surface = s

		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Interface) Option {
	return func(a *App) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}

		a.logger = l

		return nil
	}
}

// WithJournal records every inbound message to j.
func WithJournal(j *journal.Journal) Option {
	return func(a *App) error {
		a.journal = j

		return nil
	}
}
