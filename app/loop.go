package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qntx/wsloop/display"
	"github.com/qntx/wsloop/util"
	"github.com/qntx/wsloop/websocket"
)

// Tick runs one frame: it drains surface input, sends the payload pair when the
// connection is open and the send interval has elapsed, and renders.
//
// It returns false once the loop should stop: the app is no longer running and
// no handle is left, or a strict-mode failure was recorded.
func (a *App) Tick() bool {
	for _, ev := range a.surface.PollEvents() {
		switch ev.Kind {
		case display.EventQuit:
			a.Shutdown()
		case display.EventResize:
			a.logger.Debug("Surface resized to %dx%d", ev.Width, ev.Height)
		}
	}

	a.send()

	if err := a.surface.Render(a.frame()); err != nil {
		a.logger.Warn("Render failed: %v", err)
	}

	if a.strict && a.err != nil {
		return false
	}

	return a.state.Running || a.state.Conn != nil
}

// send transmits one text and one binary message if due.
func (a *App) send() {
	conn := a.state.Conn
	if conn == nil || a.state.ConnState != websocket.StateOpen {
		return
	}

	now := a.clock.Now()
	if !util.Due(a.state.LastSend, now, a.sendInterval) {
		return
	}

	errText := conn.SendText(a.text)
	if errors.Is(errText, websocket.ErrNotConnected) {
		// The peer started closing; the close event is on its way.
		a.logger.Debug("Send skipped: %v", errText)

		return
	}

	errBinary := conn.SendBinary(a.binary)

	a.state.LastSend = now
	a.state.Sent++

	if errors.Is(errBinary, websocket.ErrNotConnected) {
		a.logger.Debug("Send skipped: %v", errBinary)
		errBinary = nil
	}

	if err := errors.Join(errText, errBinary); err != nil {
		a.logger.Warn("Send failed: %v", err)
		a.fail(fmt.Errorf("%w: %w", ErrSendFailed, err))
	}
}

// Run pumps frames every frame interval, applying posted events between frames,
// until Tick reports the loop is finished or ctx is done.
//
// The close handshake has no deadline of its own: if the close completion never
// arrives, Run only returns through ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.Stop()

	ticker := time.NewTicker(a.frameInterval)
	defer ticker.Stop()

	for {
		a.drain()

		if !a.Tick() {
			if a.strict {
				return a.err
			}

			return nil
		}

		if err := a.wait(ctx, ticker.C); err != nil {
			return err
		}
	}
}

// Step applies queued events and runs one frame. It lets a foreign scheduler
// drive the loop instead of Run; such a scheduler must call Stop once it stops
// stepping, or callbacks block in Post when the queue fills.
func (a *App) Step() bool {
	a.drain()

	return a.Tick()
}

// Stop marks the loop finished. Pending and later Post calls return false
// instead of waiting for a consumer. Run calls it on return.
func (a *App) Stop() {
	a.doneOnce.Do(func() { close(a.done) })
}

// drain applies every queued event without blocking.
func (a *App) drain() {
	for {
		select {
		case ev := <-a.events:
			a.Handle(ev)
		default:
			return
		}
	}
}

// wait applies events until the next frame is due.
func (a *App) wait(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			a.Handle(ev)
		case <-tick:
			return nil
		}
	}
}

// Dial creates the connection handle for the endpoint, routes its callbacks
// into the run loop and starts the asynchronous open. Call it before Run, from
// the goroutine that will call Run. opts are applied after the routing hooks.
func (a *App) Dial(ctx context.Context, opts ...websocket.Option) (*websocket.Client, error) {
	hooks := []websocket.Option{
		websocket.WithLogger(a.logger),
		websocket.OnConnect(func(c *websocket.Client) {
			a.Post(Event{Kind: EventOpen, Conn: c, Session: c.ID()})
		}),
		websocket.OnConnectFailed(func(err error, _ *websocket.Client) {
			a.Post(Event{Kind: EventConnectFailed, Err: err})
		}),
		websocket.OnText(func(data []byte, _ *websocket.Client) {
			a.Post(Event{Kind: EventMessage, Type: websocket.MessageText, Data: data})
		}),
		websocket.OnBinary(func(data []byte, _ *websocket.Client) {
			a.Post(Event{Kind: EventMessage, Type: websocket.MessageBinary, Data: data})
		}),
		websocket.OnClose(func(code int, reason string, _ *websocket.Client) {
			a.Post(Event{Kind: EventClose, Code: code, Reason: reason})
		}),
		// Write errors surface on the loop goroutine itself, so this must never block.
		websocket.OnError(func(err error, _ *websocket.Client) {
			a.TryPost(Event{Kind: EventError, Err: err})
		}),
	}

	client, err := websocket.New(a.endpoint, append(hooks, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	a.state.ConnState = websocket.StateConnecting
	client.Open(ctx)

	return client, nil
}
