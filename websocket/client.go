// Package websocket provides the connection handle used by the run loop: a
// single-session WebSocket client with an explicit lifecycle state machine,
// a graceful close handshake, and event-driven callbacks. It leverages the
// gorilla/websocket library for framing and the opening handshake.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/qntx/wsloop/logger"
	"github.com/qntx/wsloop/util"
)

// --------------------------------------------------------------------------------
// Constants

// Constants defining default configuration values for the WebSocket client.
const (
	DefaultTimeout      = 30 * time.Second // Default timeout for the handshake and writes.
	DefaultPingInterval = 30 * time.Second // Default interval for keep-alive pings.
	DefaultPingMessage  = "ping"           // Default payload for ping messages.
)

// --------------------------------------------------------------------------------
// Types

// Option defines a function that configures a Client and returns an error if configuration fails.
type Option func(*Client) error

// Config encapsulates settings for a WebSocket client.
//
// All fields are optional; unset values fall back to defaults defined above.
type Config struct {
	Proxy             func(*http.Request) (*url.URL, error) // Proxy routing function; nil disables proxy.
	TLSClientConfig   *tls.Config                           // TLS settings for wss://; nil uses system defaults.
	Timeout           time.Duration                         // Timeout for handshake and writes.
	ReadBufferSize    int                                   // Read buffer size in bytes; 0 for default.
	WriteBufferSize   int                                   // Write buffer size in bytes; 0 for default.
	Subprotocols      []string                              // Supported subprotocols; nil for none.
	EnableCompression bool                                  // Enables RFC 7692 per-message compression if true.
	ReadLimit         int64                                 // Max message size in bytes; 0 for no limit.
	KeepAlive         bool                                  // Enables periodic pings if true.
	PingInterval      time.Duration                         // Interval between ping messages.
	PingMessage       []byte                                // Ping payload.
	CloseTimeout      time.Duration                         // Max wait for the peer's close reply; 0 waits forever.
	Debug             bool                                  // Dumps every frame through the Printer.
}

// Client is a single-session WebSocket connection handle.
//
// It is safe for concurrent use. Callbacks run on the client's read goroutine
// (or the dialing goroutine for OnConnect/OnConnectFailed) and must not block.
type Client struct {
	config  Config
	id      string
	url     string
	header  http.Header
	logger  logger.Interface
	printer *Printer

	conn     *websocket.Conn
	state    State
	used     bool
	closed   bool
	notified bool         // close completion already reported for this session
	connMu   sync.RWMutex // Protects conn, state, used, closed, notified.
	sendMu   sync.Mutex   // Serialises frame writes.
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	onConnected       func(*Client)
	onConnectFailed   func(error, *Client)
	onTextMessage     func([]byte, *Client)
	onBinaryMessage   func([]byte, *Client)
	onPongReceived    func(string, *Client)
	onClosed          func(int, string, *Client)
	onError           func(error, *Client)
	closeCode         int
	closeReason       string
	closeFrameArrived bool
}

// --------------------------------------------------------------------------------
// Initialization

// New creates a new WebSocket client for endpoint with the given options.
//
// The client is not connected until Connect or Open is called.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint cannot be empty")
	}

	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	l, err := logger.New("info", os.Stdout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: Config{
			Timeout:      DefaultTimeout,
			PingInterval: DefaultPingInterval,
			PingMessage:  []byte(DefaultPingMessage),
		},
		id:      uuid.NewString(),
		url:     endpoint,
		header:  make(http.Header),
		logger:  l,
		printer: NewPrinter(os.Stdout),
		ctx:     ctx,
		cancel:  cancel,
	}

	return c.With(opts...)
}

// With applies a list of options to the Client and returns the modified instance along with any error.
func (c *Client) With(opts ...Option) (*Client, error) {
	for i, opt := range opts {
		if opt == nil {
			continue
		}

		if err := opt(c); err != nil {
			return c, fmt.Errorf("failed to apply option at index %d: %w", i, err)
		}
	}

	return c, nil
}

// --------------------------------------------------------------------------------
// Connection Management

// Connect dials the endpoint and blocks until the handshake completes or fails.
//
// On success the client is Open, OnConnect has fired and the read goroutine is
// running. On failure the client is Disconnected, OnConnectFailed has fired and
// the returned error wraps ErrConnectionFailed.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()

	if c.closed {
		c.connMu.Unlock()

		return ErrClientClosed
	}

	if c.used {
		c.connMu.Unlock()

		return ErrClientUsed
	}

	c.used = true
	c.state = StateConnecting
	c.connMu.Unlock()

	dialer := &websocket.Dialer{
		Proxy:             c.config.Proxy,
		TLSClientConfig:   c.config.TLSClientConfig,
		HandshakeTimeout:  c.config.Timeout,
		ReadBufferSize:    c.config.ReadBufferSize,
		WriteBufferSize:   c.config.WriteBufferSize,
		Subprotocols:      c.config.Subprotocols,
		EnableCompression: c.config.EnableCompression,
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	conn, resp, err := dialer.DialContext(dialCtx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		c.logger.Error("Connect to %s failed: %v", c.url, err)

		if resp != nil {
			c.logger.Error("HTTP response: %s", resp.Status)
		}

		return c.failConnect(err)
	}

	c.connMu.Lock()
	if c.closed {
		c.state = StateDisconnected
		c.connMu.Unlock()

		_ = conn.Close()

		return c.failConnect(ErrClientClosed)
	}

	c.conn = conn
	c.state = StateOpen
	conn.SetReadLimit(c.config.ReadLimit)
	c.setupHandlers(conn)
	c.connMu.Unlock()

	c.logger.Info("Connected to %s [session=%s]", c.url, c.id)

	if c.config.Debug {
		c.printer.Connect(c.url)
	}

	if c.onConnected != nil {
		c.onConnected(c)
	}

	c.wg.Add(1)

	go c.run(conn)

	return nil
}

// Open starts Connect on a background goroutine.
//
// The outcome is reported only through OnConnect or OnConnectFailed.
func (c *Client) Open(ctx context.Context) {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		_ = c.Connect(ctx)
	}()
}

// RequestClose starts the closing handshake by sending a close frame with code and reason.
//
// It does not tear the connection down: OnClose fires once the peer answers or the
// read side fails. Calling it again while Closing is a no-op. In any other state it
// returns ErrNotConnected.
func (c *Client) RequestClose(code int, reason string) error {
	c.connMu.Lock()

	switch c.state {
	case StateClosing:
		c.connMu.Unlock()

		return nil
	case StateOpen:
	default:
		c.connMu.Unlock()

		return ErrNotConnected
	}

	c.state = StateClosing
	conn := c.conn
	c.connMu.Unlock()

	c.logger.Info("Closing connection: %d %s", code, reason)

	if c.config.Debug {
		c.printer.Close(code, reason)
	}

	if err := c.writeControl(conn, websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		// The peer will never see our close frame; drop the socket so the read side completes.
		c.logger.Error("Failed to send close message: %v", err)
		_ = conn.Close()

		return fmt.Errorf("close request failed: %w", err)
	}

	if c.config.CloseTimeout > 0 {
		c.wg.Add(1)

		go c.closeDeadline(conn)
	}

	return nil
}

// Close tears the client down: it cancels the lifecycle context, drops any live
// socket and waits for all goroutines. OnClose still fires if a session was live.
//
// The client can not be used afterwards.
func (c *Client) Close() {
	c.connMu.Lock()
	c.closed = true
	conn := c.conn
	c.connMu.Unlock()

	c.cancel()

	if conn != nil {
		_ = conn.Close()
	}

	c.wg.Wait()
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.state
}

// Connected reports whether the client is Open.
func (c *Client) Connected() bool {
	return c.State() == StateOpen
}

// ID returns the session identifier used in logs.
func (c *Client) ID() string {
	return c.id
}

// URL returns the endpoint.
func (c *Client) URL() string {
	return c.url
}

// Context returns the client's lifecycle context.
func (c *Client) Context() context.Context {
	return c.ctx
}

// --------------------------------------------------------------------------------
// Message Handling

// Send writes one data frame of the given type.
//
// It returns ErrNotConnected unless the client is Open.
func (c *Client) Send(typ MessageType, payload []byte) error {
	if typ != MessageText && typ != MessageBinary {
		return fmt.Errorf("unsupported message type: %d", typ)
	}

	c.connMu.RLock()
	conn, state := c.conn, c.state
	c.connMu.RUnlock()

	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}

	if err := c.write(conn, int(typ), payload); err != nil {
		return err
	}

	if c.config.Debug {
		c.printer.Outbound(typ, payload)
	}

	return nil
}

// SendText sends a text message.
func (c *Client) SendText(msg []byte) error {
	return c.Send(MessageText, msg)
}

// SendBinary sends a binary message.
func (c *Client) SendBinary(data []byte) error {
	return c.Send(MessageBinary, data)
}

// --------------------------------------------------------------------------------
// Lifecycle Management (Private)

// run reads frames until the connection ends, then reports close completion.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	done := make(chan struct{})
	defer close(done)

	if c.config.KeepAlive {
		c.wg.Add(1)

		go func() {
			defer c.wg.Done()
			c.keepAlive(conn, done)
		}()
	}

	for {
		if err := c.read(conn); err != nil {
			c.finish(conn, err)

			return
		}
	}
}

// setupHandlers configures handlers for ping, pong and close control frames.
func (c *Client) setupHandlers(conn *websocket.Conn) {
	conn.SetPingHandler(func(data string) error {
		c.logger.Debug("Ping received: %s", data)

		if c.config.Debug {
			c.printer.Ping([]byte(data))
		}

		err := c.writeControl(conn, websocket.PongMessage, []byte(data))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}

		return nil
	})

	conn.SetPongHandler(func(data string) error {
		c.logger.Debug("Pong received: %s", data)

		if c.config.Debug {
			c.printer.Pong([]byte(data))
		}

		if c.onPongReceived != nil {
			c.onPongReceived(data, c)
		}

		return nil
	})

	conn.SetCloseHandler(func(code int, text string) error {
		c.connMu.Lock()
		c.closeFrameArrived = true
		c.closeCode, c.closeReason = code, text
		peerInitiated := c.state == StateOpen

		if peerInitiated {
			c.state = StateClosing
		}
		c.connMu.Unlock()

		if peerInitiated {
			// Echo the close frame to complete the handshake started by the peer.
			msg := websocket.FormatCloseMessage(code, "")
			if code == websocket.CloseNoStatusReceived {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}

			_ = c.writeControl(conn, websocket.CloseMessage, msg)
		}

		return nil
	})
}

// keepAlive sends periodic ping messages while the session is open.
func (c *Client) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if c.State() != StateOpen {
				continue
			}

			if err := c.writeControl(conn, websocket.PingMessage, c.config.PingMessage); err != nil {
				c.handleError(fmt.Errorf("keep-alive ping failed: %w", err))

				return
			}
		}
	}
}

// closeDeadline drops conn if the closing handshake has not completed within CloseTimeout.
func (c *Client) closeDeadline(conn *websocket.Conn) {
	defer c.wg.Done()

	if err := util.Wait(c.ctx, c.config.CloseTimeout); err != nil {
		return
	}

	c.connMu.RLock()
	pending := c.conn == conn && c.state == StateClosing
	c.connMu.RUnlock()

	if pending {
		c.logger.Warn("Close handshake timed out after %v", c.config.CloseTimeout)
		_ = conn.Close()
	}
}

// finish releases conn and reports close completion exactly once.
func (c *Client) finish(conn *websocket.Conn, cause error) {
	_ = conn.Close()

	c.connMu.Lock()
	if c.notified {
		c.connMu.Unlock()

		return
	}

	c.notified = true
	wasClosing := c.state == StateClosing
	c.conn = nil
	c.state = StateDisconnected

	code, reason := websocket.CloseAbnormalClosure, cause.Error()
	if c.closeFrameArrived {
		code, reason = c.closeCode, c.closeReason
	}
	c.connMu.Unlock()

	var ce *websocket.CloseError
	if !errors.As(cause, &ce) && !wasClosing && c.ctx.Err() == nil {
		c.handleError(fmt.Errorf("message read failed: %w", cause))
	}

	c.logger.Info("Connection closed: %d %s", code, reason)

	if c.config.Debug {
		c.printer.Close(code, reason)
	}

	if c.onClosed != nil {
		c.onClosed(code, reason, c)
	}
}

// failConnect moves a dialing client back to Disconnected and reports the failure.
func (c *Client) failConnect(cause error) error {
	c.connMu.Lock()
	c.state = StateDisconnected
	c.connMu.Unlock()

	err := fmt.Errorf("%w: %w", ErrConnectionFailed, cause)

	if c.config.Debug {
		c.printer.Error(err)
	}

	if c.onConnectFailed != nil {
		c.onConnectFailed(err, c)
	}

	return err
}

// --------------------------------------------------------------------------------
// Message Handling (Private)

// read processes one incoming frame and triggers the matching callback.
func (c *Client) read(conn *websocket.Conn) error {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	c.logger.Debug("Received message [type=%d, size=%d]", msgType, len(data))

	if c.config.Debug {
		c.printer.Inbound(MessageType(msgType), data)
	}

	switch msgType {
	case websocket.TextMessage:
		if c.onTextMessage != nil {
			c.onTextMessage(data, c)
		}
	case websocket.BinaryMessage:
		if c.onBinaryMessage != nil {
			c.onBinaryMessage(data, c)
		}
	}

	return nil
}

// write transmits one frame with a write deadline based on the timeout.
func (c *Client) write(conn *websocket.Conn, msgType int, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.config.Timeout)); err != nil {
		return fmt.Errorf("set write deadline failed: %w", err)
	}

	if err := conn.WriteMessage(msgType, data); err != nil {
		err = fmt.Errorf("write failed: %w", err)
		c.handleError(err)

		return err
	}

	return nil
}

// writeControl transmits one control frame.
func (c *Client) writeControl(conn *websocket.Conn, msgType int, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return conn.WriteControl(msgType, data, time.Now().Add(c.config.Timeout))
}

// handleError logs an error and forwards it to the error callback.
func (c *Client) handleError(err error) {
	c.logger.Error("Error: %v", err)

	if c.config.Debug {
		c.printer.Error(err)
	}

	if c.onError != nil {
		c.onError(err, c)
	}
}

// --------------------------------------------------------------------------------
// Option Functions

// WithProxy routes the handshake through the proxy at rawURL. An empty rawURL
// dials directly.
func WithProxy(rawURL string) Option {
	return func(c *Client) error {
		if rawURL == "" {
			c.config.Proxy = nil

			return nil
		}

		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", rawURL, err)
		}

		if u.Host == "" {
			return fmt.Errorf("proxy URL %q has no host", rawURL)
		}

		c.config.Proxy = http.ProxyURL(u)

		return nil
	}
}

// WithEnvProxy takes the proxy from HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithEnvProxy() Option {
	return func(c *Client) error {
		c.config.Proxy = http.ProxyFromEnvironment

		return nil
	}
}

// WithTLS sets the client TLS settings used for wss:// endpoints.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) error {
		c.config.TLSClientConfig = cfg

		return nil
	}
}

// WithTimeout bounds the opening handshake and every frame write.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative: %v", timeout)
		}

		c.config.Timeout = timeout

		return nil
	}
}

// WithBuffers sizes the socket I/O buffers; zero keeps gorilla's default.
func WithBuffers(read, write int) Option {
	return func(c *Client) error {
		if read < 0 || write < 0 {
			return fmt.Errorf("buffer sizes cannot be negative: read=%d, write=%d", read, write)
		}

		c.config.ReadBufferSize, c.config.WriteBufferSize = read, write

		return nil
	}
}

// WithSubprotocols offers protos in the handshake.
func WithSubprotocols(protos ...string) Option {
	return func(c *Client) error {
		for _, p := range protos {
			if p == "" {
				return errors.New("subprotocol cannot be empty")
			}
		}

		c.config.Subprotocols = protos

		return nil
	}
}

// WithCompression negotiates permessage-deflate when enable is true.
func WithCompression(enable bool) Option {
	return func(c *Client) error {
		c.config.EnableCompression = enable

		return nil
	}
}

// WithReadLimit drops the session when an inbound message exceeds limit bytes.
// Zero disables the limit.
func WithReadLimit(limit int64) Option {
	return func(c *Client) error {
		if limit < 0 {
			return fmt.Errorf("read limit cannot be negative: %d", limit)
		}

		c.config.ReadLimit = limit

		return nil
	}
}

// WithKeepAlive enables periodic ping messages with a custom interval and payload.
//
// Returns an error if the interval is not positive.
func WithKeepAlive(interval time.Duration, msg []byte) Option {
	return func(c *Client) error {
		if interval <= 0 {
			return fmt.Errorf("ping interval must be positive: %v", interval)
		}

		c.config.KeepAlive = true
		c.config.PingInterval = interval
		c.config.PingMessage = msg

		return nil
	}
}

// WithCloseTimeout bounds how long RequestClose waits for the peer before dropping
// the socket. Zero, the default, waits indefinitely.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("close timeout cannot be negative: %v", timeout)
		}

		c.config.CloseTimeout = timeout

		return nil
	}
}

// WithDebug dumps every frame in and out with colored formatting.
func WithDebug(enable bool) Option {
	return func(c *Client) error {
		c.config.Debug = enable

		return nil
	}
}

// WithDebugWriter redirects the debug frame dump to w.
//
// Returns an error if w is nil.
func WithDebugWriter(w io.Writer) Option {
	return func(c *Client) error {
		if w == nil {
			return errors.New("debug writer cannot be nil")
		}

		c.printer = NewPrinter(w)

		return nil
	}
}

// WithLogger sets a custom logger for the client.
//
// Returns an error if the logger is nil.
func WithLogger(l logger.Interface) Option {
	return func(c *Client) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}

		c.logger = l

		return nil
	}
}

// WithHeaders adds headers to the opening handshake request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) error {
		for k, v := range headers {
			if k == "" {
				return errors.New("header key cannot be empty")
			}

			c.header.Set(k, v)
		}

		return nil
	}
}

// OnConnect registers a callback for successful connection.
func OnConnect(fn func(*Client)) Option {
	return func(c *Client) error {
		c.onConnected = fn

		return nil
	}
}

// OnConnectFailed registers a callback for a failed dial or handshake.
func OnConnectFailed(fn func(error, *Client)) Option {
	return func(c *Client) error {
		c.onConnectFailed = fn

		return nil
	}
}

// OnText registers a callback for incoming text messages.
func OnText(fn func([]byte, *Client)) Option {
	return func(c *Client) error {
		c.onTextMessage = fn

		return nil
	}
}

// OnBinary registers a callback for incoming binary messages.
func OnBinary(fn func([]byte, *Client)) Option {
	return func(c *Client) error {
		c.onBinaryMessage = fn

		return nil
	}
}

// OnPong registers a callback for pongs, typically answers to keep-alive pings.
func OnPong(fn func(string, *Client)) Option {
	return func(c *Client) error {
		c.onPongReceived = fn

		return nil
	}
}

// OnClose registers the close-completion callback. It fires exactly once per
// session with the close code and reason; abnormal endings report 1006.
func OnClose(fn func(int, string, *Client)) Option {
	return func(c *Client) error {
		c.onClosed = fn

		return nil
	}
}

// OnError registers a callback for error handling.
func OnError(fn func(error, *Client)) Option {
	return func(c *Client) error {
		c.onError = fn

		return nil
	}
}
