// Package echoserver provides the local WebSocket echo peer the run loop talks to
// during development and in end-to-end tests. Frames are echoed back with their
// original type; close frames are answered unless the server is told to ignore them.
package echoserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/qntx/wsloop/logger"
)

// DefaultAddr is the listen address the client dials by default.
const DefaultAddr = "127.0.0.1:9000"

// Option configures a Server.
type Option func(*Server)

// Server is a WebSocket echo server.
type Server struct {
	upgrader    websocket.Upgrader
	logger      logger.Interface
	echo        bool
	ignoreClose bool

	mu    sync.Mutex
	peers map[*peer]struct{}
	done  chan struct{}
	once  sync.Once
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peer) write(typ int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.conn.WriteMessage(typ, data)
}

// New creates a Server. By default it echoes every frame and answers close frames.
func New(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Nop(),
		echo:   true,
		peers:  make(map[*peer]struct{}),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithLogger sets the server logger.
func WithLogger(l logger.Interface) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEcho toggles echoing of data frames.
func WithEcho(enable bool) Option {
	return func(s *Server) { s.echo = enable }
}

// WithIgnoreClose makes the server swallow close frames and keep the socket open
// until Close, simulating a peer that never completes the closing handshake.
func WithIgnoreClose(enable bool) Option {
	return func(s *Server) { s.ignoreClose = enable }
}

// Router returns a gin engine serving the echo endpoint on "/" and "/ws".
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", s.handle)
	r.GET("/ws", s.handle)

	return r
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("Echo server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("echo server failed: %w", err)
	case <-ctx.Done():
	}

	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("echo server shutdown failed: %w", err)
	}

	return nil
}

// Broadcast writes one frame to every connected peer.
func (s *Server) Broadcast(typ int, data []byte) error {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var errs []error

	for _, p := range peers {
		if err := p.write(typ, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Connections returns the number of connected peers.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.peers)
}

// Close drops every peer and releases handlers held open by WithIgnoreClose.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()

	for p := range s.peers {
		_ = p.conn.Close()
	}
}

func (s *Server) handle(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed: %v", err)

		return
	}

	p := &peer{conn: conn}

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()

		_ = conn.Close()
	}()

	s.logger.Info("Client connected: %s", conn.RemoteAddr())

	if s.ignoreClose {
		conn.SetCloseHandler(func(code int, text string) error {
			s.logger.Info("Ignoring close frame: %d %s", code, text)

			return nil
		})
	}

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("Client disconnected: %v", err)

			if s.ignoreClose {
				<-s.done
			}

			return
		}

		if !s.echo {
			continue
		}

		if err := p.write(typ, msg); err != nil {
			s.logger.Warn("Echo failed: %v", err)

			return
		}
	}
}
