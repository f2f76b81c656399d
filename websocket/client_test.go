package websocket_test

import (
	"bytes"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qntx/wsloop/echoserver"
	"github.com/qntx/wsloop/logger"
	"github.com/qntx/wsloop/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------------
// Helpers

// recorder collects callback invocations.
type recorder struct {
	mu       sync.Mutex
	opened   int
	failed   []error
	texts    []string
	binaries [][]byte
	closes   []int
}

func (r *recorder) options() []websocket.Option {
	return []websocket.Option{
		websocket.WithLogger(logger.Nop()),
		websocket.WithTimeout(2 * time.Second),
		websocket.OnConnect(func(*websocket.Client) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.opened++
		}),
		websocket.OnConnectFailed(func(err error, _ *websocket.Client) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed = append(r.failed, err)
		}),
		websocket.OnText(func(b []byte, _ *websocket.Client) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.texts = append(r.texts, string(b))
		}),
		websocket.OnBinary(func(b []byte, _ *websocket.Client) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.binaries = append(r.binaries, b)
		}),
		websocket.OnClose(func(code int, _ string, _ *websocket.Client) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.closes = append(r.closes, code)
		}),
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()

	return recorder{
		opened:   r.opened,
		failed:   append([]error(nil), r.failed...),
		texts:    append([]string(nil), r.texts...),
		binaries: append([][]byte(nil), r.binaries...),
		closes:   append([]int(nil), r.closes...),
	}
}

func startEcho(t *testing.T, opts ...echoserver.Option) (*echoserver.Server, string) {
	t.Helper()

	es := echoserver.New(opts...)
	srv := httptest.NewServer(es.Router())

	t.Cleanup(srv.Close)
	t.Cleanup(es.Close)

	return es, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// --------------------------------------------------------------------------------
// Tests

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		opts    []websocket.Option
		wantErr bool
	}{
		{name: "Valid", url: "ws://localhost:9000"},
		{name: "EmptyURL", url: "", wantErr: true},
		{name: "NegativeTimeout", url: "ws://x", opts: []websocket.Option{websocket.WithTimeout(-1)}, wantErr: true},
		{name: "NegativeBuffers", url: "ws://x", opts: []websocket.Option{websocket.WithBuffers(-1, 0)}, wantErr: true},
		{name: "ZeroPing", url: "ws://x", opts: []websocket.Option{websocket.WithKeepAlive(0, nil)}, wantErr: true},
		{name: "NilLogger", url: "ws://x", opts: []websocket.Option{websocket.WithLogger(nil)}, wantErr: true},
		{name: "EmptyHeader", url: "ws://x", opts: []websocket.Option{websocket.WithHeaders(map[string]string{"": "v"})}, wantErr: true},
		{name: "BadProxy", url: "ws://x", opts: []websocket.Option{websocket.WithProxy("://proxy")}, wantErr: true},
		{name: "HostlessProxy", url: "ws://x", opts: []websocket.Option{websocket.WithProxy("http://")}, wantErr: true},
		{name: "NegativeReadLimit", url: "ws://x", opts: []websocket.Option{websocket.WithReadLimit(-1)}, wantErr: true},
		{name: "EmptySubprotocol", url: "ws://x", opts: []websocket.Option{websocket.WithSubprotocols("")}, wantErr: true},
		{name: "TransportOptions", url: "wss://x", opts: []websocket.Option{
			websocket.WithProxy("http://127.0.0.1:3128"),
			websocket.WithEnvProxy(),
			websocket.WithTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
			websocket.WithBuffers(4096, 4096),
			websocket.WithSubprotocols("chat"),
			websocket.WithCompression(true),
			websocket.WithReadLimit(1 << 20),
		}},
		{name: "NilOption", url: "ws://x", opts: []websocket.Option{nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := websocket.New(tt.url, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, websocket.StateDisconnected, c.State())
			assert.NotEmpty(t, c.ID())
		})
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	t.Parallel()

	c, err := websocket.New("ws://127.0.0.1:1", websocket.WithLogger(logger.Nop()))
	require.NoError(t, err)

	require.ErrorIs(t, c.SendText([]byte("x")), websocket.ErrNotConnected)
	require.ErrorIs(t, c.RequestClose(websocket.CloseNormalClosure, ""), websocket.ErrNotConnected)
}

func TestEchoRoundTripAndGracefulClose(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t)

	rec := &recorder{}
	c, err := websocket.New(url, rec.options()...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(t.Context()))
	assert.Equal(t, websocket.StateOpen, c.State())

	require.NoError(t, c.SendText([]byte("Hello, world!")))
	require.NoError(t, c.SendBinary([]byte{0x00, 0x01, 0x03, 0x04}))

	require.Eventually(t, func() bool {
		s := rec.snapshot()

		return len(s.texts) == 1 && len(s.binaries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.RequestClose(websocket.CloseNormalClosure, "bye"))
	require.NoError(t, c.RequestClose(websocket.CloseNormalClosure, "bye"), "duplicate close request is a no-op")
	require.ErrorIs(t, c.SendText([]byte("late")), websocket.ErrNotConnected)

	require.Eventually(t, func() bool { return c.State() == websocket.StateDisconnected }, 2*time.Second, 10*time.Millisecond)

	c.Close()

	s := rec.snapshot()
	assert.Equal(t, 1, s.opened)
	assert.Equal(t, []string{"Hello, world!"}, s.texts)
	assert.Equal(t, [][]byte{{0x00, 0x01, 0x03, 0x04}}, s.binaries)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, s.closes, "close completion fires exactly once")
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	c, err := websocket.New("ws://127.0.0.1:1", rec.options()...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	err = c.Connect(t.Context())
	require.ErrorIs(t, err, websocket.ErrConnectionFailed)
	assert.Equal(t, websocket.StateDisconnected, c.State())

	s := rec.snapshot()
	assert.Len(t, s.failed, 1)
	assert.Zero(t, s.opened)
	assert.Empty(t, s.closes)

	require.ErrorIs(t, c.Connect(t.Context()), websocket.ErrClientUsed)
}

func TestOpenIsAsynchronous(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t)

	rec := &recorder{}
	c, err := websocket.New(url, rec.options()...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.Open(t.Context())

	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.snapshot().opened)
}

func TestServerInitiatedClose(t *testing.T) {
	t.Parallel()

	es, url := startEcho(t)

	rec := &recorder{}
	c, err := websocket.New(url, rec.options()...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(t.Context()))
	require.Eventually(t, func() bool { return es.Connections() == 1 }, time.Second, 10*time.Millisecond)

	es.Close()

	require.Eventually(t, func() bool { return len(rec.snapshot().closes) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, websocket.StateDisconnected, c.State())
	assert.Equal(t, []int{websocket.CloseAbnormalClosure}, rec.snapshot().closes)
}

func TestCloseTimeout(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t, echoserver.WithIgnoreClose(true))

	rec := &recorder{}
	opts := append(rec.options(), websocket.WithCloseTimeout(100*time.Millisecond))
	c, err := websocket.New(url, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(t.Context()))
	require.NoError(t, c.RequestClose(websocket.CloseNormalClosure, ""))

	assert.Equal(t, websocket.StateClosing, c.State())
	require.Eventually(t, func() bool { return len(rec.snapshot().closes) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, websocket.StateDisconnected, c.State())
}

func TestTeardownReportsClose(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t)

	rec := &recorder{}
	c, err := websocket.New(url, rec.options()...)
	require.NoError(t, err)

	require.NoError(t, c.Connect(t.Context()))
	c.Close()

	assert.Equal(t, []int{websocket.CloseAbnormalClosure}, rec.snapshot().closes)
	require.ErrorIs(t, c.Connect(t.Context()), websocket.ErrClientClosed)
}

func TestDebugDump(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t)

	var buf bytes.Buffer

	var mu sync.Mutex

	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()

		return buf.Write(p)
	})

	rec := &recorder{}
	opts := append(rec.options(), websocket.WithDebug(true), websocket.WithDebugWriter(w))
	c, err := websocket.New(url, opts...)
	require.NoError(t, err)

	require.NoError(t, c.Connect(t.Context()))
	require.NoError(t, c.SendText([]byte("dumped")))
	require.Eventually(t, func() bool { return len(rec.snapshot().texts) == 1 }, 2*time.Second, 10*time.Millisecond)
	c.Close()

	mu.Lock()
	out := buf.String()
	mu.Unlock()

	assert.Contains(t, out, "CONNECTED")
	assert.Contains(t, out, "SEND")
	assert.Contains(t, out, "RECV")
	assert.Contains(t, out, "dumped")
}

func TestKeepAlive(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t)

	var (
		mu    sync.Mutex
		pongs []string
	)

	rec := &recorder{}
	opts := append(rec.options(),
		websocket.WithKeepAlive(10*time.Millisecond, []byte("hb")),
		websocket.OnPong(func(data string, _ *websocket.Client) {
			mu.Lock()
			defer mu.Unlock()
			pongs = append(pongs, data)
		}),
	)
	c, err := websocket.New(url, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(t.Context()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(pongs) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "hb", pongs[0])
	mu.Unlock()

	require.NoError(t, c.RequestClose(websocket.CloseNormalClosure, ""))
	require.Eventually(t, func() bool { return len(rec.snapshot().closes) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{websocket.CloseNormalClosure}, rec.snapshot().closes)
}

func TestHandshakeOptions(t *testing.T) {
	t.Parallel()

	es := echoserver.New()
	router := es.Router()
	seen := make(chan http.Header, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case seen <- r.Header.Clone():
		default:
		}

		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(es.Close)

	rec := &recorder{}
	opts := append(rec.options(),
		websocket.WithHeaders(map[string]string{"X-Session-Tag": "wsloop"}),
		websocket.WithSubprotocols("wsloop.v1"),
		websocket.WithCompression(true),
	)
	c, err := websocket.New("ws"+strings.TrimPrefix(srv.URL, "http"), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(t.Context()))

	h := <-seen
	assert.Equal(t, "wsloop", h.Get("X-Session-Tag"))
	assert.Equal(t, "wsloop.v1", h.Get("Sec-Websocket-Protocol"))
	assert.Contains(t, h.Get("Sec-Websocket-Extensions"), "permessage-deflate")
}

func TestReadLimit(t *testing.T) {
	t.Parallel()

	_, url := startEcho(t)

	rec := &recorder{}
	opts := append(rec.options(), websocket.WithReadLimit(4))
	c, err := websocket.New(url, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect(t.Context()))
	require.NoError(t, c.SendText([]byte("larger than four bytes")))

	require.Eventually(t, func() bool { return len(rec.snapshot().closes) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, rec.snapshot().texts)
	assert.Equal(t, websocket.StateDisconnected, c.State())
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
