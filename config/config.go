// Package config loads runtime settings. An optional .env file is applied first,
// then WSLOOP_* environment variables override the built-in defaults.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/qntx/wsloop/websocket"
	"github.com/spf13/viper"
)

// ProxyFromEnv selects the proxy from HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
const ProxyFromEnv = "env"

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "WSLOOP"

// Display modes.
const (
	DisplayTerminal = "terminal"
	DisplayHeadless = "headless"
)

// Config holds every runtime setting.
type Config struct {
	URL           string        `mapstructure:"url"`
	SendInterval  time.Duration `mapstructure:"send_interval"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	CloseCode     int           `mapstructure:"close_code"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	Display       string        `mapstructure:"display"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFile       string        `mapstructure:"log_file"`
	JournalFile   string        `mapstructure:"journal_file"`
	Debug         bool          `mapstructure:"debug"`
	Strict        bool          `mapstructure:"strict"`

	// Transport settings for the WebSocket handshake and socket.
	Proxy        string   `mapstructure:"proxy"`
	Headers      []string `mapstructure:"headers"`
	Subprotocols []string `mapstructure:"subprotocols"`
	Compression  bool     `mapstructure:"compression"`
	TLSInsecure  bool     `mapstructure:"tls_insecure"`
	ReadLimit    int64    `mapstructure:"read_limit"`
	ReadBuffer   int      `mapstructure:"read_buffer"`
	WriteBuffer  int      `mapstructure:"write_buffer"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		URL:           "ws://localhost:9000",
		SendInterval:  time.Second,
		FrameInterval: time.Second / 60,
		CloseCode:     1000,
		Display:       DisplayTerminal,
		LogLevel:      "info",
		LogFile:       "wsloop.log",
	}
}

// Load reads envFiles (".env" when none are given; missing files are ignored)
// and resolves the configuration from the environment over the defaults.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	d := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("url", d.URL)
	v.SetDefault("send_interval", d.SendInterval)
	v.SetDefault("frame_interval", d.FrameInterval)
	v.SetDefault("close_code", d.CloseCode)
	v.SetDefault("close_timeout", d.CloseTimeout)
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("display", d.Display)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("journal_file", d.JournalFile)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("strict", d.Strict)
	v.SetDefault("proxy", d.Proxy)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("tls_insecure", d.TLSInsecure)
	v.SetDefault("read_limit", d.ReadLimit)
	v.SetDefault("read_buffer", d.ReadBuffer)
	v.SetDefault("write_buffer", d.WriteBuffer)

	// Lists have no default; binding keeps them nil unless set.
	for _, key := range []string{"headers", "subprotocols"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, errors.New("url cannot be empty"))
	}

	if c.SendInterval <= 0 {
		errs = append(errs, fmt.Errorf("send_interval must be positive: %v", c.SendInterval))
	}

	if c.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("frame_interval must be positive: %v", c.FrameInterval))
	}

	if c.CloseCode < 1000 || c.CloseCode > 4999 {
		errs = append(errs, fmt.Errorf("close_code out of range: %d", c.CloseCode))
	}

	if c.CloseTimeout < 0 || c.PingInterval < 0 {
		errs = append(errs, errors.New("close_timeout and ping_interval cannot be negative"))
	}

	if c.Display != DisplayTerminal && c.Display != DisplayHeadless {
		errs = append(errs, fmt.Errorf("unknown display %q", c.Display))
	}

	if c.ReadLimit < 0 || c.ReadBuffer < 0 || c.WriteBuffer < 0 {
		errs = append(errs, errors.New("read_limit, read_buffer and write_buffer cannot be negative"))
	}

	if _, err := c.HeaderMap(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// HeaderMap parses Headers, each entry written as "Key=Value".
func (c Config) HeaderMap() (map[string]string, error) {
	if len(c.Headers) == 0 {
		return nil, nil
	}

	m := make(map[string]string, len(c.Headers))

	for _, h := range c.Headers {
		k, v, ok := strings.Cut(h, "=")
		k = strings.TrimSpace(k)

		if !ok || k == "" {
			return nil, fmt.Errorf("header %q is not Key=Value", h)
		}

		m[k] = strings.TrimSpace(v)
	}

	return m, nil
}

// ClientOptions turns the transport settings into WebSocket client options.
// Frame dumps from Debug go to debugOut.
func (c Config) ClientOptions(debugOut io.Writer) ([]websocket.Option, error) {
	headers, err := c.HeaderMap()
	if err != nil {
		return nil, err
	}

	opts := []websocket.Option{
		websocket.WithCloseTimeout(c.CloseTimeout),
		websocket.WithDebug(c.Debug),
		websocket.WithBuffers(c.ReadBuffer, c.WriteBuffer),
		websocket.WithReadLimit(c.ReadLimit),
		websocket.WithCompression(c.Compression),
		websocket.WithHeaders(headers),
	}

	if debugOut != nil {
		opts = append(opts, websocket.WithDebugWriter(debugOut))
	}

	if len(c.Subprotocols) > 0 {
		opts = append(opts, websocket.WithSubprotocols(c.Subprotocols...))
	}

	switch c.Proxy {
	case "":
	case ProxyFromEnv:
		opts = append(opts, websocket.WithEnvProxy())
	default:
		opts = append(opts, websocket.WithProxy(c.Proxy))
	}

	if c.TLSInsecure {
		opts = append(opts, websocket.WithTLS(&tls.Config{InsecureSkipVerify: true})) //nolint:gosec // opt-in for self-signed dev peers
	}

	if c.PingInterval > 0 {
		opts = append(opts, websocket.WithKeepAlive(c.PingInterval, []byte(websocket.DefaultPingMessage)))
	}

	return opts, nil
}
