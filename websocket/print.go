package websocket

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Printer writes a colorized, human-readable dump of frames and lifecycle events.
//
// It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Connect prints a connection-established banner.
func (p *Printer) Connect(endpoint string) {
	p.line(color.New(color.FgHiGreen, color.Bold), "🔗 CONNECTED", endpoint)
}

// Inbound prints a received data frame.
func (p *Printer) Inbound(typ MessageType, data []byte) {
	p.frame(color.New(color.FgHiCyan, color.Bold), "⬇ RECV", typ, data)
}

// Outbound prints a sent data frame.
func (p *Printer) Outbound(typ MessageType, data []byte) {
	p.frame(color.New(color.FgHiMagenta, color.Bold), "⬆ SEND", typ, data)
}

// Ping prints a received ping.
func (p *Printer) Ping(data []byte) {
	p.line(color.New(color.FgYellow), "🏓 PING", string(data))
}

// Pong prints a received pong.
func (p *Printer) Pong(data []byte) {
	p.line(color.New(color.FgYellow), "🏓 PONG", string(data))
}

// Close prints a close request or completion.
func (p *Printer) Close(code int, reason string) {
	p.line(color.New(color.FgHiRed, color.Bold), "❌ CLOSE", fmt.Sprintf("%d %s", code, reason))
}

// Error prints an error.
func (p *Printer) Error(err error) {
	p.line(color.New(color.FgRed), "⚠ ERROR", err.Error())
}

func (p *Printer) frame(head *color.Color, label string, typ MessageType, data []byte) {
	var body string

	switch typ {
	case MessageText:
		body = string(data)
	default:
		body = strings.TrimRight(hex.Dump(data), "\n")
	}

	p.line(head, label, fmt.Sprintf("[%s, %d bytes] %s", typ, len(data), body))
}

func (p *Printer) line(head *color.Color, label, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = fmt.Fprintf(p.w, "%s %s %s\n", time.Now().Format(time.TimeOnly), head.Sprint(label), detail)
}
