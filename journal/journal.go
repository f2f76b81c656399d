// Package journal records inbound WebSocket messages as JSON lines so that the
// size and content of every message can be recovered after a run.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
)

// --------------------------------------------------------------------------------
// Types

// Entry is one recorded message. Text payloads are stored verbatim, binary
// payloads as base64 in Data.
type Entry struct {
	Seq     int64     `json:"seq"`
	Session string    `json:"session,omitempty"`
	Type    string    `json:"type"`
	Size    int       `json:"size"`
	Text    string    `json:"text,omitempty"`
	Data    []byte    `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// Payload returns the message bytes regardless of type.
func (e Entry) Payload() []byte {
	if e.Type == "text" {
		return []byte(e.Text)
	}

	return e.Data
}

// Journal appends entries to a writer. It is safe for concurrent use.
type Journal struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	seq    int64
}

// --------------------------------------------------------------------------------
// Constructors

// New creates a Journal writing to w.
func New(w io.Writer) *Journal {
	return &Journal{w: w}
}

// Create opens (or truncates) path and returns a Journal writing to it.
func Create(path string) (*Journal, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal %q: %w", path, err)
	}

	return &Journal{w: f, closer: f}, nil
}

// --------------------------------------------------------------------------------
// Public Methods

// Record appends one message and returns the stored entry.
//
// kind is "text" or "binary"; the sequence number and timestamp are assigned here.
func (j *Journal) Record(session, kind string, payload []byte) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++

	e := Entry{
		Seq:     j.seq,
		Session: session,
		Type:    kind,
		Size:    len(payload),
		At:      time.Now().UTC(),
	}

	if kind == "text" {
		e.Text = string(payload)
	} else {
		e.Data = append([]byte(nil), payload...)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("failed to encode journal entry: %w", err)
	}

	line = append(line, '\n')

	if _, err := j.w.Write(line); err != nil {
		return e, fmt.Errorf("failed to write journal entry: %w", err)
	}

	return e, nil
}

// Len returns the number of recorded entries.
func (j *Journal) Len() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.seq
}

// Close closes the underlying file, if the Journal owns one.
func (j *Journal) Close() error {
	if j.closer == nil {
		return nil
	}

	return j.closer.Close()
}

// ReadAll decodes every entry from r.
func ReadAll(r io.Reader) ([]Entry, error) {
	var entries []Entry

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("failed to decode journal line %d: %w", len(entries)+1, err)
		}

		entries = append(entries, e)
	}

	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return entries, fmt.Errorf("failed to read journal: %w", err)
	}

	return entries, nil
}
