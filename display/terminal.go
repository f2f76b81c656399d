package display

import (
	"fmt"
	"sync"

	"github.com/nsf/termbox-go"
)

// Terminal is a resizable full-screen Surface drawn with termbox-go.
// Esc, q and Ctrl+C produce EventQuit.
type Terminal struct {
	events chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Surface = (*Terminal)(nil)

// eventBuffer is how many input events wait for PollEvents before new ones are dropped.
const eventBuffer = 64

// NewTerminal takes over the terminal and starts pumping input events.
func NewTerminal() (*Terminal, error) {
	if err := termbox.Init(); err != nil {
		return nil, fmt.Errorf("terminal init failed: %w", err)
	}

	termbox.SetInputMode(termbox.InputEsc)

	t := &Terminal{events: make(chan Event, eventBuffer)}

	t.wg.Add(1)

	go t.pump(termbox.PollEvent)

	return t, nil
}

// pump forwards translated events from poll until it reports an interrupt.
//
// It never blocks on a full queue: Close relies on the pump getting back to
// poll to receive the interrupt.
func (t *Terminal) pump(poll func() termbox.Event) {
	defer t.wg.Done()

	for {
		ev := poll()
		if ev.Type == termbox.EventInterrupt {
			return
		}

		out, ok := translate(ev)
		if !ok {
			continue
		}

		select {
		case t.events <- out:
		default:
		}
	}
}

// translate maps a termbox event to a surface event.
func translate(ev termbox.Event) (Event, bool) {
	switch ev.Type {
	case termbox.EventKey:
		if ev.Key == termbox.KeyEsc || ev.Key == termbox.KeyCtrlC || ev.Ch == 'q' {
			return Event{Kind: EventQuit}, true
		}
	case termbox.EventResize:
		return Event{Kind: EventResize, Width: ev.Width, Height: ev.Height}, true
	case termbox.EventError:
		return Event{Kind: EventQuit}, true
	}

	return Event{}, false
}

// PollEvents drains pending input without blocking.
func (t *Terminal) PollEvents() []Event {
	var evs []Event

	for {
		select {
		case ev := <-t.events:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

// Render draws f.
func (t *Terminal) Render(f Frame) error {
	if err := termbox.Clear(termbox.ColorDefault, termbox.ColorDefault); err != nil {
		return err
	}

	w, h := termbox.Size()
	y := 0

	put := func(s string, fg termbox.Attribute) {
		if y >= h {
			return
		}

		x := 0
		for _, r := range s {
			if x >= w {
				break
			}

			termbox.SetCell(x, y, r, fg, termbox.ColorDefault)
			x++
		}
		y++
	}

	put(f.Title, termbox.ColorCyan|termbox.AttrBold)
	put(fmt.Sprintf("endpoint: %s", f.Endpoint), termbox.ColorDefault)
	put(fmt.Sprintf("state:    %s", f.State), stateColor(f.State))
	put(fmt.Sprintf("received: %d", f.Received), termbox.ColorGreen|termbox.AttrBold)
	put(fmt.Sprintf("sent:     %d", f.Sent), termbox.ColorDefault)
	y++

	for _, line := range f.Lines {
		put(line, termbox.ColorDefault)
	}

	if h > 0 {
		y = h - 1
		put("esc / q to quit", termbox.ColorYellow)
	}

	return termbox.Flush()
}

// Close stops the event pump and restores the terminal.
func (t *Terminal) Close() error {
	t.once.Do(func() {
		termbox.Interrupt()
		t.wg.Wait()
		termbox.Close()
	})

	return nil
}

func stateColor(state string) termbox.Attribute {
	switch state {
	case "open":
		return termbox.ColorGreen
	case "closing", "connecting":
		return termbox.ColorYellow
	default:
		return termbox.ColorRed
	}
}
