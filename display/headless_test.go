package display_test

import (
	"sync"
	"testing"

	"github.com/qntx/wsloop/display"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadlessEvents(t *testing.T) {
	t.Parallel()

	h := display.NewHeadless()
	assert.Empty(t, h.PollEvents())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			h.Quit()
		}()
	}
	wg.Wait()

	evs := h.PollEvents()
	require.Len(t, evs, 4)

	for _, ev := range evs {
		assert.Equal(t, display.EventQuit, ev.Kind)
	}

	assert.Empty(t, h.PollEvents(), "events are drained once")
}

func TestHeadlessRender(t *testing.T) {
	t.Parallel()

	h := display.NewHeadless()

	lines := []string{"a"}
	require.NoError(t, h.Render(display.Frame{Title: "t", Received: 3, Lines: lines}))
	lines[0] = "mutated"

	f := h.LastFrame()
	assert.Equal(t, 3, f.Received)
	assert.Equal(t, []string{"a"}, f.Lines, "frame lines are copied")
	assert.Equal(t, 1, h.Renders())

	require.NoError(t, h.Close())
	assert.True(t, h.Closed())
}
