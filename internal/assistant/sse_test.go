// ABOUTME: Tests for the server-sent events reader
// ABOUTME: Covers named events, multi-line data, DONE sentinel, and handler errors

package assistant

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, stream string) []sseEvent {
	t.Helper()
	var events []sseEvent
	require.NoError(t, readSSE(strings.NewReader(stream), func(ev sseEvent) error {
		events = append(events, ev)
		return nil
	}))
	return events
}

func TestReadSSEDataOnly(t *testing.T) {
	events := collect(t, "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n")
	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, `{"b":2}`, events[1].Data)
}

func TestReadSSENamedEvents(t *testing.T) {
	events := collect(t, "event: thread.message.delta\ndata: {\"x\":1}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "thread.message.delta", events[0].Event)
}

func TestReadSSEStopsAtDone(t *testing.T) {
	events := collect(t, "data: first\n\ndata: [DONE]\n\ndata: never\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "first", events[0].Data)
}

func TestReadSSEMultiLineData(t *testing.T) {
	events := collect(t, "data: line1\ndata: line2\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "line1\nline2", events[0].Data)
}

func TestReadSSEFlushesTrailingEventWithoutBlankLine(t *testing.T) {
	events := collect(t, "data: tail")
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Data)
}

func TestReadSSEPropagatesHandlerError(t *testing.T) {
	wantErr := errors.New("boom")
	err := readSSE(strings.NewReader("data: x\n\n"), func(ev sseEvent) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}
