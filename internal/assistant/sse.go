// ABOUTME: Minimal server-sent events reader shared by the streaming backends
// ABOUTME: Yields event name + data pairs and stops at the DONE sentinel

package assistant

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event.
type sseEvent struct {
	Event string
	Data  string
}

// sseDone is the end-of-stream sentinel both OpenAI-style APIs send.
const sseDone = "[DONE]"

// readSSE consumes a text/event-stream body, invoking handle for each event
// until EOF, the DONE sentinel, or a handler error.
func readSSE(body io.Reader, handle func(ev sseEvent) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current sseEvent
	flush := func() error {
		if current.Data == "" {
			current = sseEvent{}
			return nil
		}
		if current.Data == sseDone {
			return io.EOF
		}
		err := handle(current)
		current = sseEvent{}
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, "event:"):
			current.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if current.Data != "" {
				current.Data += "\n"
			}
			current.Data += data
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
