// ABOUTME: Streaming response helper for incremental delivery to Teams
// ABOUTME: Queues text chunks as typing updates and guarantees one final message

package connector

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/teams-gateway/internal/activity"
)

// Stream types carried in the streaminfo entity.
const (
	streamTypeInformative = "informative"
	streamTypeStreaming   = "streaming"
	streamTypeFinal       = "final"
)

// defaultChunkInterval throttles intermediate updates; Teams rate-limits
// streaming activities to roughly one per second.
const defaultChunkInterval = time.Second

// ActivityPoster is what the streaming response needs from the connector.
type ActivityPoster interface {
	SendToConversation(ctx context.Context, act *activity.Activity) (string, error)
}

// StreamingResponse accumulates text deltas and delivers them to the
// conversation as a stream of typing updates followed by exactly one final
// message. EndStream is safe to call from a deferred cleanup path and is
// guaranteed to fire at most once.
type StreamingResponse struct {
	poster   ActivityPoster
	inbound  *activity.Activity
	logger   *slog.Logger
	interval time.Duration

	// AILabel marks the final message as AI-generated; FeedbackLoop asks
	// the client to render feedback buttons on it.
	AILabel      bool
	FeedbackLoop bool

	mu       sync.Mutex
	buf      strings.Builder
	streamID string
	seq      int
	lastSent time.Time

	endOnce sync.Once
	endErr  error
}

// NewStreamingResponse creates a streaming response for one inbound turn.
func NewStreamingResponse(poster ActivityPoster, inbound *activity.Activity, logger *slog.Logger) *StreamingResponse {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamingResponse{
		poster:   poster,
		inbound:  inbound,
		logger:   logger.With("component", "streaming"),
		interval: defaultChunkInterval,
		streamID: uuid.New().String(),
	}
}

// QueueTextChunk appends a delta to the pending text and, if the throttle
// window has passed, flushes an intermediate streaming update. Send errors
// on intermediate updates are logged and swallowed; the final message is
// the delivery that matters.
func (s *StreamingResponse) QueueTextChunk(ctx context.Context, delta string) {
	s.mu.Lock()
	s.buf.WriteString(delta)
	due := time.Since(s.lastSent) >= s.interval
	var snapshot string
	if due {
		snapshot = s.buf.String()
		s.lastSent = time.Now()
		s.seq++
	}
	seq := s.seq
	s.mu.Unlock()

	if !due || snapshot == "" {
		return
	}
	s.sendUpdate(ctx, streamTypeStreaming, snapshot, seq)
}

// QueueInformative sends a status update ("Working on it...") that is not
// part of the accumulated reply text.
func (s *StreamingResponse) QueueInformative(ctx context.Context, text string) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	s.sendUpdate(ctx, streamTypeInformative, text, seq)
}

// Text returns the accumulated reply text so far.
func (s *StreamingResponse) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// EndStream sends the final message carrying the full accumulated text.
// It runs at most once no matter how many times it is called.
func (s *StreamingResponse) EndStream(ctx context.Context) error {
	s.endOnce.Do(func() {
		s.mu.Lock()
		text := s.buf.String()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		final := s.inbound.NewReply(text)
		final.Entities = s.finalEntities(seq)
		if _, err := s.poster.SendToConversation(ctx, final); err != nil {
			s.endErr = err
			s.logger.Error("failed to send final stream message",
				"conversation_id", s.inbound.Conversation.ID,
				"error", err)
		}
	})
	return s.endErr
}

func (s *StreamingResponse) sendUpdate(ctx context.Context, streamType, text string, seq int) {
	update := s.inbound.NewReply(text)
	update.Type = activity.TypeTyping
	update.ReplyToID = ""
	update.Entities = []activity.Entity{streamInfoEntity(s.streamID, streamType, seq)}

	if _, err := s.poster.SendToConversation(ctx, update); err != nil {
		s.logger.Warn("failed to send stream update",
			"conversation_id", s.inbound.Conversation.ID,
			"stream_type", streamType,
			"error", err)
	}
}

func (s *StreamingResponse) finalEntities(seq int) []activity.Entity {
	entities := []activity.Entity{streamInfoEntity(s.streamID, streamTypeFinal, seq)}
	if s.AILabel || s.FeedbackLoop {
		msg := activity.Entity{
			"type":     "https://schema.org/Message",
			"@type":    "Message",
			"@context": "https://schema.org",
		}
		if s.AILabel {
			msg["additionalType"] = []string{"AIGeneratedContent"}
		}
		entities = append(entities, msg)
	}
	if s.FeedbackLoop {
		entities = append(entities, activity.Entity{
			"type":         "streaminfo",
			"feedbackLoop": map[string]string{"type": "default"},
		})
	}
	return entities
}

func streamInfoEntity(streamID, streamType string, seq int) activity.Entity {
	e := activity.Entity{
		"type":       "streaminfo",
		"streamId":   streamID,
		"streamType": streamType,
	}
	if streamType != streamTypeFinal {
		e["streamSequence"] = seq
	}
	return e
}
