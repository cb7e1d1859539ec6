// ABOUTME: AI relay forwarding an authenticated message to the assistant
// ABOUTME: Drives the streaming reply and guarantees a single final message

package bot

import (
	"context"

	"github.com/2389/teams-gateway/internal/activity"
	"github.com/2389/teams-gateway/internal/session"
)

// relay forwards one authenticated message to the assistant backend and
// streams the reply back. The session stays locked for the whole turn so
// concurrent activities in the same conversation serialize cleanly.
func (h *Handler) relay(ctx context.Context, act *activity.Activity, token *activity.TokenResponse) error {
	userName := ""
	if h.decodeClaims != nil {
		userName, _ = h.decodeClaims(token.Token)
	}
	if userName == "" {
		userName = act.From.Name
	}

	stream := h.newStream(act)
	// The stream always ends, whatever the backend did. EndStream is
	// idempotent, so the error path closing it early is fine.
	defer func() {
		if err := stream.EndStream(context.WithoutCancel(ctx)); err != nil {
			h.logger.Error("ending stream failed", "conversation_id", act.Conversation.ID, "error", err)
		}
	}()

	err := h.sessions.Do(act.Conversation.ID, func(sess *session.Session) error {
		_, sendErr := h.assistant.Send(ctx, sess, userName, act.Text, func(delta string) {
			stream.QueueTextChunk(ctx, delta)
		})
		return sendErr
	})
	if err != nil {
		h.logger.Error("assistant request failed",
			"conversation_id", act.Conversation.ID,
			"backend", h.assistant.Name(),
			"error", err)
		// Always surface the failure: a mid-stream error would otherwise
		// finalize truncated partial text as if it were the full reply.
		notice := apologyText
		if stream.Text() != "" {
			notice = "\n\n" + apologyText
		}
		stream.QueueTextChunk(ctx, notice)
		return nil
	}

	h.logger.Debug("relay complete",
		"conversation_id", act.Conversation.ID,
		"backend", h.assistant.Name(),
		"chars", len(stream.Text()))
	return nil
}
