// ABOUTME: Turn dispatcher routing inbound activities to their handlers
// ABOUTME: Owns the tenant gate, command parsing, and member-join welcome

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/teams-gateway/internal/activity"
	"github.com/2389/teams-gateway/internal/assistant"
	"github.com/2389/teams-gateway/internal/config"
	"github.com/2389/teams-gateway/internal/connector"
	"github.com/2389/teams-gateway/internal/session"
)

// Fixed user-facing strings. Centralized so tests and copy edits have one
// place to look.
const (
	denialText = "I'm sorry, but your organization is not authorized to use this bot. " +
		"Please contact your administrator for access."
	resetText   = "Conversation history cleared! Starting fresh. How can I help you?"
	apologyText = "An error occurred while processing your message. Please try again later."
	signInText  = "Sign in to continue"
	welcomeText = "Welcome! I'm an AI assistant with persistent conversation memory.\n\n" +
		"Sign in when prompted, then just ask me anything. " +
		"Send `/reset` at any time to start a fresh conversation."
)

// resetCommands clear the conversation session. Matching is done on the
// lower-cased, whitespace-trimmed message text, exact match only.
var resetCommands = map[string]bool{
	"/reset": true,
	"/clear": true,
	"/new":   true,
}

// TokenGateway is what the handler needs from the user token service.
type TokenGateway interface {
	GetUserToken(ctx context.Context, userID, connectionName, channelID, magicCode string) (*activity.TokenResponse, error)
	ExchangeToken(ctx context.Context, userID, connectionName, channelID string, req *activity.TokenExchangeInvokeRequest) (*activity.TokenResponse, error)
	GetSignInResource(ctx context.Context, state string) (*activity.SignInResource, error)
	SignOut(ctx context.Context, userID, connectionName, channelID string) error
}

// Poster is what the handler needs from the connector.
type Poster interface {
	SendToConversation(ctx context.Context, act *activity.Activity) (string, error)
}

// replyStream is the streaming surface the relay drives. Satisfied by
// connector.StreamingResponse; replaced in tests.
type replyStream interface {
	QueueTextChunk(ctx context.Context, delta string)
	EndStream(ctx context.Context) error
	Text() string
}

// UserClaimsDecoder extracts display claims from a user token.
type UserClaimsDecoder func(raw string) (name, tenantID string)

// Handler dispatches inbound turns. One handler serves all conversations;
// per-conversation state lives in the session store.
type Handler struct {
	botCfg    config.BotConfig
	publicURL string
	allowed   map[string]bool

	sessions  *session.Store
	tokens    TokenGateway
	poster    Poster
	assistant assistant.Assistant
	logger    *slog.Logger

	decodeClaims UserClaimsDecoder
	newStream    func(inbound *activity.Activity) replyStream
}

// New creates a turn handler.
func New(botCfg config.BotConfig, publicURL string, sessions *session.Store, tokens TokenGateway, poster Poster, asst assistant.Assistant, decode UserClaimsDecoder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(botCfg.AllowedTenants))
	for _, tenant := range botCfg.AllowedTenants {
		allowed[tenant] = true
	}

	h := &Handler{
		botCfg:       botCfg,
		publicURL:    publicURL,
		allowed:      allowed,
		sessions:     sessions,
		tokens:       tokens,
		poster:       poster,
		assistant:    asst,
		logger:       logger.With("component", "bot"),
		decodeClaims: decode,
	}
	h.newStream = func(inbound *activity.Activity) replyStream {
		s := connector.NewStreamingResponse(poster, inbound, logger)
		s.AILabel = true
		s.FeedbackLoop = true
		return s
	}
	return h
}

// OnTurn handles one inbound activity. For invoke activities the returned
// InvokeResponse must be written back as the webhook response body; for all
// other types it is nil.
func (h *Handler) OnTurn(ctx context.Context, act *activity.Activity) (*activity.InvokeResponse, error) {
	switch act.Type {
	case activity.TypeMessage:
		return nil, h.onMessage(ctx, act)
	case activity.TypeInvoke:
		return h.onInvoke(ctx, act)
	case activity.TypeConversationUpdate:
		return nil, h.onConversationUpdate(ctx, act)
	default:
		h.logger.Debug("ignoring activity", "type", act.Type)
		return nil, nil
	}
}

// onMessage runs the message pipeline: tenant gate, token lookup, command
// parsing, then the AI relay.
func (h *Handler) onMessage(ctx context.Context, act *activity.Activity) error {
	if !h.tenantAllowed(act.Conversation.TenantID) {
		h.logger.Warn("unauthorized tenant",
			"tenant_id", act.Conversation.TenantID,
			"conversation_id", act.Conversation.ID)
		return h.sendText(ctx, act, denialText)
	}

	token, err := h.tokens.GetUserToken(ctx, act.From.ID, h.botCfg.ConnectionName, act.ChannelID, "")
	if err != nil {
		if h.botCfg.StrictTokenErrors {
			return fmt.Errorf("token lookup failed: %w", err)
		}
		// Treat an unreachable token service as "not signed in" so the
		// user is re-prompted instead of seeing a hard error.
		h.logger.Warn("token lookup failed, prompting sign-in", "error", err)
		token = nil
	}

	if token == nil || token.Token == "" {
		return h.sendSignInCard(ctx, act)
	}

	if resetCommands[strings.ToLower(strings.TrimSpace(act.Text))] {
		return h.handleReset(ctx, act)
	}

	return h.relay(ctx, act, token)
}

// tenantAllowed implements the allowlist predicate: empty list allows all,
// absent tenant id allows (the channel supplied no tenant scoping).
func (h *Handler) tenantAllowed(tenantID string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	if tenantID == "" {
		return true
	}
	return h.allowed[tenantID]
}

// handleReset clears the conversation session: remote state first, then the
// local map entry, then the optional token sign-out.
func (h *Handler) handleReset(ctx context.Context, act *activity.Activity) error {
	conversationID := act.Conversation.ID

	err := h.sessions.Do(conversationID, func(sess *session.Session) error {
		return h.assistant.Reset(ctx, sess)
	})
	if err != nil {
		// The local session is cleared regardless; a leaked remote thread
		// just ages out on the provider side.
		h.logger.Warn("assistant reset failed", "conversation_id", conversationID, "error", err)
	}
	h.sessions.Clear(conversationID)

	if h.botCfg.SignOutOnReset {
		if err := h.tokens.SignOut(ctx, act.From.ID, h.botCfg.ConnectionName, act.ChannelID); err != nil {
			h.logger.Warn("sign-out failed", "conversation_id", conversationID, "error", err)
		}
	}

	h.logger.Info("conversation reset", "conversation_id", conversationID)
	return h.sendText(ctx, act, resetText)
}

// onConversationUpdate greets each newly added member except the bot itself.
func (h *Handler) onConversationUpdate(ctx context.Context, act *activity.Activity) error {
	for _, member := range act.MembersAdded {
		if member.ID == act.Recipient.ID {
			continue
		}
		if err := h.sendText(ctx, act, welcomeText); err != nil {
			return err
		}
	}
	return nil
}

// onInvoke dispatches sign-in invokes by kind. Unknown invokes are not an
// error; they get the not-implemented response the channel expects.
func (h *Handler) onInvoke(ctx context.Context, act *activity.Activity) (*activity.InvokeResponse, error) {
	switch activity.KindOfInvoke(act.Name) {
	case activity.InvokeTokenExchange:
		return h.onTokenExchange(ctx, act)
	case activity.InvokeVerifyState:
		return h.onVerifyState(ctx, act)
	case activity.InvokeUnknown:
		h.logger.Debug("unhandled invoke", "name", act.Name)
		return &activity.InvokeResponse{Status: http.StatusNotImplemented}, nil
	}
	return &activity.InvokeResponse{Status: http.StatusNotImplemented}, nil
}

func (h *Handler) sendText(ctx context.Context, inbound *activity.Activity, text string) error {
	if _, err := h.poster.SendToConversation(ctx, inbound.NewReply(text)); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}
