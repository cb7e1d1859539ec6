// ABOUTME: SSO sign-in orchestration for the Teams OAuth handshake
// ABOUTME: Sends the OAuth card and answers tokenExchange/verifyState invokes

package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/teams-gateway/internal/activity"
)

// sendSignInCard posts one OAuth card prompting the user to sign in. The
// card carries the encoded exchange state so the token service can route
// the completed flow back to this bot and conversation.
func (h *Handler) sendSignInCard(ctx context.Context, inbound *activity.Activity) error {
	ref := inbound.Reference()
	state := activity.TokenExchangeState{
		ConnectionName: h.botCfg.ConnectionName,
		Conversation:   &ref,
		RelatesTo:      inbound.RelatesTo,
		BotURL:         h.publicURL,
		MsAppID:        h.botCfg.AppID,
	}
	encoded, err := state.Encode()
	if err != nil {
		return fmt.Errorf("encoding exchange state: %w", err)
	}

	resource, err := h.tokens.GetSignInResource(ctx, encoded)
	if err != nil {
		return fmt.Errorf("fetching sign-in resource: %w", err)
	}

	card := activity.OAuthCard{
		Text:           signInText,
		ConnectionName: h.botCfg.ConnectionName,
		Buttons: []activity.CardAction{{
			Type:  activity.ActionTypeSignin,
			Title: "Sign in",
			Value: resource.SignInLink,
		}},
		TokenExchangeResource: resource.TokenExchangeResource,
		TokenPostResource:     resource.TokenPostResource,
	}

	reply := inbound.NewReply("")
	reply.Attachments = []activity.Attachment{activity.NewOAuthCardAttachment(card)}
	if _, err := h.poster.SendToConversation(ctx, reply); err != nil {
		return fmt.Errorf("sending sign-in card: %w", err)
	}
	h.logger.Info("sign-in card sent", "conversation_id", inbound.Conversation.ID)
	return nil
}

// onTokenExchange completes the silent SSO path. A successful exchange gets
// a 200 echoing the request id; a declined or failed exchange gets a 412,
// which tells the client to fall back to the interactive sign-in flow.
func (h *Handler) onTokenExchange(ctx context.Context, act *activity.Activity) (*activity.InvokeResponse, error) {
	var req activity.TokenExchangeInvokeRequest
	if err := json.Unmarshal(act.Value, &req); err != nil {
		h.logger.Warn("malformed tokenExchange value", "error", err)
		return &activity.InvokeResponse{Status: http.StatusPreconditionFailed}, nil
	}
	connectionName := req.ConnectionName
	if connectionName == "" {
		connectionName = h.botCfg.ConnectionName
	}

	token, err := h.tokens.ExchangeToken(ctx, act.From.ID, connectionName, act.ChannelID, &req)
	if err != nil {
		h.logger.Warn("token exchange failed", "conversation_id", act.Conversation.ID, "error", err)
		return &activity.InvokeResponse{Status: http.StatusPreconditionFailed}, nil
	}
	if token == nil || token.Token == "" {
		h.logger.Debug("token exchange declined", "conversation_id", act.Conversation.ID)
		return &activity.InvokeResponse{Status: http.StatusPreconditionFailed}, nil
	}

	h.logger.Info("token exchange completed", "conversation_id", act.Conversation.ID)
	return &activity.InvokeResponse{
		Status: http.StatusOK,
		Body: activity.TokenExchangeInvokeResponse{
			ID:             req.ID,
			ConnectionName: connectionName,
		},
	}, nil
}

// onVerifyState completes the interactive path: the client posts back the
// magic code the user entered, and we redeem it for the user token. An
// invalid or expired code gets a 400 so Teams re-prompts.
func (h *Handler) onVerifyState(ctx context.Context, act *activity.Activity) (*activity.InvokeResponse, error) {
	var value activity.VerifyStateValue
	if err := json.Unmarshal(act.Value, &value); err != nil || value.State == "" {
		h.logger.Warn("malformed verifyState value", "error", err)
		return &activity.InvokeResponse{Status: http.StatusBadRequest}, nil
	}

	token, err := h.tokens.GetUserToken(ctx, act.From.ID, h.botCfg.ConnectionName, act.ChannelID, value.State)
	if err != nil {
		h.logger.Warn("magic code redemption failed", "conversation_id", act.Conversation.ID, "error", err)
		return &activity.InvokeResponse{Status: http.StatusBadRequest}, nil
	}
	if token == nil || token.Token == "" {
		return &activity.InvokeResponse{Status: http.StatusBadRequest}, nil
	}

	h.logger.Info("sign-in verified", "conversation_id", act.Conversation.ID)
	return &activity.InvokeResponse{Status: http.StatusOK}, nil
}
