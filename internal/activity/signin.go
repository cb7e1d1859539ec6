// ABOUTME: Sign-in invoke payloads, OAuth card, and the token-exchange state blob
// ABOUTME: Mirrors the shapes the Teams client and token service exchange during SSO

package activity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Invoke activity names used by the Teams SSO handshake.
const (
	TokenExchangeOperationName = "signin/tokenExchange"
	VerifyStateOperationName   = "signin/verifyState"
)

// InvokeKind classifies an invoke activity. Modeling the names as a tagged
// enum makes unhandled invokes an explicit case instead of a silent
// string-compare fallthrough.
type InvokeKind int

const (
	InvokeUnknown InvokeKind = iota
	InvokeTokenExchange
	InvokeVerifyState
)

// KindOfInvoke maps an invoke activity name to its kind.
func KindOfInvoke(name string) InvokeKind {
	switch name {
	case TokenExchangeOperationName:
		return InvokeTokenExchange
	case VerifyStateOperationName:
		return InvokeVerifyState
	default:
		return InvokeUnknown
	}
}

func (k InvokeKind) String() string {
	switch k {
	case InvokeTokenExchange:
		return TokenExchangeOperationName
	case InvokeVerifyState:
		return VerifyStateOperationName
	default:
		return "unknown"
	}
}

// CardAction is a button on a card.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

// ActionTypeSignin is the card action type that opens the sign-in link.
const ActionTypeSignin = "signin"

// OAuthCardContentType is the attachment content type for OAuth cards.
const OAuthCardContentType = "application/vnd.microsoft.card.oauth"

// TokenExchangeResource tells the Teams client how to attempt a silent
// on-behalf-of token exchange before falling back to interactive sign-in.
type TokenExchangeResource struct {
	ID         string `json:"id,omitempty"`
	URI        string `json:"uri,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
}

// TokenPostResource tells the client where to post tokens directly.
type TokenPostResource struct {
	SasURL string `json:"sasUrl,omitempty"`
}

// OAuthCard is the sign-in card sent when no cached token exists.
type OAuthCard struct {
	Text                  string                 `json:"text,omitempty"`
	ConnectionName        string                 `json:"connectionName"`
	Buttons               []CardAction           `json:"buttons"`
	TokenExchangeResource *TokenExchangeResource `json:"tokenExchangeResource,omitempty"`
	TokenPostResource     *TokenPostResource     `json:"tokenPostResource,omitempty"`
}

// SignInResource is returned by the token service for an encoded state blob.
type SignInResource struct {
	SignInLink            string                 `json:"signInLink"`
	TokenExchangeResource *TokenExchangeResource `json:"tokenExchangeResource,omitempty"`
	TokenPostResource     *TokenPostResource     `json:"tokenPostResource,omitempty"`
}

// TokenResponse is a successful user-token lookup or exchange result.
type TokenResponse struct {
	ChannelID      string `json:"channelId,omitempty"`
	ConnectionName string `json:"connectionName,omitempty"`
	Token          string `json:"token,omitempty"`
	Expiration     string `json:"expiration,omitempty"`
}

// TokenExchangeInvokeRequest is the value payload of a signin/tokenExchange
// invoke sent by the Teams client.
type TokenExchangeInvokeRequest struct {
	ID             string `json:"id,omitempty"`
	ConnectionName string `json:"connectionName,omitempty"`
	Token          string `json:"token,omitempty"`
}

// TokenExchangeInvokeResponse acknowledges a successful silent exchange.
type TokenExchangeInvokeResponse struct {
	ID             string `json:"id,omitempty"`
	ConnectionName string `json:"connectionName,omitempty"`
	FailureDetail  string `json:"failureDetail,omitempty"`
}

// VerifyStateValue is the value payload of a signin/verifyState invoke.
// State carries the magic code the user completed sign-in with.
type VerifyStateValue struct {
	State string `json:"state,omitempty"`
}

// TokenExchangeState is the blob bound into the sign-in link. It round-trips
// through the identity provider and returns in the verify step, so it must
// carry everything needed to resume the conversation.
type TokenExchangeState struct {
	ConnectionName string                 `json:"connectionName"`
	Conversation   *ConversationReference `json:"conversation"`
	RelatesTo      *ConversationReference `json:"relatesTo,omitempty"`
	BotURL         string                 `json:"botUrl"`
	MsAppID        string                 `json:"msAppId"`
}

// Encode serializes the state as the base64 JSON form the token service expects.
func (s TokenExchangeState) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding token exchange state: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeTokenExchangeState parses an encoded state blob back into its parts.
func DecodeTokenExchangeState(encoded string) (*TokenExchangeState, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding token exchange state: %w", err)
	}
	var s TokenExchangeState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing token exchange state: %w", err)
	}
	return &s, nil
}

// InvokeResponse is the synchronous result of handling an invoke activity.
// Status uses HTTP semantics: 200 success, 412 failed silent exchange,
// 400 failed interactive verification.
type InvokeResponse struct {
	Status int `json:"status"`
	Body   any `json:"body,omitempty"`
}

// NewOAuthCardAttachment wraps an OAuth card as a message attachment.
func NewOAuthCardAttachment(card OAuthCard) Attachment {
	return Attachment{
		ContentType: OAuthCardContentType,
		Content:     card,
	}
}
