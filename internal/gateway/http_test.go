// ABOUTME: Tests for the webhook HTTP surface
// ABOUTME: Covers auth rejection, invoke responses, dedupe, and the health probe

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/teams-gateway/internal/activity"
	"github.com/2389/teams-gateway/internal/dedupe"
)

type stubHandler struct {
	turns []activity.Activity
	resp  *activity.InvokeResponse
	err   error
}

func (s *stubHandler) OnTurn(ctx context.Context, act *activity.Activity) (*activity.InvokeResponse, error) {
	s.turns = append(s.turns, *act)
	return s.resp, s.err
}

type stubValidator struct {
	err error
}

func (s *stubValidator) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return jwt.MapClaims{"iss": "https://api.botframework.com"}, nil
}

func newTestGateway(t *testing.T, handler *stubHandler) *Gateway {
	t.Helper()
	c := dedupe.New(time.Minute, 100)
	t.Cleanup(c.Close)
	return &Gateway{
		logger:  slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)),
		handler: handler,
		dedupe:  c,
	}
}

func postActivity(t *testing.T, g *Gateway, act *activity.Activity) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(act)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)
	return rec
}

func inboundMessage(id string) *activity.Activity {
	return &activity.Activity{
		Type:         activity.TypeMessage,
		ID:           id,
		ChannelID:    "msteams",
		Conversation: activity.ConversationAccount{ID: "conv-1"},
		Text:         "hello",
	}
}

func TestMessagesDispatchesActivity(t *testing.T) {
	handler := &stubHandler{}
	g := newTestGateway(t, handler)

	rec := postActivity(t, g, inboundMessage("act-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, handler.turns, 1)
	assert.Equal(t, "hello", handler.turns[0].Text)
}

func TestMessagesWritesInvokeResponse(t *testing.T) {
	handler := &stubHandler{resp: &activity.InvokeResponse{
		Status: http.StatusOK,
		Body:   activity.TokenExchangeInvokeResponse{ID: "req-1", ConnectionName: "teams-sso"},
	}}
	g := newTestGateway(t, handler)

	rec := postActivity(t, g, inboundMessage("act-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body activity.TokenExchangeInvokeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "req-1", body.ID)
}

func TestMessagesWritesBodylessInvokeStatus(t *testing.T) {
	handler := &stubHandler{resp: &activity.InvokeResponse{Status: http.StatusPreconditionFailed}}
	g := newTestGateway(t, handler)

	rec := postActivity(t, g, inboundMessage("act-1"))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMessagesDropsDuplicateDelivery(t *testing.T) {
	handler := &stubHandler{}
	g := newTestGateway(t, handler)

	assert.Equal(t, http.StatusOK, postActivity(t, g, inboundMessage("act-1")).Code)
	assert.Equal(t, http.StatusOK, postActivity(t, g, inboundMessage("act-1")).Code)

	// Second delivery acknowledged but never dispatched.
	assert.Len(t, handler.turns, 1)
}

func TestMessagesRejectsMalformedJSON(t *testing.T) {
	g := newTestGateway(t, &stubHandler{})

	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesTurnErrorReturns500(t *testing.T) {
	handler := &stubHandler{err: errors.New("boom")}
	g := newTestGateway(t, handler)

	rec := postActivity(t, g, inboundMessage("act-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMessagesRetryAfterTurnErrorIsDispatched(t *testing.T) {
	handler := &stubHandler{err: errors.New("boom")}
	g := newTestGateway(t, handler)

	// First delivery fails; the channel retries on the 500.
	rec := postActivity(t, g, inboundMessage("act-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The retry must reach the handler, not be dropped as a duplicate.
	handler.err = nil
	rec = postActivity(t, g, inboundMessage("act-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, handler.turns, 2)
}

func TestMessagesRequireAuthWhenValidatorSet(t *testing.T) {
	handler := &stubHandler{}
	g := newTestGateway(t, handler)
	g.validator = &stubValidator{}

	// No Authorization header.
	body, _ := json.Marshal(inboundMessage("act-1"))
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, handler.turns)

	// Valid bearer token passes through.
	req = httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer service-token")
	rec = httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, handler.turns, 1)
}

func TestMessagesRejectsInvalidToken(t *testing.T) {
	g := newTestGateway(t, &stubHandler{})
	g.validator = &stubValidator{err: errors.New("bad signature")}

	body, _ := json.Marshal(inboundMessage("act-1"))
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t, &stubHandler{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
