// ABOUTME: REST client posting outbound activities to the channel's service URL
// ABOUTME: Covers send-to-conversation and reply-to-activity with service auth

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/teams-gateway/internal/activity"
)

// TokenSource supplies bearer tokens for connector calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client posts activities back to the channel. The target host comes from
// each inbound activity's serviceUrl, never from configuration.
type Client struct {
	source TokenSource
	client *http.Client
	logger *slog.Logger
}

// New creates a connector client.
func New(source TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		source: source,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "connector"),
	}
}

// sendResult is the connector's response to a posted activity.
type sendResult struct {
	ID string `json:"id"`
}

// SendToConversation posts an activity to its conversation and returns the
// id the channel assigned to it.
func (c *Client) SendToConversation(ctx context.Context, act *activity.Activity) (string, error) {
	endpoint, err := activityURL(act.ServiceURL, act.Conversation.ID, "")
	if err != nil {
		return "", err
	}
	return c.post(ctx, endpoint, act)
}

// ReplyToActivity posts an activity as a threaded reply to replyToID.
func (c *Client) ReplyToActivity(ctx context.Context, act *activity.Activity, replyToID string) (string, error) {
	endpoint, err := activityURL(act.ServiceURL, act.Conversation.ID, replyToID)
	if err != nil {
		return "", err
	}
	return c.post(ctx, endpoint, act)
}

func activityURL(serviceURL, conversationID, activityID string) (string, error) {
	if serviceURL == "" {
		return "", fmt.Errorf("activity has no service URL")
	}
	if conversationID == "" {
		return "", fmt.Errorf("activity has no conversation id")
	}
	base := strings.TrimSuffix(serviceURL, "/")
	endpoint := base + "/v3/conversations/" + url.PathEscape(conversationID) + "/activities"
	if activityID != "" {
		endpoint += "/" + url.PathEscape(activityID)
	}
	return endpoint, nil
}

func (c *Client) post(ctx context.Context, endpoint string, act *activity.Activity) (string, error) {
	token, err := c.source.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring service token: %w", err)
	}

	body, err := json.Marshal(act)
	if err != nil {
		return "", fmt.Errorf("encoding activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting activity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("connector rejected activity: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var result sendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// Some channels return an empty body on success.
		return "", nil
	}
	return result.ID, nil
}
