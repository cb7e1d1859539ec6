// ABOUTME: Azure AI Foundry backend over the conversations/responses surface
// ABOUTME: One provider-side conversation per Teams conversation, streamed responses

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/teams-gateway/internal/config"
	"github.com/2389/teams-gateway/internal/session"
)

// FoundryConversations is the newer Foundry variant: instead of agent
// threads and runs it uses the OpenAI-style conversations + responses API.
// Like the threads backend, history is owned remotely.
type FoundryConversations struct {
	endpoint  string
	agentName string
	source    TokenSource
	client    *http.Client
	logger    *slog.Logger
}

// NewFoundryConversations creates the conversations backend.
func NewFoundryConversations(cfg config.FoundryConfig, source TokenSource, logger *slog.Logger) *FoundryConversations {
	if logger == nil {
		logger = slog.Default()
	}
	return &FoundryConversations{
		endpoint:  strings.TrimSuffix(cfg.ProjectEndpoint, "/"),
		agentName: cfg.AgentName,
		source:    source,
		client:    &http.Client{Timeout: 2 * time.Minute},
		logger:    logger.With("component", "assistant", "backend", "foundry-conversations"),
	}
}

func (f *FoundryConversations) Name() string { return config.BackendFoundryConversations }

// Send ensures a remote conversation exists, then streams one response.
func (f *FoundryConversations) Send(ctx context.Context, sess *session.Session, userName, text string, onDelta func(string)) (string, error) {
	if sess.RemoteID == "" {
		id, err := f.createConversation(ctx)
		if err != nil {
			return "", err
		}
		sess.RemoteID = id
		f.logger.Info("created conversation", "remote_id", id, "conversation_id", sess.ConversationID)
	}

	return f.streamResponse(ctx, sess.RemoteID, userPrefix(userName, text), onDelta)
}

// Reset deletes the provider-side conversation.
func (f *FoundryConversations) Reset(ctx context.Context, sess *session.Session) error {
	if sess.RemoteID == "" {
		return nil
	}

	resp, err := f.do(ctx, http.MethodDelete, "/openai/v1/conversations/"+sess.RemoteID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("deleting conversation: status %d", resp.StatusCode)
	}
	f.logger.Info("deleted conversation", "remote_id", sess.RemoteID, "conversation_id", sess.ConversationID)
	sess.RemoteID = ""
	return nil
}

func (f *FoundryConversations) createConversation(ctx context.Context) (string, error) {
	resp, err := f.do(ctx, http.MethodPost, "/openai/v1/conversations", map[string]any{})
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("creating conversation: status %d", resp.StatusCode)
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("parsing conversation: %w", err)
	}
	if conv.ID == "" {
		return "", fmt.Errorf("conversation response had no id")
	}
	return conv.ID, nil
}

func (f *FoundryConversations) streamResponse(ctx context.Context, conversationID, text string, onDelta func(string)) (string, error) {
	resp, err := f.do(ctx, http.MethodPost, "/openai/v1/responses", map[string]any{
		"conversation": conversationID,
		"agent": map[string]string{
			"name": f.agentName,
			"type": "agent_reference",
		},
		"input":  text,
		"stream": true,
	})
	if err != nil {
		return "", fmt.Errorf("starting response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("starting response: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var full strings.Builder
	err = readSSE(resp.Body, func(ev sseEvent) error {
		var event struct {
			Type  string `json:"type"`
			Delta string `json:"delta"`
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return fmt.Errorf("parsing response event: %w", err)
		}
		switch event.Type {
		case "response.output_text.delta":
			if event.Delta != "" {
				full.WriteString(event.Delta)
				if onDelta != nil {
					onDelta(event.Delta)
				}
			}
		case "response.failed", "error":
			return fmt.Errorf("response failed: %s", event.Error.Message)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func (f *FoundryConversations) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	token, err := f.source.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring foundry token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling foundry: %w", err)
	}
	return resp, nil
}
