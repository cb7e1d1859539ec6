// ABOUTME: Azure OpenAI chat-completions backend with local sliding-window history
// ABOUTME: Streams deltas over SSE and maintains the session history itself

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

// AzureOpenAI relays chat history to an Azure OpenAI chat-completions
// deployment. History lives in the session (local-history mode); the
// deployment sees the sliding window on every call.
type AzureOpenAI struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string
	maxHistory int
	client     *http.Client
	logger     *slog.Logger
}

// NewAzureOpenAI creates the chat-completions backend.
func NewAzureOpenAI(cfg config.AzureOpenAIConfig, maxHistory int, logger *slog.Logger) *AzureOpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-06-01"
	}
	return &AzureOpenAI{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		apiVersion: apiVersion,
		deployment: cfg.Deployment,
		maxHistory: maxHistory,
		client:     &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.With("component", "assistant", "backend", "azure-openai"),
	}
}

func (a *AzureOpenAI) Name() string { return config.BackendAzureOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Send appends the user turn, calls the deployment once, streams deltas when
// onDelta is set, then appends the assistant turn and re-trims the window.
func (a *AzureOpenAI) Send(ctx context.Context, sess *session.Session, userName, text string, onDelta func(string)) (string, error) {
	sess.AppendTurn(session.RoleUser, userPrefix(userName, text), a.maxHistory)

	messages := make([]chatMessage, 0, len(sess.History))
	for _, turn := range sess.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}

	reply, err := a.complete(ctx, messages, onDelta)
	if err != nil {
		return "", err
	}

	sess.AppendTurn(session.RoleAssistant, reply, a.maxHistory)
	return reply, nil
}

// Reset is a no-op: history-mode sessions have no provider-side state.
func (a *AzureOpenAI) Reset(ctx context.Context, sess *session.Session) error {
	return nil
}

func (a *AzureOpenAI) complete(ctx context.Context, messages []chatMessage, onDelta func(string)) (string, error) {
	streaming := onDelta != nil
	body, err := json.Marshal(chatRequest{Messages: messages, Stream: streaming})
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.endpoint, a.deployment, a.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling azure openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("azure openai returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if !streaming {
		var completion chatCompletion
		if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
			return "", fmt.Errorf("parsing completion: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("completion had no choices")
		}
		return completion.Choices[0].Message.Content, nil
	}

	var full strings.Builder
	err = readSSE(resp.Body, func(ev sseEvent) error {
		var chunk chatCompletion
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return fmt.Errorf("parsing stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			onDelta(delta)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}
