// ABOUTME: Azure AI Foundry agent backend using one provider-side thread per conversation
// ABOUTME: Creates threads lazily, streams runs over SSE, deletes threads on reset

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
	"sync"
	"time"

	"github.com/2389/teams-gateway/internal/config"
	"github.com/2389/teams-gateway/internal/session"
)

// foundryAPIVersion is the Foundry agents data-plane version.
const foundryAPIVersion = "v1"

// FoundryThreads relays messages to an Azure AI Foundry agent. History is
// owned remotely: the session carries only the thread id.
type FoundryThreads struct {
	endpoint  string
	agentName string
	source    TokenSource
	client    *http.Client
	logger    *slog.Logger

	mu      sync.Mutex
	agentID string
}

// NewFoundryThreads creates the threads backend. The agent is resolved by
// name on first use so startup does not depend on Foundry availability.
func NewFoundryThreads(cfg config.FoundryConfig, source TokenSource, logger *slog.Logger) *FoundryThreads {
	if logger == nil {
		logger = slog.Default()
	}
	return &FoundryThreads{
		endpoint:  strings.TrimSuffix(cfg.ProjectEndpoint, "/"),
		agentName: cfg.AgentName,
		source:    source,
		client:    &http.Client{Timeout: 2 * time.Minute},
		logger:    logger.With("component", "assistant", "backend", "foundry-threads"),
	}
}

func (f *FoundryThreads) Name() string { return config.BackendFoundryThreads }

// Send ensures a thread exists for the session, posts the user message, and
// streams the agent run, forwarding text deltas.
func (f *FoundryThreads) Send(ctx context.Context, sess *session.Session, userName, text string, onDelta func(string)) (string, error) {
	agentID, err := f.resolveAgent(ctx)
	if err != nil {
		return "", err
	}

	if sess.RemoteID == "" {
		threadID, err := f.createThread(ctx)
		if err != nil {
			return "", err
		}
		sess.RemoteID = threadID
		f.logger.Info("created thread", "thread_id", threadID, "conversation_id", sess.ConversationID)
	}

	if err := f.createMessage(ctx, sess.RemoteID, userPrefix(userName, text)); err != nil {
		return "", err
	}

	return f.streamRun(ctx, sess.RemoteID, agentID, onDelta)
}

// Reset deletes the provider-side thread. A missing thread is not an error;
// the goal state (no thread) is already true.
func (f *FoundryThreads) Reset(ctx context.Context, sess *session.Session) error {
	if sess.RemoteID == "" {
		return nil
	}
	err := f.deleteThread(ctx, sess.RemoteID)
	if err != nil {
		f.logger.Warn("failed to delete thread", "thread_id", sess.RemoteID, "error", err)
		return err
	}
	f.logger.Info("deleted thread", "thread_id", sess.RemoteID, "conversation_id", sess.ConversationID)
	sess.RemoteID = ""
	return nil
}

// resolveAgent looks up the agent id for the configured name, once.
func (f *FoundryThreads) resolveAgent(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agentID != "" {
		return f.agentID, nil
	}

	resp, err := f.do(ctx, http.MethodGet, "/assistants", nil)
	if err != nil {
		return "", fmt.Errorf("listing agents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("listing agents: status %d", resp.StatusCode)
	}

	var list struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", fmt.Errorf("parsing agent list: %w", err)
	}
	for _, agent := range list.Data {
		if agent.Name == f.agentName {
			f.agentID = agent.ID
			f.logger.Info("resolved agent", "agent_name", f.agentName, "agent_id", agent.ID)
			return agent.ID, nil
		}
	}
	return "", fmt.Errorf("agent %q not found in project", f.agentName)
}

func (f *FoundryThreads) createThread(ctx context.Context) (string, error) {
	resp, err := f.do(ctx, http.MethodPost, "/threads", map[string]any{})
	if err != nil {
		return "", fmt.Errorf("creating thread: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("creating thread: status %d", resp.StatusCode)
	}
	var thread struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
		return "", fmt.Errorf("parsing thread: %w", err)
	}
	if thread.ID == "" {
		return "", fmt.Errorf("thread response had no id")
	}
	return thread.ID, nil
}

func (f *FoundryThreads) createMessage(ctx context.Context, threadID, content string) error {
	resp, err := f.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", map[string]any{
		"role":    "user",
		"content": content,
	})
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("creating message: status %d", resp.StatusCode)
	}
	return nil
}

// streamRun starts an agent run on the thread and consumes its event stream.
func (f *FoundryThreads) streamRun(ctx context.Context, threadID, agentID string, onDelta func(string)) (string, error) {
	resp, err := f.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", map[string]any{
		"assistant_id": agentID,
		"stream":       true,
	})
	if err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("starting run: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var full strings.Builder
	err = readSSE(resp.Body, func(ev sseEvent) error {
		switch ev.Event {
		case "thread.message.delta":
			var delta struct {
				Delta struct {
					Content []struct {
						Type string `json:"type"`
						Text struct {
							Value string `json:"value"`
						} `json:"text"`
					} `json:"content"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &delta); err != nil {
				return fmt.Errorf("parsing message delta: %w", err)
			}
			for _, part := range delta.Delta.Content {
				if part.Type != "text" || part.Text.Value == "" {
					continue
				}
				full.WriteString(part.Text.Value)
				if onDelta != nil {
					onDelta(part.Text.Value)
				}
			}
		case "thread.run.failed":
			var run struct {
				LastError struct {
					Message string `json:"message"`
				} `json:"last_error"`
			}
			_ = json.Unmarshal([]byte(ev.Data), &run)
			return fmt.Errorf("agent run failed: %s", run.LastError.Message)
		case "error":
			return fmt.Errorf("agent stream error: %s", ev.Data)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func (f *FoundryThreads) deleteThread(ctx context.Context, threadID string) error {
	resp, err := f.do(ctx, http.MethodDelete, "/threads/"+threadID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("deleting thread: status %d", resp.StatusCode)
	}
	return nil
}

func (f *FoundryThreads) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
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

	url := f.endpoint + path + "?api-version=" + foundryAPIVersion
	req, err := http.NewRequestWithContext(ctx, method, url, body)
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
