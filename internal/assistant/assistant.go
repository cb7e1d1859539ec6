// ABOUTME: Assistant strategy interface over interchangeable AI backends
// ABOUTME: Azure OpenAI, Foundry threads, and Foundry conversations plug in here

package assistant

import (
	"context"
	"fmt"

	"github.com/2389/teams-gateway/internal/session"
)

// Assistant is the strategy interface the relay drives. One implementation
// is selected at startup; the dispatcher never knows which.
type Assistant interface {
	// Name identifies the backend in logs.
	Name() string

	// Send delivers one user message in the context of sess and returns the
	// full reply text. onDelta, when non-nil, receives incremental text
	// chunks as the backend streams. Implementations own the session
	// representation: local history backends append and trim turns, remote
	// backends populate sess.RemoteID. The caller holds the session lock.
	Send(ctx context.Context, sess *session.Session, userName, text string, onDelta func(string)) (string, error)

	// Reset tears down any provider-side state for sess. Local history is
	// cleared by the session store, not here.
	Reset(ctx context.Context, sess *session.Session) error
}

// TokenSource supplies bearer tokens for backends that use Azure credentials.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// userPrefix frames the message with the sender's display name so the
// backend's system prompt can address the user.
func userPrefix(userName, text string) string {
	if userName == "" {
		return text
	}
	return fmt.Sprintf("[User: %s]\n\n%s", userName, text)
}
