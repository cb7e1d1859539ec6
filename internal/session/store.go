// ABOUTME: In-memory per-conversation session store with per-key locking
// ABOUTME: Holds either a sliding-window chat history or a remote session handle

package session

import "sync"

// Role labels for history turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry in a local chat history.
type Turn struct {
	Role    string
	Content string
}

// Session is the per-conversation AI context. Exactly one representation is
// active per backend: local History (chat-completions) or a RemoteID handle
// (provider-side thread/conversation), never both.
type Session struct {
	ConversationID string
	History        []Turn
	RemoteID       string
}

// AppendTurn adds a turn and re-applies the sliding window.
func (s *Session) AppendTurn(role, content string, maxLen int) {
	s.History = append(s.History, Turn{Role: role, Content: content})
	s.Trim(maxLen)
}

// Trim keeps only the most recent maxLen turns, dropping from the front.
// Recency is the only signal that matters for chat context, so this is a
// plain sliding window rather than any priority policy.
func (s *Session) Trim(maxLen int) {
	if maxLen > 0 && len(s.History) > maxLen {
		s.History = append([]Turn(nil), s.History[len(s.History)-maxLen:]...)
	}
}

// entry pairs a session with the mutex that guards it.
type entry struct {
	mu   sync.Mutex
	sess *Session
}

// Store maps conversation ids to sessions. Access to a session happens under
// a per-conversation mutex, so concurrent turns in the same conversation
// cannot lose updates while turns in different conversations never block
// each other.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Do runs fn with the session for conversationID held under its lock,
// creating the session lazily on first use.
func (s *Store) Do(conversationID string, fn func(sess *Session) error) error {
	e := s.entryFor(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.sess)
}

// Peek returns a copy of the current session state without creating one.
// The second return is false when no session exists yet.
func (s *Store) Peek(conversationID string) (Session, bool) {
	s.mu.Lock()
	e, ok := s.entries[conversationID]
	s.mu.Unlock()
	if !ok {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.sess
	cp.History = append([]Turn(nil), e.sess.History...)
	return cp, true
}

// Clear wipes the session for conversationID: history is emptied in place
// and any remote handle is evicted. Clearing an unknown conversation is a
// no-op.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	e, ok := s.entries[conversationID]
	if ok {
		delete(s.entries, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.sess.History = nil
	e.sess.RemoteID = ""
	e.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) entryFor(conversationID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[conversationID]
	if !ok {
		e = &entry{sess: &Session{ConversationID: conversationID}}
		s.entries[conversationID] = e
	}
	return e
}
