package session

import (
	"sync"

	"github.com/ndc-agent/agent/internal/event"
	"github.com/ndc-agent/agent/internal/provider"
)

// AgentMessage is one entry of a session's authoritative history, per
// spec.md §4.4's "session_state". Unlike the wire-format messages sent to
// the provider on each round (which get truncated to the latest window),
// session_state is append-only for the lifetime of the session.
type AgentMessage struct {
	Role       string             `json:"role"`
	Content    string             `json:"content"`
	ToolCalls  []provider.ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string             `json:"toolCallId,omitempty"`
}

// SessionTokenTotals is the running token accounting for a session, updated
// after every completion round.
type SessionTokenTotals struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// RunnerSession is the authoritative, lock-protected state for one
// conversation. All mutation goes through the Runner holding sess.mu;
// readers should take the lock only briefly to snapshot.
type RunnerSession struct {
	ID         string
	WorkingDir string

	mu       sync.Mutex
	Messages []AgentMessage
	Tokens   SessionTokenTotals

	// Timeline is this session's bounded event broadcast, per spec.md §4.7.
	Timeline *event.Timeline
}

// Snapshot returns a copy of the session's current messages and totals,
// safe to read without racing the Runner.
func (s *RunnerSession) Snapshot() ([]AgentMessage, SessionTokenTotals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]AgentMessage, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs, s.Tokens
}

// SessionStore is the process-wide, lock-protected session_id -> session
// mapping described in spec.md §4.7. All writes go through the Runner;
// readers take the lock only briefly to look up or snapshot a session.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*RunnerSession
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*RunnerSession)}
}

// GetOrCreate returns the existing session for id, or creates one bound to
// workingDir with a fresh Timeline.
func (st *SessionStore) GetOrCreate(id, workingDir string) *RunnerSession {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sess, ok := st.sessions[id]; ok {
		return sess
	}
	sess := &RunnerSession{
		ID:         id,
		WorkingDir: workingDir,
		Timeline:   event.NewTimeline(id, 0),
	}
	st.sessions[id] = sess
	return sess
}

// Get looks up an existing session without creating one.
func (st *SessionStore) Get(id string) (*RunnerSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// Delete removes a session and closes its timeline.
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()
	if ok {
		sess.Timeline.Close()
	}
}
