// Package session manages chat sessions and the LLM context window: message
// history per session ([Manager]), token-budgeted context assembly
// ([Manager.BuildContext]), out-of-band summarisation with entity
// preservation ([Manager.Summarize]), and per-request latency marks
// ([RequestTimer]).
//
// All exported types are safe for concurrent use.
package session

import (
	"sync"
	"time"

	"github.com/hearthward/jarvisd/pkg/types"
)

// Session is one conversation. Fields are guarded by the owning [Manager].
type Session struct {
	ID string

	// messages is the recent message list; older messages live only in the
	// summary after summarisation.
	messages []types.Message

	// totalMessageCount counts every message ever added, across
	// summarisation truncations.
	totalMessageCount int

	// summary is the accumulated narrative summary.
	summary string

	// entities maps identifier → description. Merged, never deleted, so
	// VM ids, IPs, node names, and paths survive repeated summarisation.
	entities map[string]string

	// summarizing guards against overlapping summarisation runs.
	summarizing bool

	createdAt time.Time
}

// Manager owns all live sessions. Sessions are created lazily on first use
// and dropped on explicit disconnect.
type Manager struct {
	counter *Tokenizer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty [Manager] using counter for budget accounting.
func NewManager(counter *Tokenizer) *Manager {
	return &Manager{
		counter:  counter,
		sessions: make(map[string]*Session),
	}
}

// get returns the session for id, creating it if needed. Caller holds m.mu.
func (m *Manager) get(id string) *Session {
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			ID:        id,
			entities:  make(map[string]string),
			createdAt: time.Now(),
		}
		m.sessions[id] = s
	}
	return s
}

// AddMessage appends a message to the session, creating the session on first
// use.
func (m *Manager) AddMessage(sessionID string, role types.Role, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(sessionID)
	s.messages = append(s.messages, types.Message{Role: role, Content: content})
	s.totalMessageCount++
}

// Remove drops a session, called on disconnect or logout of the owning
// connection.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MessageCount returns the session's lifetime message count.
func (m *Manager) MessageCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		return s.totalMessageCount
	}
	return 0
}

// TokenCount counts text with the manager's tokenizer, for callers that
// budget their own blocks (system prompt, memory context) against the same
// accounting the window uses.
func (m *Manager) TokenCount(text string) int {
	return m.counter.Count(text)
}

// Entities returns a copy of the session's preserved entities.
func (m *Manager) Entities(sessionID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	if s, ok := m.sessions[sessionID]; ok {
		for k, v := range s.entities {
			out[k] = v
		}
	}
	return out
}
