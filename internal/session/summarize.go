package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hearthward/jarvisd/pkg/provider/llm"
	"github.com/hearthward/jarvisd/pkg/types"
)

const (
	// summarizeThreshold is the lifetime message count past which a session
	// is summarised.
	summarizeThreshold = 25

	// keepCount is how many recent messages survive a summarisation.
	keepCount = 10

	// entitiesMarker separates the narrative from the entity listing in the
	// model's output.
	entitiesMarker = "---ENTITIES---"
)

// summarizePrompt enforces the strict output format. Identifiers must never
// be dropped: a summary that loses a VM id or an IP is worse than none.
const summarizePrompt = `Summarize the following infrastructure assistant conversation.

Output format, exactly:
1. A narrative summary of at most 150 words covering what was asked, what was done, and any unresolved issues.
2. A line containing only the marker ` + entitiesMarker + `
3. One line per important identifier in the form "key: description".

Never drop identifiers: VM ids, IP addresses, node names, file paths, service names, and error codes must all appear in the entity lines verbatim.`

// ShouldSummarize reports whether a summarisation pass is due: the lifetime
// message count exceeds the threshold and no pass is already running.
func (m *Manager) ShouldSummarize(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return ok && s.totalMessageCount > summarizeThreshold && !s.summarizing
}

// Summarize compresses the session's older messages into the narrative
// summary and entity table. It runs out-of-band from the response stream,
// triggered from the stream-complete callback so it never contends with the
// response for the LLM.
//
// On any failure the session state is left unchanged; the summarizing flag
// is always cleared.
func (m *Manager) Summarize(ctx context.Context, sessionID string, provider llm.Provider) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.summarizing || len(s.messages) <= keepCount {
		m.mu.Unlock()
		return
	}
	s.summarizing = true
	older := make([]types.Message, len(s.messages)-keepCount)
	copy(older, s.messages[:len(s.messages)-keepCount])
	priorSummary := s.summary
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if s, ok := m.sessions[sessionID]; ok {
			s.summarizing = false
		}
		m.mu.Unlock()
	}()

	var sb strings.Builder
	if priorSummary != "" {
		fmt.Fprintf(&sb, "Previous summary:\n%s\n\n", priorSummary)
	}
	sb.WriteString("Conversation:\n")
	for _, msg := range older {
		fmt.Fprintf(&sb, "[%s]: %s\n", msg.Role, msg.Content)
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: summarizePrompt},
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		slog.Error("summarisation failed", "session", sessionID, "error", err)
		return
	}

	narrative, entities := parseSummary(resp.Content)
	if narrative == "" {
		slog.Warn("summarisation produced no narrative, discarding", "session", sessionID)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok = m.sessions[sessionID]
	if !ok {
		return
	}
	s.summary = narrative
	for k, v := range entities {
		s.entities[k] = v
	}
	if len(s.messages) > keepCount {
		s.messages = append([]types.Message(nil), s.messages[len(s.messages)-keepCount:]...)
	}
	slog.Info("session summarised", "session", sessionID,
		"kept_messages", len(s.messages), "entities", len(s.entities))
}

// parseSummary splits the model output at the entities marker. Text before
// the marker is the narrative; each "key: description" line after it is an
// entity entry.
func parseSummary(text string) (narrative string, entities map[string]string) {
	entities = make(map[string]string)

	before, after, found := strings.Cut(text, entitiesMarker)
	narrative = strings.TrimSpace(before)
	if !found {
		return narrative, entities
	}

	for _, line := range strings.Split(after, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, desc, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		desc = strings.TrimSpace(desc)
		if key != "" && desc != "" {
			entities[key] = desc
		}
	}
	return narrative, entities
}
