package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hearthward/jarvisd/pkg/types"
)

// Context budget constants. The window is the conservative value for the
// local llama.cpp deployment; the reserve leaves room for the response.
const (
	contextWindowTokens = 8192
	responseReserve     = 1024

	// recentRatio bounds how much of the remaining budget the recent
	// message walk may consume.
	recentRatio = 0.7

	// perMessageOverhead approximates the chat template framing tokens
	// around each message.
	perMessageOverhead = 4
)

// BuildContext assembles the LLM input for a session: summary block, entity
// block, then as many recent messages as fit the budget, newest preferred,
// returned in original order. reservedTokens covers anything else already
// claiming window space, such as the current turn's tool exchange.
func (m *Manager) BuildContext(sessionID string, systemPromptTokens, reservedTokens int) []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(sessionID)
	available := contextWindowTokens - systemPromptTokens - reservedTokens - responseReserve

	var blocks []types.Message
	if s.summary != "" {
		block := fmt.Sprintf("<conversation_summary>\n%s\n</conversation_summary>", s.summary)
		blocks = append(blocks, types.Message{Role: types.RoleSystem, Content: block})
		available -= m.counter.Count(block) + perMessageOverhead
	}
	if len(s.entities) > 0 {
		block := entitiesBlock(s.entities)
		blocks = append(blocks, types.Message{Role: types.RoleSystem, Content: block})
		available -= m.counter.Count(block) + perMessageOverhead
	}
	if available < 0 {
		available = 0
	}

	// Walk newest to oldest, stopping when the budget share is spent.
	budget := int(float64(available) * recentRatio)
	used := 0
	start := len(s.messages)
	for i := len(s.messages) - 1; i >= 0; i-- {
		cost := m.counter.Count(s.messages[i].Content) + perMessageOverhead
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	out := make([]types.Message, 0, len(blocks)+len(s.messages)-start)
	out = append(out, blocks...)
	out = append(out, s.messages[start:]...)
	return out
}

// entitiesBlock renders the preserved entities as a deterministic
// key: description listing.
func entitiesBlock(entities map[string]string) string {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("<preserved_context>\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, entities[k])
	}
	sb.WriteString("</preserved_context>")
	return sb.String()
}
