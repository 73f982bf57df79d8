package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hearthward/jarvisd/pkg/provider/llm"
	llmmock "github.com/hearthward/jarvisd/pkg/provider/llm/mock"
	"github.com/hearthward/jarvisd/pkg/types"
)

func newTestManager() *Manager {
	return NewManager(NewTokenizer())
}

func TestAddMessageLazyCreate(t *testing.T) {
	m := newTestManager()

	if m.Count() != 0 {
		t.Fatalf("Count() = %d before any message", m.Count())
	}
	m.AddMessage("s1", types.RoleUser, "hello")
	m.AddMessage("s1", types.RoleAssistant, "hi")
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}
	if got := m.MessageCount("s1"); got != 2 {
		t.Fatalf("MessageCount = %d, want 2", got)
	}

	m.Remove("s1")
	if m.Count() != 0 {
		t.Fatal("Remove did not drop the session")
	}
}

func TestBuildContextOrdering(t *testing.T) {
	m := newTestManager()
	m.AddMessage("s1", types.RoleUser, "first")
	m.AddMessage("s1", types.RoleAssistant, "second")
	m.AddMessage("s1", types.RoleUser, "third")

	msgs := m.BuildContext("s1", 100, 0)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[2].Content != "third" {
		t.Errorf("order wrong: %+v", msgs)
	}
}

func TestBuildContextBudget(t *testing.T) {
	m := newTestManager()
	// Large messages so only the newest few fit.
	big := strings.Repeat("word ", 800) // ~800 tokens
	for i := 0; i < 20; i++ {
		m.AddMessage("s1", types.RoleUser, fmt.Sprintf("%d %s", i, big))
	}

	msgs := m.BuildContext("s1", 200, 100)
	if len(msgs) == 0 || len(msgs) == 20 {
		t.Fatalf("budget not applied: %d messages included", len(msgs))
	}
	// The included messages must be the newest ones, oldest first.
	last := msgs[len(msgs)-1]
	if !strings.HasPrefix(last.Content, "19 ") {
		t.Errorf("newest message missing: %q...", last.Content[:8])
	}

	// The total stays under the window minus the reserve.
	tok := NewTokenizer()
	total := 200 + 100
	for _, msg := range msgs {
		total += tok.Count(msg.Content) + perMessageOverhead
	}
	if total > contextWindowTokens-responseReserve {
		t.Errorf("context total %d exceeds window budget", total)
	}
}

func TestBuildContextBlocks(t *testing.T) {
	m := newTestManager()
	m.AddMessage("s1", types.RoleUser, "what about vm 200?")
	m.mu.Lock()
	s := m.sessions["s1"]
	s.summary = "The operator investigated storage pressure on pve1."
	s.entities["vmid 200"] = "the NAS virtual machine"
	s.entities["192.168.1.10"] = "pve1 management address"
	m.mu.Unlock()

	msgs := m.BuildContext("s1", 100, 0)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want summary block + entity block + 1", len(msgs))
	}
	if msgs[0].Role != types.RoleSystem || !strings.Contains(msgs[0].Content, "<conversation_summary>") {
		t.Errorf("summary block = %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "<preserved_context>") ||
		!strings.Contains(msgs[1].Content, "vmid 200: the NAS virtual machine") {
		t.Errorf("entity block = %+v", msgs[1])
	}
}

func TestShouldSummarize(t *testing.T) {
	m := newTestManager()
	if m.ShouldSummarize("missing") {
		t.Error("unknown session should not summarise")
	}

	for i := 0; i <= summarizeThreshold; i++ {
		m.AddMessage("s1", types.RoleUser, "msg")
	}
	if !m.ShouldSummarize("s1") {
		t.Error("threshold crossed but ShouldSummarize is false")
	}

	m.mu.Lock()
	m.sessions["s1"].summarizing = true
	m.mu.Unlock()
	if m.ShouldSummarize("s1") {
		t.Error("ShouldSummarize true while a pass is running")
	}
}

func TestSummarize(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 30; i++ {
		m.AddMessage("s1", types.RoleUser, fmt.Sprintf("message %d", i))
	}

	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "The operator restarted vm 200 after a crash.\n" +
			entitiesMarker + "\n" +
			"vmid 200: NAS VM restarted after crash\n" +
			"pve1: node hosting vm 200\n",
	}}
	m.Summarize(context.Background(), "s1", provider)

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d", len(provider.CompleteCalls))
	}

	m.mu.Lock()
	s := m.sessions["s1"]
	if len(s.messages) != keepCount {
		t.Errorf("kept %d messages, want %d", len(s.messages), keepCount)
	}
	if !strings.Contains(s.summary, "restarted vm 200") {
		t.Errorf("summary = %q", s.summary)
	}
	if s.entities["vmid 200"] == "" || s.entities["pve1"] == "" {
		t.Errorf("entities = %v", s.entities)
	}
	if s.summarizing {
		t.Error("summarizing flag not cleared")
	}
	m.mu.Unlock()
}

func TestSummarizeMergesEntities(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 30; i++ {
		m.AddMessage("s1", types.RoleUser, "msg")
	}
	m.mu.Lock()
	m.sessions["s1"].entities["192.168.1.10"] = "pve1 address"
	m.mu.Unlock()

	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "More happened.\n" + entitiesMarker + "\nvmid 200: the NAS\n",
	}}
	m.Summarize(context.Background(), "s1", provider)

	ents := m.Entities("s1")
	if ents["192.168.1.10"] != "pve1 address" {
		t.Error("existing entity dropped by summarisation")
	}
	if ents["vmid 200"] != "the NAS" {
		t.Error("new entity not merged")
	}
}

func TestSummarizeFailureLeavesStateUnchanged(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 30; i++ {
		m.AddMessage("s1", types.RoleUser, "msg")
	}

	provider := &llmmock.Provider{CompleteErr: fmt.Errorf("backend unreachable")}
	m.Summarize(context.Background(), "s1", provider)

	m.mu.Lock()
	s := m.sessions["s1"]
	if len(s.messages) != 30 || s.summary != "" {
		t.Errorf("state changed on failure: %d messages, summary %q", len(s.messages), s.summary)
	}
	if s.summarizing {
		t.Error("summarizing flag not cleared on failure")
	}
	m.mu.Unlock()
}

func TestParseSummaryWithoutMarker(t *testing.T) {
	narrative, entities := parseSummary("just a narrative, no marker")
	if narrative != "just a narrative, no marker" || len(entities) != 0 {
		t.Errorf("parse = %q, %v", narrative, entities)
	}
}

func TestTokenizerFallback(t *testing.T) {
	tok := &Tokenizer{} // no encoding: character estimate
	if got := tok.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d", got)
	}
	if got := tok.Count("abcd"); got != 1 {
		t.Errorf("Count(4 chars) = %d, want 1", got)
	}
	if got := tok.Count("abcde"); got != 2 {
		t.Errorf("Count(5 chars) = %d, want ceil(5/4)=2", got)
	}
}

func TestRequestTimer(t *testing.T) {
	timer := NewRequestTimer()
	timer.Mark(MarkRouted)
	timer.Mark(MarkLLMStart)
	timer.Mark(MarkRouted) // duplicate keeps first value

	b := timer.Breakdown()
	if _, ok := b[MarkReceived]; !ok {
		t.Error("t0_received missing")
	}
	if _, ok := b[MarkRouted]; !ok {
		t.Error("t1_routed missing")
	}
	if _, ok := b["total"]; !ok {
		t.Error("total missing")
	}
	if _, ok := b[MarkAudioDelivered]; ok {
		t.Error("unset mark present in breakdown")
	}
}
