package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthward/jarvisd/internal/engine"
	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/internal/session"
	"github.com/hearthward/jarvisd/internal/tools"
)

// pendingTTL bounds how long a blocked RED or ORANGE call waits for its
// confirmation before it is forgotten.
const pendingTTL = 5 * time.Minute

type pendingCall struct {
	Tool    string
	Args    map[string]any
	Tier    safety.Tier
	Reason  string
	expires time.Time
}

// pendingCalls holds tool calls the safety kernel blocked pending user
// confirmation, keyed by a one-time id returned to the client.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]pendingCall
	now   func() time.Time
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]pendingCall), now: time.Now}
}

func (p *pendingCalls) add(call pendingCall) string {
	id := uuid.NewString()
	call.expires = p.now().Add(pendingTTL)
	p.mu.Lock()
	for k, v := range p.calls {
		if p.now().After(v.expires) {
			delete(p.calls, k)
		}
	}
	p.calls[id] = call
	p.mu.Unlock()
	return id
}

// take removes and returns the pending call; expired entries count as absent.
func (p *pendingCalls) take(id string) (pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return pendingCall{}, false
	}
	delete(p.calls, id)
	if p.now().After(call.expires) {
		return pendingCall{}, false
	}
	return call, true
}

// chatToolCall mirrors one dispatched call in the /api/chat response.
type chatToolCall struct {
	Name      string       `json:"name"`
	Result    tools.Result `json:"result"`
	ConfirmID string       `json:"confirmId,omitempty"`
}

// handleChat serves POST /api/chat: the non-streaming mirror of /ws/chat.
// Blocked RED and ORANGE calls come back with a confirmId for
// /api/chat/confirm.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	timer := session.NewRequestTimer()
	var calls []chatToolCall
	reply, err := s.engine.Respond(r.Context(), engine.Request{
		SessionID: req.SessionID,
		Text:      req.Text,
		Caller:    "api",
		Timer:     timer,
		Callbacks: engine.Callbacks{
			OnToolCall: func(name string, args map[string]any, result tools.Result) {
				call := chatToolCall{Name: name, Result: result}
				if result.Blocked && (result.Tier == safety.TierRed || result.Tier == safety.TierOrange) {
					call.ConfirmID = s.pending.add(pendingCall{
						Tool:   name,
						Args:   args,
						Tier:   result.Tier,
						Reason: result.Reason,
					})
				}
				calls = append(calls, call)
			},
		},
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "response failed")
		return
	}
	timer.Log(req.SessionID)

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": req.SessionID,
		"text":      reply.Text,
		"toolCalls": calls,
		"timing":    timer.Breakdown(),
	})
}

// handleConfirm serves POST /api/chat/confirm: re-executes a previously
// blocked call with the confirmation flag set. The id is single-use.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfirmID string `json:"confirmId"`
		Keyword   string `json:"keyword,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	call, ok := s.pending.take(req.ConfirmID)
	if !ok {
		writeError(w, http.StatusNotFound, "no pending call for that id")
		return
	}

	args := make(map[string]any, len(call.Args)+2)
	for k, v := range call.Args {
		args[k] = v
	}
	args["confirmed"] = true
	if req.Keyword != "" {
		args["keyword"] = req.Keyword
	}

	result := s.dispatcher.Execute(r.Context(), call.Tool, args, safety.CallContext{Caller: "user"})
	status := http.StatusOK
	if result.Blocked {
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{
		"tool":   call.Tool,
		"result": result,
	})
}
