// Package tools implements the tool registry and dispatcher: the single map
// of infrastructure actions the model, the REST surface, and the runbook
// engine all execute through. Every invocation runs the same pipeline:
// registry lookup, safety evaluation, then the handler under panic recovery.
//
// Tools are registered once at startup from the leaf tables in this package
// (cluster, lifecycle, system, files, transfer, smarthome, camera); the
// registry is read-only afterwards, so lookups take no lock.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/types"
)

// Handler executes one tool call. The returned string is the tool result
// content handed back to the model or API caller; errors become
// {isError: true} results, never panics up the stack.
type Handler func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error)

// Tool is one registered infrastructure action. Tier is immutable and
// declared with the tool.
type Tool struct {
	Name        string
	Description string
	Tier        safety.Tier
	Schema      json.RawMessage
	Handler     Handler `json:"-"`
}

// Result is the outcome of one dispatch.
type Result struct {
	// Content is the handler output, or the error message when IsError.
	Content string `json:"content,omitempty"`

	// IsError marks a handler failure (the call passed safety but the
	// action itself failed).
	IsError bool `json:"isError"`

	// Blocked marks a safety denial; the handler never ran.
	Blocked bool `json:"blocked,omitempty"`

	// Reason explains a denial.
	Reason string `json:"reason,omitempty"`

	// Tier is the resolved tier of the tool.
	Tier safety.Tier `json:"tier"`
}

// Dispatcher owns the registry and runs the execution pipeline.
type Dispatcher struct {
	kernel  *safety.Kernel
	metrics *observe.Metrics
	tools   map[string]Tool
}

// NewDispatcher creates an empty dispatcher. Register all tools before the
// first Execute; registration is not synchronised.
func NewDispatcher(kernel *safety.Kernel, metrics *observe.Metrics) *Dispatcher {
	return &Dispatcher{
		kernel:  kernel,
		metrics: metrics,
		tools:   make(map[string]Tool),
	}
}

// Register adds a tool and declares its tier to the safety kernel. Panics on
// a duplicate name; duplicates are a programming error caught at startup.
func (d *Dispatcher) Register(t Tool) {
	if _, exists := d.tools[t.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration of %q", t.Name))
	}
	if !t.Tier.IsValid() {
		panic(fmt.Sprintf("tools: tool %q has invalid tier %q", t.Name, t.Tier))
	}
	d.tools[t.Name] = t
	d.kernel.RegisterTier(t.Name, t.Tier)
}

// List returns all registered tools sorted by name, handlers omitted.
func (d *Dispatcher) List() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		t.Handler = nil
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions returns the registry as tool definitions for the LLM.
func (d *Dispatcher) Definitions() []types.ToolDefinition {
	listed := d.List()
	out := make([]types.ToolDefinition, 0, len(listed))
	for _, t := range listed {
		out = append(out, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return out
}

// Execute runs one tool call through the full pipeline: lookup, safety
// evaluation, handler. Confirmation is read from the "confirmed" argument;
// the override flag comes from the per-call context, never a global.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any, call safety.CallContext) Result {
	tool, ok := d.tools[name]
	if !ok {
		slog.Warn("tool not found", "tool", name, "caller", call.Caller)
		d.metrics.RecordToolCall(ctx, name, "not_found")
		return Result{Blocked: true, Reason: fmt.Sprintf("tool %q not found", name), Tier: safety.TierBlack}
	}

	confirmed, _ := args["confirmed"].(bool)
	dec := d.kernel.CheckSafety(name, args, confirmed, call.Override)
	if !dec.Allowed {
		d.metrics.RecordSafetyDenial(ctx, name)
		d.metrics.RecordToolCall(ctx, name, "blocked")
		return Result{Blocked: true, Reason: dec.Reason, Tier: dec.Tier}
	}

	start := time.Now()
	content, err := d.invoke(ctx, tool, args, call)
	d.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		slog.Error("tool execution failed", "tool", name, "caller", call.Caller, "error", err)
		d.metrics.RecordToolCall(ctx, name, "error")
		return Result{IsError: true, Content: err.Error(), Tier: tool.Tier}
	}
	d.metrics.RecordToolCall(ctx, name, "success")
	return Result{Content: content, Tier: tool.Tier}
}

// invoke runs the handler with panic recovery so a buggy handler degrades
// to an error result instead of taking the plane down.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, args map[string]any, call safety.CallContext) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tools: handler %q panicked: %v", tool.Name, r)
		}
	}()
	return tool.Handler(ctx, args, call)
}
