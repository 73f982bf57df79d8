// Package types holds the shared value types exchanged between the control
// plane's components and its provider backends: chat messages, tool calls,
// and tool definitions. Cross-cutting data structures live here to avoid
// circular imports; each package defines its own domain types.
package types

import "encoding/json"

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation sent to or received from the LLM.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`

	// Content is the text body. Empty when the assistant responds only with
	// tool calls.
	Content string `json:"content"`

	// ToolCallID links a RoleTool message to the tool call it answers.
	ToolCallID string `json:"toolCallId,omitempty"`

	// ToolCalls carries the tool invocations an assistant message requested.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier, echoed back on the result.
	ID string `json:"id"`

	// Name is the registered tool name.
	Name string `json:"name"`

	// Arguments is the raw JSON argument object as produced by the model.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	// Name is the registered tool name.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON Schema of the tool's argument object.
	Parameters json.RawMessage `json:"parameters"`
}
