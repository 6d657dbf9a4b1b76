package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PromptSource identifies the adapter a prompt arrived through.
type PromptSource string

const (
	SourceTerminal PromptSource = "terminal"
	SourceBot      PromptSource = "bot"
	SourceWeb      PromptSource = "web"
	SourceBus      PromptSource = "bus"
	SourceOnce     PromptSource = "once"
)

// Prompt is one user request routed through the conversation monitor.
// It is produced by exactly one adapter and consumed exactly once.
type Prompt struct {
	PromptID   string          `json:"prompt_id"`
	Key        ConversationKey `json:"key"`
	Text       string          `json:"text"`
	SenderID   string          `json:"sender_id"`
	Source     PromptSource    `json:"source"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution. Failures travel
// as IsError content, never as Go errors, so providers can feed them
// back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ChatMessage is one persisted history record for a conversation.
type ChatMessage struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
