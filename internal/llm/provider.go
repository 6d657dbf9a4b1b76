// Package llm defines the streaming chat-client contract and its
// provider implementations. Providers convert between the internal
// message format and their API, stream deltas over a channel, and retry
// transient transport failures at the point of origin.
package llm

import (
	"context"
	"encoding/json"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// ToolDef is a tool definition advertised to the model. Schema is a
// JSON Schema object for the tool's arguments.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// CompletionRequest describes one streamed completion.
type CompletionRequest struct {
	Model         string
	System        string
	Messages      []Message
	Tools         []ToolDef
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

// CompletionChunk is one streamed increment of a completion. Exactly
// one of Text, Reasoning, ToolCall, Done, or Err is meaningful per
// chunk. Err is never serialized; adapters translate it.
type CompletionChunk struct {
	Text         string
	Reasoning    string
	ToolCall     *models.ToolCall
	Done         bool
	InputTokens  int
	OutputTokens int
	Err          error
}

// Provider is a streaming chat client. Complete returns immediately;
// chunks arrive on the returned channel, which the provider closes when
// the stream ends. A stream-level failure arrives as a chunk with Err
// set, not as a panic or a dropped channel.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}
