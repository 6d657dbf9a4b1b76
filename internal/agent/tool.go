package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// ToolResult is the outcome of a single tool invocation. A failed
// invocation is still a result: IsError marks it so the model can read
// the failure text and recover. Transport or programming errors travel
// on the error return instead and abort the run.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Ok wraps successful tool output.
func Ok(content string) *ToolResult {
	return &ToolResult{Content: content}
}

// Errf wraps a failure the model should see and react to.
func Errf(format string, args ...any) *ToolResult {
	return &ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// ToResultModel converts to the transcript representation.
func (r *ToolResult) ToResultModel(toolCallID string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: toolCallID,
		Content:    r.Content,
		IsError:    r.IsError,
	}
}

// ToolSource supplies the tools a runner may offer to the model. The
// catalog keys are qualified "<server>:<tool>" names and CallTool takes
// the same qualified name.
type ToolSource interface {
	Catalog() models.ToolCatalog
	CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error)
}

// StaticToolSource serves a fixed set of locally implemented tools.
// Used by tests and by agents that carry built-in tools without an
// upstream server.
type StaticToolSource struct {
	tools   map[string]LocalTool
	catalog models.ToolCatalog
}

// LocalTool is a tool implemented in-process.
type LocalTool interface {
	Descriptor() models.ToolDescriptor
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// NewStaticToolSource builds a source from explicitly registered tools.
// Duplicate names are rejected so a misconfigured registry fails loudly
// at startup instead of shadowing tools at call time.
func NewStaticToolSource(tools ...LocalTool) (*StaticToolSource, error) {
	s := &StaticToolSource{
		tools:   make(map[string]LocalTool, len(tools)),
		catalog: make(models.ToolCatalog, len(tools)),
	}
	for _, t := range tools {
		desc := t.Descriptor()
		if desc.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := s.tools[desc.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", desc.Name)
		}
		s.tools[desc.Name] = t
		s.catalog[desc.Name] = desc
	}
	return s, nil
}

func (s *StaticToolSource) Catalog() models.ToolCatalog {
	return s.catalog
}

func (s *StaticToolSource) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	t, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Execute(ctx, args)
}
