package mcpclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Dethon/Agent-sub012/internal/llm"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

const samplingMaxTokens = 2048

// SamplingHandler answers createMessage requests the connected servers
// send back over the same session, running them through the agent's
// own provider. Tool use is out of bounds for sampled completions, so
// none are offered.
type SamplingHandler struct {
	provider llm.Provider
	model    string
	logger   *slog.Logger
}

// NewSamplingHandler builds a handler backed by the agent's provider
// and default model.
func NewSamplingHandler(provider llm.Provider, model string, logger *slog.Logger) *SamplingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SamplingHandler{
		provider: provider,
		model:    model,
		logger:   logger.With("component", "mcp_sampling"),
	}
}

// CreateMessage satisfies the mcp-go client sampling interface.
func (h *SamplingHandler) CreateMessage(ctx context.Context, req mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
	if h.provider == nil {
		return nil, fmt.Errorf("sampling is not configured")
	}

	model := h.model
	for _, hint := range hintNames(req.ModelPreferences) {
		if hint != "" {
			model = hint
			break
		}
	}

	system := strings.TrimSpace(req.SystemPrompt)
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		tc, ok := mcp.AsTextContent(msg.Content)
		if !ok {
			return nil, fmt.Errorf("unsupported sampling content type")
		}
		switch msg.Role {
		case mcp.RoleUser:
			messages = append(messages, llm.Message{Role: models.RoleUser, Content: tc.Text})
		case mcp.RoleAssistant:
			messages = append(messages, llm.Message{Role: models.RoleAssistant, Content: tc.Text})
		default:
			// System content folds into the system prompt.
			if tc.Text != "" {
				if system != "" {
					system += "\n"
				}
				system += tc.Text
			}
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("sampling request has no messages")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = samplingMaxTokens
	}

	completion, err := h.provider.Complete(ctx, &llm.CompletionRequest{
		Model:         model,
		System:        system,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
	})
	if err != nil {
		return nil, err
	}

	var output strings.Builder
	for chunk := range completion {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.ToolCall != nil {
			return nil, fmt.Errorf("sampling does not support tool calls")
		}
		if chunk.Text != "" {
			output.WriteString(chunk.Text)
		}
	}

	h.logger.Debug("sampling completed", "model", model, "chars", output.Len())
	return &mcp.CreateMessageResult{
		SamplingMessage: mcp.SamplingMessage{
			Role: mcp.RoleAssistant,
			Content: mcp.TextContent{
				Type: "text",
				Text: output.String(),
			},
		},
		Model:      model,
		StopReason: "endTurn",
	}, nil
}

func hintNames(prefs *mcp.ModelPreferences) []string {
	if prefs == nil {
		return nil
	}
	names := make([]string, 0, len(prefs.Hints))
	for _, hint := range prefs.Hints {
		names = append(names, strings.TrimSpace(hint.Name))
	}
	return names
}
