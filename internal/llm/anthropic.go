package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive no-op events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	MaxTokens    int
}

// AnthropicProvider implements Provider on Anthropic's streaming
// Messages API. Safe for concurrent use; each Complete call owns an
// independent stream and goroutine.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	maxTokens    int
}

var _ Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name returns the provider identifier used in config and logs.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete streams a completion. Transient stream-creation failures are
// retried with exponential backoff before the first chunk.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("anthropic: request is nil")
	}

	chunks := make(chan *CompletionChunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryable(err) {
				chunks <- &CompletionChunk{Err: fmt.Errorf("anthropic: %w", err)}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &CompletionChunk{Err: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &CompletionChunk{Err: fmt.Errorf("anthropic: max retries exceeded: %w", err)}
			return
		}

		p.processStream(stream, chunks)
	}()
	return chunks, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream folds Anthropic's event union into CompletionChunks.
// Tool input arrives as partial JSON across deltas and is emitted as
// one chunk when its content block stops.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *CompletionChunk) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	inReasoningBlock := false
	emptyEvents := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			switch block.Type {
			case "thinking":
				inReasoningBlock = true
				processed = true
			case "tool_use":
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &CompletionChunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &CompletionChunk{Reasoning: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inReasoningBlock {
				inReasoningBlock = false
				processed = true
			} else if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				chunks <- &CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			chunks <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &CompletionChunk{Err: errors.New("anthropic: stream error")}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &CompletionChunk{Err: fmt.Errorf("anthropic: malformed stream, %d consecutive empty events", emptyEvents)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &CompletionChunk{Err: fmt.Errorf("anthropic: %w", err)}
	}
}

func convertAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		// System turns are carried in params.System, not the transcript.
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(toolCall.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", toolCall.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user messages.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

// isRetryable classifies transport failures worth another attempt:
// rate limits, server errors, and timeouts.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset", "connection refused", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
