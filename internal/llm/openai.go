package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// OpenAIConfig configures the OpenAI-compatible provider. A BaseURL
// pointing at a local server (llama.cpp, Ollama, vLLM) makes this the
// local-model chat client; an empty BaseURL talks to api.openai.com.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIProvider implements Provider on the OpenAI chat completions
// streaming API and any server speaking it.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	name := "openai"
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
		name = "local"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         name,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
}

// Name returns "openai", or "local" when a BaseURL override is set.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete streams a chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("openai: request is nil")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream converts stream deltas into CompletionChunks. Tool call
// arguments stream as fragments keyed by index and are emitted once the
// finish reason or EOF confirms they are complete.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)

	flushToolCalls := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &CompletionChunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls()
				chunks <- &CompletionChunk{Done: true}
				return
			}
			chunks <- &CompletionChunk{Err: fmt.Errorf("openai: %w", err), Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls()
		}
	}
}

func convertOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		// Tool results become separate role:"tool" messages.
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		out := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		result = append(result, out)
	}
	return result
}

func convertOpenAITools(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
