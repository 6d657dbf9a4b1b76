package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Dethon/Agent-sub012/internal/llm"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

const updateBufferSize = 32

// ErrNoProvider is returned when a runner is built without a model
// provider.
var ErrNoProvider = errors.New("no LLM provider configured")

// RunInput carries one prompt into a run. History is loaded inside the
// run, not by the caller, so queued prompts always see the transcript
// as of their own start.
type RunInput struct {
	Key    models.ConversationKey
	Prompt *models.Prompt
}

// Runner executes one prompt against a model and streams updates until
// a terminal StreamComplete or Error. Reset discards the conversation
// so the next run starts from an empty transcript.
type Runner interface {
	RunStreaming(ctx context.Context, in *RunInput) (<-chan *models.ResponseUpdate, error)
	Reset(ctx context.Context, key models.ConversationKey) error
}

// HistoryStore persists conversation transcripts keyed by conversation.
type HistoryStore interface {
	History(ctx context.Context, key models.ConversationKey, limit int) ([]models.ChatMessage, error)
	Append(ctx context.Context, key models.ConversationKey, msgs ...*models.ChatMessage) error
	Clear(ctx context.Context, key models.ConversationKey) error
}

// RunnerConfig configures loop behavior. Zero values fall back to the
// defaults in sanitizeRunnerConfig.
type RunnerConfig struct {
	AgentID       string
	Model         string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int
	HistoryLimit  int
	Whitelist     []string
	Logger        *slog.Logger
}

func sanitizeRunnerConfig(cfg RunnerConfig) RunnerConfig {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// LoopRunner drives the prompt/stream/execute-tools cycle:
//
//	init ──▶ stream ──▶ execute tools ──▶ stream ...
//	            │
//	            └──▶ complete (no tool calls or max iterations)
//
// A LoopRunner without a tool source degenerates to a single stream
// pass, which is how local-model agents run.
type LoopRunner struct {
	provider llm.Provider
	source   ToolSource
	gate     *Gate
	history  HistoryStore
	cfg      RunnerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewMCPRunner builds a runner whose tools come from a tool source and
// pass through the approval gate before executing.
func NewMCPRunner(provider llm.Provider, source ToolSource, gate *Gate, history HistoryStore, cfg RunnerConfig) (*LoopRunner, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if history == nil {
		return nil, errors.New("no history store configured")
	}
	if source == nil {
		return nil, errors.New("no tool source configured")
	}
	if gate == nil {
		return nil, errors.New("no approval gate configured")
	}
	cfg = sanitizeRunnerConfig(cfg)
	return &LoopRunner{
		provider: provider,
		source:   source,
		gate:     gate,
		history:  history,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "runner", "agent", cfg.AgentID),
		now:      time.Now,
	}, nil
}

// NewLocalRunner builds a tool-less runner backed by a local or remote
// chat model. Each prompt is a single completion pass.
func NewLocalRunner(provider llm.Provider, history HistoryStore, cfg RunnerConfig) (*LoopRunner, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if history == nil {
		return nil, errors.New("no history store configured")
	}
	cfg = sanitizeRunnerConfig(cfg)
	return &LoopRunner{
		provider: provider,
		history:  history,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "runner", "agent", cfg.AgentID),
		now:      time.Now,
	}, nil
}

// Reset wipes the persisted transcript for a conversation.
func (r *LoopRunner) Reset(ctx context.Context, key models.ConversationKey) error {
	return r.history.Clear(ctx, key)
}

// RunStreaming executes the loop for one prompt. The returned channel
// is closed after a terminal update; the goroutine respects ctx and
// reports cancellation as a terminal StreamComplete with Cancelled set.
func (r *LoopRunner) RunStreaming(ctx context.Context, in *RunInput) (<-chan *models.ResponseUpdate, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	if in == nil || in.Prompt == nil {
		return nil, errors.New("prompt is nil")
	}
	updates := make(chan *models.ResponseUpdate, updateBufferSize)
	go r.run(ctx, in, updates)
	return updates, nil
}

func (r *LoopRunner) run(ctx context.Context, in *RunInput, updates chan<- *models.ResponseUpdate) {
	defer close(updates)

	emit := func(u *models.ResponseUpdate) bool {
		u.Timestamp = r.now()
		select {
		case updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// Terminal updates must reach the consumer even after cancellation,
	// so they bypass the ctx select. The consumer drains until close.
	emitTerminal := func(u *models.ResponseUpdate) {
		u.Timestamp = r.now()
		updates <- u
	}
	fail := func(phase RunPhase, iteration int, cause error) {
		err := newRunError(phase, iteration, cause)
		r.logger.Error("run failed", "conversation", in.Key.String(), "error", err)
		emitTerminal(&models.ResponseUpdate{
			Kind: models.UpdateError,
			Err:  &models.UpdateErr{Message: err.Error(), Cause: err},
		})
	}
	cancelled := func() {
		emitTerminal(&models.ResponseUpdate{
			Kind:      models.UpdateStreamComplete,
			Cancelled: true,
		})
	}

	history, err := r.history.History(ctx, in.Key, r.cfg.HistoryLimit)
	if err != nil {
		if ctx.Err() != nil {
			cancelled()
			return
		}
		// Degrade to an empty transcript rather than refusing the run.
		r.logger.Warn("history load failed, starting empty", "conversation", in.Key.String(), "error", err)
		history = nil
	}
	messages := historyMessages(repairHistory(history))
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: in.Prompt.Text})

	r.persist(ctx, in.Key, &models.ChatMessage{
		ID:        in.Prompt.PromptID,
		Role:      models.RoleUser,
		Content:   in.Prompt.Text,
		CreatedAt: r.now(),
	})

	toolDefs := r.toolDefs()

	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			cancelled()
			return
		default:
		}

		req := &llm.CompletionRequest{
			Model:     r.cfg.Model,
			System:    r.cfg.SystemPrompt,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: r.cfg.MaxTokens,
		}
		chunks, err := r.provider.Complete(ctx, req)
		if err != nil {
			fail(PhaseStream, iteration, err)
			return
		}

		var text strings.Builder
		var toolCalls []models.ToolCall
		for chunk := range chunks {
			if chunk.Err != nil {
				if ctx.Err() != nil {
					cancelled()
					return
				}
				fail(PhaseStream, iteration, chunk.Err)
				return
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				if !emit(&models.ResponseUpdate{Kind: models.UpdateTextDelta, TextDelta: chunk.Text}) {
					cancelled()
					return
				}
			}
			if chunk.Reasoning != "" {
				if !emit(&models.ResponseUpdate{Kind: models.UpdateReasoningDelta, ReasoningDelta: chunk.Reasoning}) {
					cancelled()
					return
				}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				if !emit(&models.ResponseUpdate{Kind: models.UpdateToolCallDelta, ToolCall: &models.ToolCallUpdate{
					ID:        chunk.ToolCall.ID,
					Name:      chunk.ToolCall.Name,
					Arguments: chunk.ToolCall.Input,
					Stage:     models.ToolStageRequested,
				}}) {
					cancelled()
					return
				}
			}
			if chunk.Done {
				r.logger.Debug("completion finished",
					"conversation", in.Key.String(),
					"iteration", iteration,
					"input_tokens", chunk.InputTokens,
					"output_tokens", chunk.OutputTokens)
			}
		}
		if ctx.Err() != nil {
			cancelled()
			return
		}

		assistant := &models.ChatMessage{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
			CreatedAt: r.now(),
		}
		r.persist(ctx, in.Key, assistant)
		messages = append(messages, llm.Message{
			Role:      models.RoleAssistant,
			Content:   assistant.Content,
			ToolCalls: toolCalls,
		})

		if len(toolCalls) == 0 {
			emitTerminal(&models.ResponseUpdate{Kind: models.UpdateStreamComplete})
			return
		}

		results := make([]models.ToolResult, 0, len(toolCalls))
		for i := range toolCalls {
			results = append(results, r.executeTool(ctx, in.Key, &toolCalls[i], emit))
			if ctx.Err() != nil {
				cancelled()
				return
			}
		}
		r.persist(ctx, in.Key, &models.ChatMessage{
			ID:          uuid.NewString(),
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   r.now(),
		})
		messages = append(messages, llm.Message{Role: models.RoleTool, ToolResults: results})
	}

	fail(PhaseTools, r.cfg.MaxIterations, ErrMaxIterations)
}

// executeTool carries one call through approval and execution, emitting
// stage updates along the way. Failures become model-visible results so
// the loop keeps going.
func (r *LoopRunner) executeTool(ctx context.Context, key models.ConversationKey, call *models.ToolCall, emit func(*models.ResponseUpdate) bool) models.ToolResult {
	stage := func(s models.ToolCallStage, result string, isErr bool) {
		emit(&models.ResponseUpdate{Kind: models.UpdateToolCallDelta, ToolCall: &models.ToolCallUpdate{
			ID:      call.ID,
			Name:    call.Name,
			Stage:   s,
			Result:  result,
			IsError: isErr,
		}})
	}

	if r.source == nil {
		stage(models.ToolStageFailed, "no tools available", true)
		return Errf("tool %s is not available", call.Name).ToResultModel(call.ID)
	}

	decision := models.ApprovalAutoGranted
	if r.gate != nil {
		decision, _ = r.gate.Authorize(ctx, &AuthorizeRequest{
			Key:       key,
			ToolName:  call.Name,
			Arguments: call.Input,
			Whitelist: r.cfg.Whitelist,
			Notify: func(req *models.ApprovalRequest) {
				emit(&models.ResponseUpdate{Kind: models.UpdateApproval, Approval: req})
			},
		})
	}
	if !decision.Granted() {
		stage(models.ToolStageRejected, "", false)
		return Errf("tool call was rejected by the user").ToResultModel(call.ID)
	}

	stage(models.ToolStageRunning, "", false)
	res, err := r.source.CallTool(ctx, call.Name, call.Input)
	if err != nil {
		res = Errf("tool execution failed: %v", err)
	}
	if res.IsError {
		stage(models.ToolStageFailed, res.Content, true)
	} else {
		stage(models.ToolStageCompleted, res.Content, false)
	}
	return res.ToResultModel(call.ID)
}

func (r *LoopRunner) toolDefs() []llm.ToolDef {
	if r.source == nil {
		return nil
	}
	catalog := r.source.Catalog()
	defs := make([]llm.ToolDef, 0, len(catalog))
	for _, name := range catalog.Names() {
		desc := catalog[name]
		defs = append(defs, llm.ToolDef{
			Name:        desc.Name,
			Description: desc.Description,
			Schema:      desc.Schema,
		})
	}
	return defs
}

// persist writes a transcript record. Storage trouble degrades the
// transcript, not the run.
func (r *LoopRunner) persist(ctx context.Context, key models.ConversationKey, msg *models.ChatMessage) {
	if err := r.history.Append(ctx, key, msg); err != nil && ctx.Err() == nil {
		r.logger.Warn("history append failed", "conversation", key.String(), "role", msg.Role, "error", err)
	}
}

func historyMessages(history []models.ChatMessage) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, llm.Message{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return messages
}

// repairHistory drops transcript records a provider would reject:
// assistant tool calls with no following results (an interrupted run)
// and results whose calls were trimmed away by the history limit.
func repairHistory(history []models.ChatMessage) []models.ChatMessage {
	repaired := make([]models.ChatMessage, 0, len(history))
	answered := make(map[string]bool)
	for _, m := range history {
		for _, res := range m.ToolResults {
			answered[res.ToolCallID] = true
		}
	}
	known := make(map[string]bool)
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				complete := true
				for _, call := range m.ToolCalls {
					if !answered[call.ID] {
						complete = false
						break
					}
				}
				if !complete {
					continue
				}
			}
			for _, call := range m.ToolCalls {
				known[call.ID] = true
			}
		case models.RoleTool:
			kept := m.ToolResults[:0:0]
			for _, res := range m.ToolResults {
				if known[res.ToolCallID] {
					kept = append(kept, res)
				}
			}
			if len(kept) == 0 {
				continue
			}
			m.ToolResults = kept
		}
		repaired = append(repaired, m)
	}
	return repaired
}
