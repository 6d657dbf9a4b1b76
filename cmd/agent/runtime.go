package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/internal/config"
	"github.com/Dethon/Agent-sub012/internal/llm"
	"github.com/Dethon/Agent-sub012/internal/mcpclient"
	"github.com/Dethon/Agent-sub012/internal/observability"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/internal/state"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

const (
	modeTerminal = "terminal"
	modeBot      = "bot"
	modeWeb      = "web"
	modeOnce     = "once"
)

// Idle sessions pin MCP connections and history buffers, so the
// registry is swept on a fixed cadence.
const (
	sweepInterval  = 5 * time.Minute
	sessionMaxIdle = 30 * time.Minute
)

// runtime holds the pieces every chat surface shares: the provider
// table, the approval gate, the history store and the session
// registry feeding the conversation monitor.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	gate      *agent.Gate
	providers map[string]llm.Provider
	history   agent.HistoryStore
	registry  *sessions.Registry
	redis     *redis.Client
}

func newRuntime(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger) (*runtime, error) {
	providers, err := buildProviders(cfg.LLM)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		metrics:   observability.NewMetrics(nil),
		gate:      agent.NewGate(cfg.Approval.Timeout, logger),
		providers: providers,
	}

	// once runs self-contained; every other surface keeps history in
	// Redis so conversations survive restarts.
	if mode == modeOnce {
		rt.history = state.NewMemoryHistoryStore()
	} else {
		client, err := state.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rt.redis = client
		rt.history = state.NewHistoryStore(client, cfg.Sessions.HistoryTTL)
	}

	rt.registry = sessions.NewRegistry(rt.buildSession, logger)
	return rt, nil
}

func (rt *runtime) Close() {
	if err := rt.registry.Close(); err != nil {
		rt.logger.Warn("registry close", "error", err)
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", "error", err)
		}
	}
}

// buildSession is the registry factory. Agents with MCP endpoints get
// a tool-running loop wired to a connection manager whose lifetime
// follows the session; agents without endpoints chat directly with
// their provider.
func (rt *runtime) buildSession(ctx context.Context, key models.ConversationKey) (*sessions.Session, error) {
	agentCfg, ok := rt.cfg.AgentByID(key.AgentID)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", key.AgentID)
	}

	provider, provCfg, err := rt.provider(agentCfg)
	if err != nil {
		return nil, err
	}
	model := agentCfg.Model
	if model == "" {
		model = provCfg.DefaultModel
	}

	runnerCfg := agent.RunnerConfig{
		AgentID:       agentCfg.ID,
		Model:         model,
		MaxTokens:     provCfg.MaxTokens,
		MaxIterations: agentCfg.MaxIterations,
		HistoryLimit:  rt.cfg.Sessions.HistoryLimit,
		Whitelist:     agentCfg.Whitelist,
		Logger:        rt.logger,
	}
	sessCfg := sessions.Config{
		Key:              key,
		Resolver:         rt.gate,
		SubscriberBuffer: rt.cfg.Sessions.SubscriberBuffer,
		Logger:           rt.logger,
	}

	if len(agentCfg.Endpoints) == 0 {
		runner, err := agent.NewLocalRunner(provider, rt.history, runnerCfg)
		if err != nil {
			return nil, err
		}
		sessCfg.Runner = runner
		return sessions.New(sessCfg), nil
	}

	endpoints := make([]mcpclient.EndpointConfig, 0, len(agentCfg.Endpoints))
	for _, ep := range agentCfg.Endpoints {
		endpoints = append(endpoints, mcpclient.EndpointConfig{
			Name:    ep.Name,
			URL:     ep.URL,
			Headers: ep.Headers,
		})
	}
	mgr, err := mcpclient.NewManager(ctx, mcpclient.ManagerConfig{
		AgentID:   agentCfg.ID,
		Endpoints: endpoints,
		Sampling:  mcpclient.NewSamplingHandler(provider, model, rt.logger),
		Logger:    rt.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect mcp endpoints for %s: %w", agentCfg.ID, err)
	}

	var userCtx string
	if agentCfg.UserID != "" {
		userCtx = "userId: " + agentCfg.UserID
	}
	runnerCfg.SystemPrompt = mgr.SystemPrompt(ctx, userCtx)

	runner, err := agent.NewMCPRunner(provider, mgr, rt.gate, rt.history, runnerCfg)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	sessCfg.Runner = runner
	sessCfg.Closer = mgr.Close
	sessCfg.Healthy = mgr.Healthy
	return sessions.New(sessCfg), nil
}

func (rt *runtime) provider(agentCfg *config.AgentConfig) (llm.Provider, config.ProviderConfig, error) {
	name := agentCfg.Provider
	if name == "" {
		name = rt.cfg.LLM.DefaultProvider
	}
	p, ok := rt.providers[name]
	if !ok {
		return nil, config.ProviderConfig{}, fmt.Errorf("agent %s wants provider %q which is not configured", agentCfg.ID, name)
	}
	return p, rt.cfg.LLM.Providers[name], nil
}

// buildProviders turns the configured provider table into live
// clients. Anthropic gets the native SDK; anything else, or an
// anthropic entry with a base URL, goes through the OpenAI-compatible
// client.
func buildProviders(cfg config.LLMConfig) (map[string]llm.Provider, error) {
	providers := make(map[string]llm.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if name == "anthropic" && pc.BaseURL == "" {
			p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
				APIKey:       pc.APIKey,
				DefaultModel: pc.DefaultModel,
				MaxTokens:    pc.MaxTokens,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers[name] = p
			continue
		}
		providers[name] = llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}
	return providers, nil
}

// pickAgent resolves the --agent flag against the configured agents,
// falling back to the surface default and then the first agent.
func (rt *runtime) pickAgent(flagID, defaultID string) (string, error) {
	id := flagID
	if id == "" {
		id = defaultID
	}
	if id == "" {
		if len(rt.cfg.Agents) == 0 {
			return "", fmt.Errorf("no agents configured")
		}
		id = rt.cfg.Agents[0].ID
	}
	if _, ok := rt.cfg.AgentByID(id); !ok {
		return "", fmt.Errorf("unknown agent %q", id)
	}
	return id, nil
}

func (rt *runtime) agentIDs() []string {
	ids := make([]string, 0, len(rt.cfg.Agents))
	for _, a := range rt.cfg.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}

func (rt *runtime) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rt.registry.Sweep(sessionMaxIdle); n > 0 {
				rt.logger.Info("idle sessions swept", "count", n)
			}
		}
	}
}

// buildLogger applies the configured level and format. --debug wins
// over the configured level.
func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
