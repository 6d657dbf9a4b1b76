package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// EndpointConfig names one server to connect.
type EndpointConfig struct {
	Name    string
	URL     string
	Headers map[string]string
}

// ManagerConfig configures a connection set for one agent.
type ManagerConfig struct {
	AgentID   string
	Endpoints []EndpointConfig

	// Sampling answers createMessage requests from any connected
	// server. Optional.
	Sampling *SamplingHandler

	Logger *slog.Logger
}

// Manager holds one agent's MCP connections and presents them as a
// single tool source with qualified "<server>:<tool>" names. A server
// that stays down after dial retries is excluded; the rest serve.
type Manager struct {
	agentID string
	logger  *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	catalog   models.ToolCatalog

	onResourceUpdated func(server, uri string)
	onResourceGone    func(server string)
}

// NewManager dials every configured endpoint concurrently and builds
// the merged catalog. Individual failures degrade the catalog instead
// of failing the manager; the zero-endpoint manager is valid and
// serves an empty catalog.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		agentID:   cfg.AgentID,
		logger:    logger.With("component", "mcp_manager", "agent", cfg.AgentID),
		endpoints: make(map[string]*Endpoint, len(cfg.Endpoints)),
		catalog:   models.ToolCatalog{},
	}

	// The typed-nil trap: assigning a nil *SamplingHandler directly to
	// the interface field would advertise a sampling capability we
	// cannot serve.
	var sampling client.SamplingHandler
	if cfg.Sampling != nil {
		sampling = cfg.Sampling
	}

	var eg errgroup.Group
	results := make([]*Endpoint, len(cfg.Endpoints))
	for i, epCfg := range cfg.Endpoints {
		eg.Go(func() error {
			ep, err := Dial(ctx, DialConfig{
				Name:     epCfg.Name,
				URL:      epCfg.URL,
				Headers:  epCfg.Headers,
				Sampling: sampling,
				Logger:   logger,
			})
			if err != nil {
				m.logger.Error("endpoint unavailable, continuing without it",
					"endpoint", epCfg.Name, "error", err)
				return nil
			}
			results[i] = ep
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		for _, ep := range results {
			if ep != nil {
				_ = ep.Close()
			}
		}
		return nil, ctx.Err()
	}

	for _, ep := range results {
		if ep == nil {
			continue
		}
		if _, dup := m.endpoints[ep.Name()]; dup {
			m.logger.Error("duplicate endpoint name, dropping later connection", "endpoint", ep.Name())
			_ = ep.Close()
			continue
		}
		ep.onToolsChanged = m.rebuildCatalog
		ep.onResourceUpdated = m.resourceUpdated
		ep.onResourceGone = m.resourceGone
		m.endpoints[ep.Name()] = ep
	}
	m.rebuildCatalog()
	return m, nil
}

// Catalog returns the merged tool catalog. Implements agent.ToolSource.
func (m *Manager) Catalog() models.ToolCatalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog
}

// CallTool dispatches a qualified tool name to its endpoint.
// Implements agent.ToolSource.
func (m *Manager) CallTool(ctx context.Context, name string, args json.RawMessage) (*agent.ToolResult, error) {
	server, tool, err := models.SplitToolName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", agent.ErrUnknownTool, name)
	}
	m.mu.RLock()
	ep, ok := m.endpoints[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no connected server %q", agent.ErrUnknownTool, server)
	}

	content, isErr, err := ep.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	if isErr {
		return &agent.ToolResult{Content: content, IsError: true}, nil
	}
	return agent.Ok(content), nil
}

// SystemPrompt assembles the agent's system prompt from every server's
// argument-free prompts, in endpoint name order, and appends the user
// context under its own header when present.
func (m *Manager) SystemPrompt(ctx context.Context, userContext string) string {
	m.mu.RLock()
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	var sections []string
	for _, name := range names {
		m.mu.RLock()
		ep := m.endpoints[name]
		m.mu.RUnlock()
		if ep == nil {
			continue
		}
		for _, prompt := range ep.Prompts() {
			if promptNeedsArguments(prompt.Arguments) {
				continue
			}
			text, err := ep.PromptText(ctx, prompt.Name)
			if err != nil {
				m.logger.Warn("prompt fetch failed", "endpoint", name, "prompt", prompt.Name, "error", err)
				continue
			}
			if text != "" {
				sections = append(sections, text)
			}
		}
	}

	if userContext != "" {
		sections = append(sections, "## User Context\n"+userContext)
	}
	return strings.Join(sections, "\n\n")
}

// ReadResource reads a resource from a named endpoint.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (string, error) {
	ep, err := m.endpoint(server)
	if err != nil {
		return "", err
	}
	return ep.ReadResource(ctx, uri)
}

// SubscribeResource subscribes to updates for a resource on a named
// endpoint.
func (m *Manager) SubscribeResource(ctx context.Context, server, uri string) error {
	ep, err := m.endpoint(server)
	if err != nil {
		return err
	}
	return ep.SubscribeResource(ctx, uri)
}

// OnResourceUpdated registers the callback invoked when any endpoint
// reports a subscribed resource changed.
func (m *Manager) OnResourceUpdated(fn func(server, uri string)) {
	m.mu.Lock()
	m.onResourceUpdated = fn
	m.mu.Unlock()
}

// OnResourceListChanged registers the callback invoked when any
// endpoint reports its resource list changed.
func (m *Manager) OnResourceListChanged(fn func(server string)) {
	m.mu.Lock()
	m.onResourceGone = fn
	m.mu.Unlock()
}

// Healthy reports whether every endpoint transport is still alive. A
// false answer means the session holding this manager should be torn
// down and rebuilt on the next prompt.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ep := range m.endpoints {
		if !ep.Healthy() {
			return false
		}
	}
	return true
}

// Servers lists connected endpoint names in sorted order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close disconnects every endpoint.
func (m *Manager) Close() error {
	m.mu.Lock()
	endpoints := m.endpoints
	m.endpoints = map[string]*Endpoint{}
	m.catalog = models.ToolCatalog{}
	m.mu.Unlock()

	var firstErr error
	for name, ep := range endpoints {
		if err := ep.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return firstErr
}

func (m *Manager) endpoint(server string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[server]
	if !ok {
		return nil, fmt.Errorf("no connected server %q", server)
	}
	return ep, nil
}

func (m *Manager) resourceUpdated(server, uri string) {
	m.mu.RLock()
	cb := m.onResourceUpdated
	m.mu.RUnlock()
	if cb != nil {
		cb(server, uri)
	}
}

func (m *Manager) resourceGone(server string) {
	m.mu.RLock()
	cb := m.onResourceGone
	m.mu.RUnlock()
	if cb != nil {
		cb(server)
	}
}

// rebuildCatalog re-merges every endpoint's tools under qualified
// names. On a name collision between servers both entries survive
// because qualification makes them distinct; collisions within one
// server keep the last occurrence, as served.
func (m *Manager) rebuildCatalog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	catalog := models.ToolCatalog{}
	for name, ep := range m.endpoints {
		for _, tool := range ep.Tools() {
			qualified := models.QualifyToolName(name, tool.Name)
			catalog[qualified] = models.ToolDescriptor{
				Name:        qualified,
				Server:      name,
				Description: tool.Description,
				Schema:      toolSchema(tool),
			}
		}
	}
	m.catalog = catalog
}

func toolSchema(tool mcp.Tool) json.RawMessage {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema)
	}
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return schema
}

func promptNeedsArguments(args []mcp.PromptArgument) bool {
	for _, arg := range args {
		if arg.Required {
			return true
		}
	}
	return false
}
