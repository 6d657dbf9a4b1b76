// Package mcpclient maintains the MCP connections an agent holds to
// its configured tool servers and merges what they offer into a single
// qualified catalog.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Dethon/Agent-sub012/internal/retry"
)

const (
	clientName     = "agent-sub012"
	refreshTimeout = 30 * time.Second
)

// conn is the slice of the mcp-go client the endpoint uses. The real
// implementation is *client.Client; tests substitute a fake.
type conn interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	Subscribe(ctx context.Context, req mcp.SubscribeRequest) error
	Unsubscribe(ctx context.Context, req mcp.UnsubscribeRequest) error
	OnNotification(handler func(mcp.JSONRPCNotification))
	OnConnectionLost(handler func(error))
	Start(ctx context.Context) error
	Close() error
}

// Endpoint is one connected MCP server.
type Endpoint struct {
	name   string
	url    string
	conn   conn
	logger *slog.Logger

	supportsTools        bool
	supportsPrompts      bool
	supportsSubscription bool

	mu         sync.RWMutex
	serverInfo mcp.Implementation
	tools      []mcp.Tool
	prompts    []mcp.Prompt
	lost       bool

	onToolsChanged    func()
	onResourceUpdated func(server, uri string)
	onResourceGone    func(server string)
}

// DialConfig describes one endpoint to connect.
type DialConfig struct {
	Name    string
	URL     string
	Headers map[string]string

	// Sampling, when set, advertises the sampling capability and
	// answers the server's createMessage requests.
	Sampling client.SamplingHandler

	Logger *slog.Logger
}

// Dial connects, initializes, and loads the endpoint's catalog. The
// connect and initialize round is retried with exponential backoff;
// catalog loads ride on the established connection.
func Dial(ctx context.Context, cfg DialConfig) (*Endpoint, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("endpoint %q has no URL", cfg.Name)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Endpoint{
		name:   cfg.Name,
		url:    cfg.URL,
		logger: logger.With("component", "mcp_client", "server", cfg.Name),
	}

	err := retry.Do(ctx, retry.Dial(), func() error {
		opts := []transport.StreamableHTTPCOption{transport.WithContinuousListening()}
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		trans, err := transport.NewStreamableHTTP(cfg.URL, opts...)
		if err != nil {
			return retry.Permanent(err)
		}
		var copts []client.ClientOption
		if cfg.Sampling != nil {
			copts = append(copts, client.WithSamplingHandler(cfg.Sampling))
		}
		c := client.NewClient(trans, copts...)
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return fmt.Errorf("start: %w", err)
		}
		initResp, err := c.Initialize(ctx, mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
				Capabilities:    mcp.ClientCapabilities{},
				ClientInfo: mcp.Implementation{
					Name:    clientName,
					Version: "1.0.0",
				},
			},
		})
		if err != nil {
			_ = c.Close()
			return fmt.Errorf("initialize: %w", err)
		}
		e.conn = c
		e.serverInfo = initResp.ServerInfo
		e.supportsTools = initResp.Capabilities.Tools != nil
		e.supportsPrompts = initResp.Capabilities.Prompts != nil
		e.supportsSubscription = initResp.Capabilities.Resources != nil && initResp.Capabilities.Resources.Subscribe
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s (%s): %w", cfg.Name, cfg.URL, err)
	}

	e.conn.OnNotification(e.handleNotification)
	e.conn.OnConnectionLost(func(err error) {
		e.logger.Warn("connection lost", "error", err)
		e.mu.Lock()
		e.lost = true
		e.mu.Unlock()
	})
	if err := e.loadCatalog(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("load catalog from %s: %w", cfg.Name, err)
	}

	e.logger.Info("connected to MCP server",
		"url", cfg.URL,
		"server_name", e.serverInfo.Name,
		"tools", len(e.tools),
		"prompts", len(e.prompts))
	return e, nil
}

// Name returns the configured endpoint name used to qualify tools.
func (e *Endpoint) Name() string { return e.name }

// Healthy reports whether the transport is still believed alive.
func (e *Endpoint) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.lost
}

// ServerInfo returns the implementation reported at initialize.
func (e *Endpoint) ServerInfo() mcp.Implementation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.serverInfo
}

// Tools returns the last loaded tool list.
func (e *Endpoint) Tools() []mcp.Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]mcp.Tool, len(e.tools))
	copy(out, e.tools)
	return out
}

// Prompts returns the last loaded prompt list.
func (e *Endpoint) Prompts() []mcp.Prompt {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]mcp.Prompt, len(e.prompts))
	copy(out, e.prompts)
	return out
}

// loadCatalog fetches tools and prompts, gated on the capabilities the
// server declared. Both lists paginate.
func (e *Endpoint) loadCatalog(ctx context.Context) error {
	if e.supportsTools {
		var tools []mcp.Tool
		var cursor mcp.Cursor
		for {
			req := mcp.ListToolsRequest{}
			req.Params.Cursor = cursor
			res, err := e.conn.ListTools(ctx, req)
			if err != nil {
				return fmt.Errorf("list tools: %w", err)
			}
			tools = append(tools, res.Tools...)
			if res.NextCursor == "" {
				break
			}
			cursor = res.NextCursor
		}
		e.mu.Lock()
		e.tools = tools
		e.mu.Unlock()
	}

	if e.supportsPrompts {
		var prompts []mcp.Prompt
		var cursor mcp.Cursor
		for {
			req := mcp.ListPromptsRequest{}
			req.Params.Cursor = cursor
			res, err := e.conn.ListPrompts(ctx, req)
			if err != nil {
				return fmt.Errorf("list prompts: %w", err)
			}
			prompts = append(prompts, res.Prompts...)
			if res.NextCursor == "" {
				break
			}
			cursor = res.NextCursor
		}
		e.mu.Lock()
		e.prompts = prompts
		e.mu.Unlock()
	}

	return nil
}

// CallTool invokes an unqualified tool name on this endpoint and folds
// the content blocks into one text result.
func (e *Endpoint) CallTool(ctx context.Context, tool string, args json.RawMessage) (string, bool, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", false, fmt.Errorf("tool %s arguments: %w", tool, err)
		}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = arguments
	res, err := e.conn.CallTool(ctx, req)
	if err != nil {
		return "", false, err
	}
	return flattenContent(res.Content), res.IsError, nil
}

// PromptText fetches one prompt and flattens its messages to text.
// Prompts with required arguments are the caller's problem; this sends
// none.
func (e *Endpoint) PromptText(ctx context.Context, name string) (string, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	res, err := e.conn.GetPrompt(ctx, req)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, msg := range res.Messages {
		if tc, ok := mcp.AsTextContent(msg.Content); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// ReadResource reads one resource URI and flattens text contents.
func (e *Endpoint) ReadResource(ctx context.Context, uri string) (string, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := e.conn.ReadResource(ctx, req)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, content := range res.Contents {
		if tc, ok := content.(mcp.TextResourceContents); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// SubscribeResource registers for change notifications on a URI. A nil
// error on a server without the subscribe capability would be a lie, so
// that case errors.
func (e *Endpoint) SubscribeResource(ctx context.Context, uri string) error {
	if !e.supportsSubscription {
		return fmt.Errorf("server %s does not support resource subscriptions", e.name)
	}
	req := mcp.SubscribeRequest{}
	req.Params.URI = uri
	return e.conn.Subscribe(ctx, req)
}

// UnsubscribeResource drops a resource subscription.
func (e *Endpoint) UnsubscribeResource(ctx context.Context, uri string) error {
	req := mcp.UnsubscribeRequest{}
	req.Params.URI = uri
	return e.conn.Unsubscribe(ctx, req)
}

func (e *Endpoint) handleNotification(n mcp.JSONRPCNotification) {
	switch n.Method {
	case "notifications/tools/list_changed":
		go e.refreshTools()
	case "notifications/prompts/list_changed":
		go e.refreshPrompts()
	case "notifications/resources/updated":
		uri, _ := n.Params.AdditionalFields["uri"].(string)
		e.logger.Debug("resource updated", "uri", uri)
		e.mu.RLock()
		cb := e.onResourceUpdated
		e.mu.RUnlock()
		if cb != nil && uri != "" {
			cb(e.name, uri)
		}
	case "notifications/resources/list_changed":
		e.mu.RLock()
		cb := e.onResourceGone
		e.mu.RUnlock()
		if cb != nil {
			cb(e.name)
		}
	default:
		e.logger.Debug("unhandled notification", "method", n.Method)
	}
}

func (e *Endpoint) refreshTools() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	var tools []mcp.Tool
	var cursor mcp.Cursor
	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		res, err := e.conn.ListTools(ctx, req)
		if err != nil {
			e.logger.Warn("tool refresh failed", "error", err)
			return
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	e.mu.Lock()
	e.tools = tools
	cb := e.onToolsChanged
	e.mu.Unlock()

	e.logger.Info("tool list refreshed", "tools", len(tools))
	if cb != nil {
		cb()
	}
}

func (e *Endpoint) refreshPrompts() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	var prompts []mcp.Prompt
	var cursor mcp.Cursor
	for {
		req := mcp.ListPromptsRequest{}
		req.Params.Cursor = cursor
		res, err := e.conn.ListPrompts(ctx, req)
		if err != nil {
			e.logger.Warn("prompt refresh failed", "error", err)
			return
		}
		prompts = append(prompts, res.Prompts...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	e.mu.Lock()
	e.prompts = prompts
	e.mu.Unlock()
	e.logger.Info("prompt list refreshed", "prompts", len(prompts))
}

// Close tears down the connection.
func (e *Endpoint) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

func flattenContent(blocks []mcp.Content) string {
	var parts []string
	for _, block := range blocks {
		if tc, ok := mcp.AsTextContent(block); ok && tc.Text != "" {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
