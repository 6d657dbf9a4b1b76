// Package mcpserver exposes the agent itself as an MCP server: chat,
// memory, and download tools, download resources, and a user-context
// prompt, mounted on the web surface over the streamable HTTP
// transport. This is the surface the browser's UI assistant talks to.
package mcpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Dethon/Agent-sub012/internal/observability"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/internal/state"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// defaultChatTimeout bounds a chat tool call, approval pauses included.
const defaultChatTimeout = 10 * time.Minute

// Memories is the slice of the memory store the tools use.
type Memories interface {
	Save(ctx context.Context, userID string, entry models.MemoryEntry) (string, error)
	Search(ctx context.Context, userID, query string, tags []string, limit int) ([]models.MemoryEntry, error)
}

// Downloads is the download store surface behind the status tool and
// the download resources.
type Downloads interface {
	Get(ctx context.Context, id string) (state.Download, error)
	List(ctx context.Context) ([]state.Download, error)
}

// Config assembles the server.
type Config struct {
	Name    string
	Version string

	Registry  *sessions.Registry
	Memories  Memories
	Downloads Downloads

	// DefaultAgent answers chat calls that name no agent; ValidAgents,
	// when set, bounds which agents a call may address.
	DefaultAgent string
	ValidAgents  []string

	ChatTimeout time.Duration
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Server is the MCP-facing surface of the agent.
type Server struct {
	mcp  *server.MCPServer
	http *server.StreamableHTTPServer

	registry  *sessions.Registry
	memories  Memories
	downloads Downloads
	logger    *slog.Logger
	metrics   *observability.Metrics

	defaultAgent string
	validAgents  map[string]bool
	chatTimeout  time.Duration

	prompts chan *models.Prompt
}

// New builds the server and registers its tools, resources, and
// prompts.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ChatTimeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	var valid map[string]bool
	if len(cfg.ValidAgents) > 0 {
		valid = make(map[string]bool, len(cfg.ValidAgents))
		for _, id := range cfg.ValidAgents {
			valid[id] = true
		}
	}

	s := &Server{
		registry:     cfg.Registry,
		memories:     cfg.Memories,
		downloads:    cfg.Downloads,
		logger:       logger.With("component", "mcpserver"),
		metrics:      cfg.Metrics,
		defaultAgent: cfg.DefaultAgent,
		validAgents:  valid,
		chatTimeout:  timeout,
		prompts:      make(chan *models.Prompt),
	}

	s.mcp = server.NewMCPServer(cfg.Name, cfg.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)
	registerTools(s.mcp, s)
	registerResources(s.mcp, cfg.Downloads)
	registerPrompts(s.mcp, s)

	s.http = server.NewStreamableHTTPServer(s.mcp,
		server.WithEndpointPath("/mcp"),
	)
	return s
}

// Handler returns the streamable HTTP transport for mounting on the
// web server's mux.
func (s *Server) Handler() http.Handler {
	return s.http
}

// Prompts is the channel the conversation monitor consumes; the chat
// tool feeds it.
func (s *Server) Prompts() <-chan *models.Prompt {
	return s.prompts
}

// Notifier adapts this server into the resource monitor's notification
// sink: updates broadcast to every connected MCP client.
func (s *Server) Notifier() *Notifier {
	return NewNotifier(s.mcp)
}

// Shutdown stops the HTTP transport and its sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
