// Package web serves the browser surface: the websocket control plane
// the chat client drives, health and metrics endpoints, and the mount
// point for the agent's own MCP server.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/internal/config"
	"github.com/Dethon/Agent-sub012/internal/observability"
	"github.com/Dethon/Agent-sub012/internal/resourcemon"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/internal/state"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// defaultStartTimeout bounds the wait between submitting a prompt and
// its run going live on the session.
const defaultStartTimeout = 30 * time.Second

// Topics is the topic store surface the control plane uses.
type Topics interface {
	List(ctx context.Context) ([]state.Topic, error)
	Get(ctx context.Context, id string) (state.Topic, error)
	Create(ctx context.Context, t state.Topic) error
	Rename(ctx context.Context, id, title string) error
	Touch(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// PushSubs stores browser push subscriptions.
type PushSubs interface {
	Subscribe(ctx context.Context, userID string, sub state.PushSubscription) error
	Unsubscribe(ctx context.Context, userID, endpoint string) error
}

// ResourceTracker is the slice of the resource monitor connections
// feed: one subscription set per websocket connection.
type ResourceTracker interface {
	Subscribe(sessionID, uri string, n resourcemon.Notifier)
	Unsubscribe(sessionID, uri string)
	DropSession(sessionID string)
}

var _ ResourceTracker = (*resourcemon.Tracker)(nil)

// Config assembles the web server.
type Config struct {
	Server config.ServerConfig

	Registry *sessions.Registry
	Topics   Topics
	Push     PushSubs
	History  agent.HistoryStore
	Tracker  ResourceTracker

	// MCP, when set, is mounted at /mcp.
	MCP http.Handler

	DefaultAgent string
	Agents       []string

	StartTimeout time.Duration
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// Server is the browser-facing HTTP server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mux     *http.ServeMux
	httpSrv *http.Server

	registry *sessions.Registry
	topics   Topics
	push     PushSubs
	history  agent.HistoryStore
	tracker  ResourceTracker

	defaultAgent string
	agents       []string
	validAgents  map[string]bool
	startTimeout time.Duration
	startTime    time.Time

	prompts chan *models.Prompt
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}
	valid := make(map[string]bool, len(cfg.Agents))
	for _, id := range cfg.Agents {
		valid[id] = true
	}
	if cfg.DefaultAgent != "" {
		valid[cfg.DefaultAgent] = true
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger.With("component", "web"),
		metrics:      cfg.Metrics,
		registry:     cfg.Registry,
		topics:       cfg.Topics,
		push:         cfg.Push,
		history:      cfg.History,
		tracker:      cfg.Tracker,
		defaultAgent: cfg.DefaultAgent,
		agents:       cfg.Agents,
		validAgents:  valid,
		startTimeout: timeout,
		startTime:    time.Now(),
		prompts:      make(chan *models.Prompt),
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", s.newControlPlane())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", s.instrument("/healthz", http.HandlerFunc(s.handleHealthz)))
	if cfg.MCP != nil {
		mux.Handle("/mcp", s.instrument("/mcp", cfg.MCP))
	}
	s.mux = mux
	return s
}

// Handler exposes the route table; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Prompts is the channel the conversation monitor consumes; chat.send
// feeds it.
func (s *Server) Prompts() <-chan *models.Prompt {
	return s.prompts
}

// Start listens and serves until ctx is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen on %s: %w", addr, err)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.logger.Info("web server listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_ms":%d}`, time.Since(s.startTime).Milliseconds())
}

// instrument records request metrics for plain HTTP routes. The ws
// route stays unwrapped: upgraded connections are counted by the
// control plane instead.
func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.metrics.RecordHTTPRequest(r.Method, path, fmt.Sprintf("%d", wrapped.status), time.Since(start).Seconds())
	})
}

// statusWriter captures the response status for metrics.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets streaming handlers behind the metrics wrapper (the MCP
// mount) push chunks through.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
