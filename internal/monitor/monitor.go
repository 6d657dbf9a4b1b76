// Package monitor routes prompts from every adapter to the right
// conversation and enforces one agent run at a time per conversation.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Dethon/Agent-sub012/internal/observability"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// defaultQueueCap bounds the per-conversation prompt backlog.
const defaultQueueCap = 16

// Config assembles the monitor.
type Config struct {
	Registry *sessions.Registry
	QueueCap int
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Monitor is the top-level prompt pipeline. Each conversation key gets
// its own worker and bounded queue: prompts for one key run strictly in
// arrival order, one at a time, while different keys run in parallel.
type Monitor struct {
	registry *sessions.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	queueCap int

	mu    sync.Mutex
	convs map[models.ConversationKey]*conversation
	wg    sync.WaitGroup
}

// conversation is the routing record for one key.
type conversation struct {
	key   models.ConversationKey
	queue chan workItem
}

// workItem is one unit for a conversation worker: a prompt to run, or
// a transcript-clear directive ordered against the prompts around it.
type workItem struct {
	prompt *models.Prompt
	clear  bool
}

// New builds a monitor over a session registry.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueCap := cfg.QueueCap
	if queueCap <= 0 {
		queueCap = defaultQueueCap
	}
	return &Monitor{
		registry: cfg.Registry,
		logger:   logger.With("component", "monitor"),
		metrics:  cfg.Metrics,
		queueCap: queueCap,
		convs:    make(map[models.ConversationKey]*conversation),
	}
}

// Merge fans several adapter prompt channels into one. The returned
// channel closes once every input has closed.
func Merge(chans ...<-chan *models.Prompt) <-chan *models.Prompt {
	out := make(chan *models.Prompt)
	var wg sync.WaitGroup
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		wg.Add(1)
		go func(ch <-chan *models.Prompt) {
			defer wg.Done()
			for p := range ch {
				out <- p
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Run consumes prompts until ctx is cancelled or the channel closes,
// then waits for every conversation worker to finish.
func (m *Monitor) Run(ctx context.Context, prompts <-chan *models.Prompt) error {
	// Workers hang off a derived context so a closed prompt channel
	// shuts them down too.
	ctx, cancel := context.WithCancel(ctx)
	m.logger.Info("conversation monitor started")
	defer func() {
		cancel()
		m.wg.Wait()
		m.metrics.ConversationsStopped()
		m.logger.Info("conversation monitor stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-prompts:
			if !ok {
				return nil
			}
			if p == nil || p.Text == "" {
				m.metrics.PromptDropped("invalid")
				continue
			}
			m.dispatch(ctx, p)
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, p *models.Prompt) {
	if cmd, ok := parseCommand(p.Text); ok {
		m.handleCommand(ctx, p.Key, cmd)
		return
	}

	c := m.conversation(ctx, p.Key)
	select {
	case c.queue <- workItem{prompt: p}:
		m.metrics.PromptReceived(string(p.Source))
	default:
		m.metrics.PromptDropped("queue_full")
		m.logger.Warn("prompt queue full, dropping prompt",
			"conversation", p.Key.String(), "prompt_id", p.PromptID)
	}
}

// conversation returns the routing record for key, starting its worker
// on first use.
func (m *Monitor) conversation(ctx context.Context, key models.ConversationKey) *conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	if !ok {
		c = &conversation{key: key, queue: make(chan workItem, m.queueCap)}
		m.convs[key] = c
		m.wg.Add(1)
		go m.worker(ctx, c)
		m.metrics.ConversationStarted()
		m.logger.Debug("conversation worker started", "conversation", key.String())
	}
	return c
}

func (m *Monitor) worker(ctx context.Context, c *conversation) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-c.queue:
			if item.clear {
				m.clearConversation(ctx, c.key)
				continue
			}
			m.process(ctx, item.prompt)
		}
	}
}

// process runs one prompt to completion. The worker blocks here, which
// is what serializes a conversation.
func (m *Monitor) process(ctx context.Context, p *models.Prompt) {
	logger := m.logger.With(
		"conversation", p.Key.String(),
		"prompt_id", p.PromptID,
		"source", string(p.Source),
	)

	sess, err := m.resolve(ctx, p.Key)
	if err != nil {
		m.metrics.RunFailed("resolve")
		logger.Error("session resolution failed", "error", err)
		return
	}

	start := time.Now()
	done, err := sess.StartRun(ctx, p)
	if err != nil {
		m.metrics.RunFailed("start")
		logger.Error("run start failed", "error", err)
		return
	}
	logger.Debug("run started")

	select {
	case <-done:
	case <-ctx.Done():
		sess.Cancel()
		<-done
	}

	if sess.LastRunFailed() {
		m.metrics.RunFailed("run")
		logger.Warn("run ended in error", "duration", time.Since(start))
		return
	}
	logger.Debug("run finished",
		"duration", time.Since(start),
		"status", string(sess.GetStreamState().Status))
	m.metrics.RunCompleted(p.Key.AgentID, time.Since(start).Seconds())
}

// resolve looks the session up, rebuilding it first when its transport
// died since the last run.
func (m *Monitor) resolve(ctx context.Context, key models.ConversationKey) (*sessions.Session, error) {
	if sess := m.registry.Peek(key); sess != nil && !sess.Healthy() {
		if sess.GetStreamState().Status != models.StatusProcessing {
			m.logger.Warn("session transport unhealthy, rebuilding", "conversation", key.String())
			m.registry.Remove(key)
		}
	}
	return m.registry.Get(ctx, key)
}

type command string

const (
	cmdCancel command = "/cancel"
	cmdClear  command = "/clear"
)

func parseCommand(text string) (command, bool) {
	switch command(strings.ToLower(strings.TrimSpace(text))) {
	case cmdCancel:
		return cmdCancel, true
	case cmdClear:
		return cmdClear, true
	}
	return "", false
}

// handleCommand acts immediately instead of queueing: cancellation of
// an in-flight run must not wait behind it.
func (m *Monitor) handleCommand(ctx context.Context, key models.ConversationKey, cmd command) {
	logger := m.logger.With("conversation", key.String(), "command", string(cmd))
	switch cmd {
	case cmdCancel:
		sess := m.registry.Peek(key)
		if sess == nil {
			logger.Debug("nothing to cancel")
			return
		}
		sess.Cancel()
		logger.Info("run cancelled")

	case cmdClear:
		c := m.conversation(ctx, key)
		if n := dropQueued(c); n > 0 {
			logger.Info("dropped queued prompts", "count", n)
		}
		if sess := m.registry.Peek(key); sess != nil {
			sess.Cancel()
		}
		// The full clear waits for the run to settle and wipes the
		// transcript, so it goes through the worker to stay ordered
		// against prompts arriving after it.
		select {
		case c.queue <- workItem{clear: true}:
		default:
			logger.Warn("clear directive dropped, queue full")
		}
	}
}

func (m *Monitor) clearConversation(ctx context.Context, key models.ConversationKey) {
	logger := m.logger.With("conversation", key.String())
	sess, err := m.registry.Get(ctx, key)
	if err != nil {
		logger.Error("clear failed, session unavailable", "error", err)
		return
	}
	if err := sess.Clear(ctx); err != nil {
		logger.Error("clear failed", "error", err)
		return
	}
	logger.Info("conversation cleared")
}

// dropQueued empties a conversation's backlog without blocking.
func dropQueued(c *conversation) int {
	n := 0
	for {
		select {
		case item := <-c.queue:
			if !item.clear {
				n++
			}
		default:
			return n
		}
	}
}
