// Package bus adapts a NATS request/response surface to the
// conversation monitor: inbound prompt envelopes are validated,
// dead-lettered when malformed, and fed into the prompt pipeline;
// each accepted request gets its run's stream folded into a single
// response envelope.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Dethon/Agent-sub012/internal/config"
	"github.com/Dethon/Agent-sub012/internal/observability"
	"github.com/Dethon/Agent-sub012/internal/retry"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// defaultResponseTimeout bounds how long a responder waits for its
// run to complete, approval pauses included.
const defaultResponseTimeout = 10 * time.Minute

// publisher is the slice of the NATS connection the bus writes
// through. *nats.Conn satisfies it.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Config assembles a Bus.
type Config struct {
	Bus             config.BusConfig
	Registry        *sessions.Registry
	ResponseTimeout time.Duration
	Metrics         *observability.Metrics
	Logger          *slog.Logger
}

// Bus is the NATS prompt adapter.
type Bus struct {
	conn     *nats.Conn
	pub      publisher
	cfg      config.BusConfig
	registry *sessions.Registry
	logger   *slog.Logger
	metrics  *observability.Metrics

	agents      map[string]bool
	respTimeout time.Duration
	pubRetry    retry.Config

	prompts chan *models.Prompt

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Connect dials NATS and builds the bus. The connection reconnects
// indefinitely; subscription state survives reconnects.
func Connect(cfg Config) (*Bus, error) {
	b := newBus(cfg)

	opts := []nats.Option{
		nats.Name("agent-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			b.logger.Error("bus async error", "subject", subject, "error", err)
		}),
	}

	conn, err := nats.Connect(cfg.Bus.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", cfg.Bus.URL, err)
	}
	b.conn = conn
	b.pub = conn
	b.logger.Info("connected to bus", "url", cfg.Bus.URL)
	return b, nil
}

func newBus(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ResponseTimeout
	if timeout <= 0 {
		timeout = defaultResponseTimeout
	}
	agents := make(map[string]bool, len(cfg.Bus.ValidAgentIDs))
	for _, id := range cfg.Bus.ValidAgentIDs {
		agents[id] = true
	}
	return &Bus{
		cfg:         cfg.Bus,
		registry:    cfg.Registry,
		logger:      logger.With("component", "bus"),
		metrics:     cfg.Metrics,
		agents:      agents,
		respTimeout: timeout,
		pubRetry:    retry.Publish(),
		prompts:     make(chan *models.Prompt),
	}
}

// Prompts is the channel the conversation monitor consumes. It closes
// when Run returns.
func (b *Bus) Prompts() <-chan *models.Prompt {
	return b.prompts
}

// Run consumes the request subject until ctx is cancelled. Members of
// the same queue group split the load.
func (b *Bus) Run(ctx context.Context) error {
	sub, err := b.conn.QueueSubscribe(b.cfg.RequestSubject, b.cfg.QueueGroup, func(msg *nats.Msg) {
		b.handleInbound(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.cfg.RequestSubject, err)
	}
	b.logger.Info("bus consumer started",
		"subject", b.cfg.RequestSubject,
		"queue_group", b.cfg.QueueGroup)

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		b.logger.Warn("unsubscribe failed", "error", err)
	}
	// A handler can still be mid-flight after Unsubscribe returns;
	// refuse new responders before waiting out the running ones.
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()
	b.wg.Wait()
	close(b.prompts)
	b.logger.Info("bus consumer stopped")
	return ctx.Err()
}

// Close drains the connection after Run has finished.
func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// handleInbound validates one message and hands it to a responder. A
// rejected message is dead-lettered and never blocks later ones.
func (b *Bus) handleInbound(ctx context.Context, subject string, data []byte) {
	env, reason, detail := parseEnvelope(data)
	if reason == "" && !b.agents[env.AgentID] {
		reason, detail = ReasonInvalidAgentID, env.AgentID
	}
	if reason != "" {
		b.metrics.BusMessage("inbound", "rejected")
		b.deadLetter(ctx, reason, detail, subject, data)
		return
	}
	b.metrics.BusMessage("inbound", "accepted")

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.respond(ctx, env)
	}()
}

// respond owns one request's lifecycle: submit the prompt, watch the
// run start, fold its stream, publish the reply.
func (b *Bus) respond(ctx context.Context, env PromptEnvelope) {
	logger := b.logger.With("correlation_id", env.CorrelationID, "agent_id", env.AgentID)
	prompt := env.prompt(time.Now().UTC())

	sess, err := b.registry.Get(ctx, prompt.Key)
	if err != nil {
		logger.Error("session resolution failed", "error", err)
		b.publishResponse(ctx, env, fmt.Sprintf("agent unavailable: %v", err))
		return
	}
	// Taken before the prompt is submitted; any run activity after
	// this instant belongs to us.
	base := sess.LastActive()

	select {
	case b.prompts <- prompt:
	case <-ctx.Done():
		return
	}

	text, err := sessions.AwaitRunText(ctx, sess, base, "bus:"+prompt.PromptID, b.respTimeout)
	if err != nil {
		logger.Error("response fold failed", "error", err)
		b.publishResponse(ctx, env, fmt.Sprintf("request failed: %v", err))
		return
	}
	b.publishResponse(ctx, env, text)
}

// publishResponse publishes the reply envelope with bounded retry.
func (b *Bus) publishResponse(ctx context.Context, env PromptEnvelope, text string) {
	out := ResponseEnvelope{
		CorrelationID: env.CorrelationID,
		AgentID:       env.AgentID,
		Response:      text,
		CompletedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		b.metrics.BusMessage("outbound", "error")
		b.logger.Error("response marshal failed", "correlation_id", env.CorrelationID, "error", err)
		return
	}
	err = retry.Do(ctx, b.pubRetry, func() error {
		return b.pub.Publish(b.cfg.ResponseSubject, data)
	})
	if err != nil {
		b.metrics.BusMessage("outbound", "error")
		b.logger.Error("response publish failed", "correlation_id", env.CorrelationID, "error", err)
		return
	}
	b.metrics.BusMessage("outbound", "published")
}

// deadLetter routes a rejected message to the dead-letter subject.
func (b *Bus) deadLetter(ctx context.Context, reason, detail, subject string, payload []byte) {
	b.metrics.BusDeadLetter(reason)
	b.logger.Warn("message dead-lettered", "reason", reason, "detail", detail)

	entry := DeadLetter{
		Reason:     reason,
		Detail:     detail,
		Subject:    subject,
		Payload:    string(payload),
		ReceivedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		b.logger.Error("dead-letter marshal failed", "error", err)
		return
	}
	err = retry.Do(ctx, b.pubRetry, func() error {
		return b.pub.Publish(b.cfg.DeadLetterSubject, data)
	})
	if err != nil {
		b.logger.Error("dead-letter publish failed", "reason", reason, "error", err)
	}
}
