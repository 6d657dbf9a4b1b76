package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// OnceConfig configures a single-shot run.
type OnceConfig struct {
	Registry *sessions.Registry
	Key      models.ConversationKey

	// Text is the one prompt to run.
	Text string

	// Output receives the folded reply. Defaults to stdout.
	Output io.Writer

	// Timeout bounds the whole run, including any approval the run
	// suspends on. Defaults to ten minutes.
	Timeout time.Duration

	Logger *slog.Logger
}

// Once submits one prompt, waits for the run to finish, and prints
// the folded text. There is no surface to answer approvals on:
// whitelisted tools auto-approve and anything else times out into a
// rejection.
type Once struct {
	registry *sessions.Registry
	key      models.ConversationKey
	text     string
	out      io.Writer
	timeout  time.Duration
	logger   *slog.Logger
	prompts  chan *models.Prompt
}

// NewOnce builds the single-shot adapter.
func NewOnce(cfg OnceConfig) (*Once, error) {
	if cfg.Registry == nil {
		return nil, errors.New("once: registry is required")
	}
	if cfg.Text == "" {
		return nil, errors.New("once: prompt text is required")
	}
	if cfg.Key.AgentID == "" {
		return nil, errors.New("once: conversation key needs an agent id")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Once{
		registry: cfg.Registry,
		key:      cfg.Key,
		text:     cfg.Text,
		out:      cfg.Output,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With("adapter", "once"),
		prompts:  make(chan *models.Prompt),
	}, nil
}

// Prompts is the monitor feed; it closes when the run ends.
func (o *Once) Prompts() <-chan *models.Prompt {
	return o.prompts
}

// Run submits the prompt, folds the reply, and writes it out.
func (o *Once) Run(ctx context.Context) error {
	defer close(o.prompts)

	sess, err := o.registry.Get(ctx, o.key)
	if err != nil {
		return fmt.Errorf("once: resolve session: %w", err)
	}
	base := sess.LastActive()
	p := &models.Prompt{
		PromptID:   "once-" + uuid.NewString(),
		Key:        o.key,
		Text:       o.text,
		SenderID:   "once",
		Source:     models.SourceOnce,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case o.prompts <- p:
	case <-ctx.Done():
		return ctx.Err()
	}

	text, err := sessions.AwaitRunText(ctx, sess, base, "once", o.timeout)
	if err != nil {
		return fmt.Errorf("once: %w", err)
	}
	fmt.Fprintln(o.out, text)
	return nil
}
