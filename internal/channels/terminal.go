package channels

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

const terminalHelp = `Commands:
  /cancel          stop the reply being written
  /clear           reset the conversation and its history
  /approve         allow the tool waiting for approval
  /approve always  allow it and remember the choice
  /deny            refuse the tool
  /exit            leave
`

// TerminalConfig configures the stdin REPL.
type TerminalConfig struct {
	Registry *sessions.Registry
	Key      models.ConversationKey

	// SenderID tags submitted prompts. Defaults to "terminal".
	SenderID string

	// Input and Output default to stdin and stdout.
	Input  io.Reader
	Output io.Writer

	StartTimeout time.Duration
	Logger       *slog.Logger
}

// Terminal is the interactive stdin surface: one conversation, prompts
// submitted line by line, replies streamed inline.
type Terminal struct {
	registry     *sessions.Registry
	key          models.ConversationKey
	sender       string
	in           io.Reader
	out          io.Writer
	startTimeout time.Duration
	logger       *slog.Logger
	prompts      chan *models.Prompt
}

// NewTerminal builds the REPL adapter.
func NewTerminal(cfg TerminalConfig) (*Terminal, error) {
	if cfg.Registry == nil {
		return nil, errors.New("terminal: registry is required")
	}
	if cfg.Key.AgentID == "" {
		return nil, errors.New("terminal: conversation key needs an agent id")
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "terminal"
	}
	if cfg.Input == nil {
		cfg.Input = os.Stdin
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Terminal{
		registry:     cfg.Registry,
		key:          cfg.Key,
		sender:       cfg.SenderID,
		in:           cfg.Input,
		out:          cfg.Output,
		startTimeout: cfg.StartTimeout,
		logger:       cfg.Logger.With("adapter", "terminal"),
		prompts:      make(chan *models.Prompt),
	}, nil
}

// Prompts is the monitor feed; it closes when the REPL ends.
func (t *Terminal) Prompts() <-chan *models.Prompt {
	return t.prompts
}

// Run reads lines until EOF, /exit, or ctx cancellation. Replies
// stream inline; the next prompt is read once the current reply
// finishes.
func (t *Terminal) Run(ctx context.Context) error {
	defer close(t.prompts)

	interactive := t.interactive()
	if interactive {
		fmt.Fprintf(t.out, "agent %s ready. /help for commands.\n", t.key.AgentID)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		// A blocked stdin read cannot be interrupted; on cancellation
		// this goroutine lingers until the next line and process exit
		// collects it.
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		if interactive {
			fmt.Fprint(t.out, "> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if quit := t.handleLine(ctx, line, lines); quit {
				return nil
			}
		}
	}
}

// handleLine routes one REPL line and reports whether to quit.
func (t *Terminal) handleLine(ctx context.Context, line string, lines <-chan string) bool {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return false
	case "/help":
		fmt.Fprint(t.out, terminalHelp)
		return false
	case "/exit", "/quit":
		return true
	case "/cancel", "/clear":
		t.submit(ctx, strings.ToLower(line))
		return false
	default:
		t.converse(ctx, line, lines)
		return false
	}
}

// submit hands one prompt to the monitor feed.
func (t *Terminal) submit(ctx context.Context, text string) *models.Prompt {
	p := &models.Prompt{
		PromptID:   "terminal-" + uuid.NewString(),
		Key:        t.key,
		Text:       text,
		SenderID:   t.sender,
		Source:     models.SourceTerminal,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case t.prompts <- p:
		return p
	case <-ctx.Done():
		return nil
	}
}

// converse submits one prompt and streams its reply to the output.
func (t *Terminal) converse(ctx context.Context, text string, lines <-chan string) {
	sess, err := t.registry.Get(ctx, t.key)
	if err != nil {
		fmt.Fprintf(t.out, "error: %v\n", err)
		return
	}
	// Baseline before the prompt goes in, so the run-start wait can
	// tell this run apart from an older one.
	base := sess.LastActive()
	if t.submit(ctx, text) == nil {
		return
	}
	if err := sessions.AwaitRunStart(ctx, sess, base, t.startTimeout); err != nil {
		fmt.Fprintf(t.out, "error: %v\n", err)
		return
	}
	sub, err := sess.Subscribe("terminal")
	if err != nil {
		fmt.Fprintf(t.out, "error: %v\n", err)
		return
	}
	defer sess.Unsubscribe(sub.ID)
	t.render(ctx, sess, sub, lines)
}

// render prints one reply stream. Lines typed while it runs are
// limited to /cancel, /clear, and approval answers; anything else
// waits its turn.
func (t *Terminal) render(ctx context.Context, sess *sessions.Session, sub *sessions.Subscriber, lines <-chan string) {
	toolsSeen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
			case "/cancel":
				sess.Cancel()
			case "/clear":
				t.submit(ctx, "/clear")
			case "/approve":
				t.resolvePending(sess, models.ApprovalApproved)
			case "/approve always":
				t.resolvePending(sess, models.ApprovalRemembered)
			case "/deny":
				t.resolvePending(sess, models.ApprovalRejected)
			default:
				fmt.Fprintln(t.out, "(a reply is streaming; /cancel to stop it)")
			}
		case u, ok := <-sub.Updates():
			if !ok {
				fmt.Fprintln(t.out)
				return
			}
			switch u.Kind {
			case models.UpdateTextDelta:
				fmt.Fprint(t.out, u.TextDelta)
			case models.UpdateToolCallDelta:
				if u.ToolCall != nil && u.ToolCall.Name != "" && !toolsSeen[u.ToolCall.ID] {
					toolsSeen[u.ToolCall.ID] = true
					fmt.Fprintf(t.out, "[%s]\n", u.ToolCall.Name)
				}
			case models.UpdateApproval:
				if u.Approval != nil {
					fmt.Fprintf(t.out, "\ntool %s needs approval: /approve, /approve always, or /deny\n", u.Approval.ToolName)
				}
			case models.UpdateError:
				msg := "run failed"
				if u.Err != nil {
					msg = u.Err.Message
				}
				fmt.Fprintf(t.out, "error: %s\n", msg)
				return
			case models.UpdateStreamComplete:
				if u.Cancelled {
					fmt.Fprintln(t.out, "(cancelled)")
				} else {
					fmt.Fprintln(t.out)
				}
				return
			}
		}
	}
}

// resolvePending answers the approval the session is suspended on.
func (t *Terminal) resolvePending(sess *sessions.Session, result models.ApprovalResult) {
	pending := sess.PendingApproval()
	if pending == nil {
		fmt.Fprintln(t.out, "(nothing awaits approval)")
		return
	}
	if err := sess.ResolveApproval(pending.ApprovalID, result); err != nil {
		fmt.Fprintf(t.out, "error: %v\n", err)
	}
}

func (t *Terminal) interactive() bool {
	f, ok := t.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
