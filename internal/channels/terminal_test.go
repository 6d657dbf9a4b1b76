package channels

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

func terminalKey() models.ConversationKey {
	return models.ConversationKey{ChatID: 1, AgentID: "downloader"}
}

func TestNewTerminalValidation(t *testing.T) {
	reg := newTestRegistry(completingRunner(), nil)
	t.Cleanup(func() { _ = reg.Close() })

	tests := []struct {
		name    string
		cfg     TerminalConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  TerminalConfig{Registry: reg, Key: terminalKey()},
		},
		{
			name:    "missing registry",
			cfg:     TerminalConfig{Key: terminalKey()},
			wantErr: true,
		},
		{
			name:    "missing agent id",
			cfg:     TerminalConfig{Registry: reg, Key: models.ConversationKey{ChatID: 1}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTerminal(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTerminal() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTerminalConversation(t *testing.T) {
	reg := newTestRegistry(completingRunner("Hello ", "world"), nil)
	t.Cleanup(func() { _ = reg.Close() })

	out := &syncBuffer{}
	term, err := NewTerminal(TerminalConfig{
		Registry: reg,
		Key:      terminalKey(),
		Input:    strings.NewReader("hello\n"),
		Output:   out,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}
	startMonitor(t, reg, term.Prompts())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if !strings.Contains(out.String(), "Hello world") {
		t.Errorf("output missing reply: %q", out.String())
	}
}

func TestTerminalHelp(t *testing.T) {
	reg := newTestRegistry(completingRunner(), nil)
	t.Cleanup(func() { _ = reg.Close() })

	out := &syncBuffer{}
	term, err := NewTerminal(TerminalConfig{
		Registry: reg,
		Key:      terminalKey(),
		Input:    strings.NewReader("/help\n"),
		Output:   out,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}

	if err := term.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "/cancel") {
		t.Errorf("help output missing commands: %q", out.String())
	}
}

func TestTerminalExit(t *testing.T) {
	reg := newTestRegistry(completingRunner(), nil)
	t.Cleanup(func() { _ = reg.Close() })

	term, err := NewTerminal(TerminalConfig{
		Registry: reg,
		Key:      terminalKey(),
		Input:    strings.NewReader("/exit\nnever read\n"),
		Output:   &syncBuffer{},
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not exit")
	}
	if _, ok := <-term.Prompts(); ok {
		t.Error("prompt feed should be closed after exit")
	}
}

func TestTerminalForwardsCommands(t *testing.T) {
	reg := newTestRegistry(completingRunner(), nil)
	t.Cleanup(func() { _ = reg.Close() })

	term, err := NewTerminal(TerminalConfig{
		Registry: reg,
		Key:      terminalKey(),
		Input:    strings.NewReader("/cancel\n/clear\n"),
		Output:   &syncBuffer{},
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = term.Run(ctx) }()

	for _, want := range []string{"/cancel", "/clear"} {
		select {
		case p := <-term.Prompts():
			if p.Text != want {
				t.Errorf("prompt text = %q, want %q", p.Text, want)
			}
			if p.Source != models.SourceTerminal {
				t.Errorf("prompt source = %q", p.Source)
			}
			if p.Key != terminalKey() {
				t.Errorf("prompt key = %v", p.Key)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no prompt for %s", want)
		}
	}
	select {
	case _, ok := <-term.Prompts():
		if ok {
			t.Error("expected closed prompt feed after EOF")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("prompt feed not closed")
	}
}

func TestTerminalApproval(t *testing.T) {
	resolved := make(chan struct{})
	runner := &approvalRunner{
		request:  models.ApprovalRequest{ApprovalID: "appr-1", Key: terminalKey(), ToolName: "shell"},
		resolved: resolved,
	}
	resolver := &fakeResolver{signal: resolved}
	reg := newTestRegistry(runner, resolver)
	t.Cleanup(func() { _ = reg.Close() })

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	term, err := NewTerminal(TerminalConfig{
		Registry: reg,
		Key:      terminalKey(),
		Input:    pr,
		Output:   out,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}
	startMonitor(t, reg, term.Prompts())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	if _, err := io.WriteString(pw, "do it\n"); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "needs approval")
	}, "approval request never rendered")

	if _, err := io.WriteString(pw, "/approve\n"); err != nil {
		t.Fatalf("write approval: %v", err)
	}
	waitFor(t, func() bool {
		r := resolver.recorded()
		return len(r) == 1 && r[0] == models.ApprovalApproved
	}, "approval never resolved")
	waitFor(t, func() bool {
		return strings.Contains(out.String(), "done")
	}, "reply never finished")

	_ = pw.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestTerminalRunError(t *testing.T) {
	runner := &scriptedRunner{updates: []*models.ResponseUpdate{
		{Kind: models.UpdateError, Err: &models.UpdateErr{Message: "boom"}, Timestamp: time.Now()},
	}}
	reg := newTestRegistry(runner, nil)
	t.Cleanup(func() { _ = reg.Close() })

	out := &syncBuffer{}
	term, err := NewTerminal(TerminalConfig{
		Registry: reg,
		Key:      terminalKey(),
		Input:    strings.NewReader("hello\n"),
		Output:   out,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewTerminal() error = %v", err)
	}
	startMonitor(t, reg, term.Prompts())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- term.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if !strings.Contains(out.String(), "error: boom") {
		t.Errorf("output missing error: %q", out.String())
	}
}
