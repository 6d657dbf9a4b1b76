package channels

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

func TestNewOnceValidation(t *testing.T) {
	reg := newTestRegistry(completingRunner(), nil)
	t.Cleanup(func() { _ = reg.Close() })

	tests := []struct {
		name    string
		cfg     OnceConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  OnceConfig{Registry: reg, Key: terminalKey(), Text: "do it"},
		},
		{
			name:    "missing registry",
			cfg:     OnceConfig{Key: terminalKey(), Text: "do it"},
			wantErr: true,
		},
		{
			name:    "missing text",
			cfg:     OnceConfig{Registry: reg, Key: terminalKey()},
			wantErr: true,
		},
		{
			name:    "missing agent id",
			cfg:     OnceConfig{Registry: reg, Key: models.ConversationKey{ChatID: 1}, Text: "do it"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOnce(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewOnce() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOnceRun(t *testing.T) {
	reg := newTestRegistry(completingRunner("Hello ", "world"), nil)
	t.Cleanup(func() { _ = reg.Close() })

	out := &syncBuffer{}
	once, err := NewOnce(OnceConfig{
		Registry: reg,
		Key:      terminalKey(),
		Text:     "do it",
		Output:   out,
		Timeout:  5 * time.Second,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewOnce() error = %v", err)
	}
	startMonitor(t, reg, once.Prompts())

	if err := once.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Hello world" {
		t.Errorf("output = %q, want %q", got, "Hello world")
	}
	if _, ok := <-once.Prompts(); ok {
		t.Error("prompt feed should be closed after the run")
	}
}

func TestOnceRunFailure(t *testing.T) {
	runner := &scriptedRunner{updates: []*models.ResponseUpdate{
		{Kind: models.UpdateError, Err: &models.UpdateErr{Message: "boom"}, Timestamp: time.Now()},
	}}
	reg := newTestRegistry(runner, nil)
	t.Cleanup(func() { _ = reg.Close() })

	once, err := NewOnce(OnceConfig{
		Registry: reg,
		Key:      terminalKey(),
		Text:     "do it",
		Output:   &syncBuffer{},
		Timeout:  5 * time.Second,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewOnce() error = %v", err)
	}
	startMonitor(t, reg, once.Prompts())

	err = once.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error for a failed run")
	}
	if !strings.Contains(err.Error(), "run failed") {
		t.Errorf("error = %v, want run failure", err)
	}
}
