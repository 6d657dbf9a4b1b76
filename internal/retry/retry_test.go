package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	want := errors.New("still broken")
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		attempts++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_PermanentStopsRetry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		attempts++
		return Permanent(errors.New("bad request"))
	})
	if err == nil || !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	transient := errors.New("transient")
	err := Do(ctx, Config{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond}, func() error {
		attempts++
		cancel()
		return transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("err = %v, want last failure", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after cancel)", attempts)
	}
}

func TestDialPolicy(t *testing.T) {
	cfg := Dial()
	if cfg.MaxAttempts != 3 {
		t.Errorf("Dial().MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 2*time.Second {
		t.Errorf("Dial().InitialDelay = %v, want 2s", cfg.InitialDelay)
	}
}
