package sessions

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

func TestAwaitRunTextFoldsLiveRun(t *testing.T) {
	sess := newTestSession(oneShot(textUpdate("Hello "), textUpdate("world"), completeUpdate()))
	defer func() { _ = sess.Close() }()

	base := sess.LastActive()
	if _, err := sess.StartRun(context.Background(), testPrompt("hi")); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	text, err := AwaitRunText(context.Background(), sess, base, "fold-1", 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitRunText: %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
}

func TestAwaitRunTextReplaysCompletedRun(t *testing.T) {
	// The run can finish before the caller attaches; the replay buffer
	// must still yield the full text.
	sess := newTestSession(oneShot(textUpdate("Hello "), textUpdate("world"), completeUpdate()))
	defer func() { _ = sess.Close() }()

	base := sess.LastActive()
	done, err := sess.StartRun(context.Background(), testPrompt("hi"))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-done

	text, err := AwaitRunText(context.Background(), sess, base, "fold-1", 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitRunText: %v", err)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
}

func TestAwaitRunTextIgnoresPreviousRun(t *testing.T) {
	sess := newTestSession(oneShot(textUpdate("first"), completeUpdate()))
	defer func() { _ = sess.Close() }()

	done, err := sess.StartRun(context.Background(), testPrompt("one"))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-done

	// Baseline taken after the first run completed: its leftover
	// terminal state must not satisfy the wait.
	base := sess.LastActive()
	if _, err := AwaitRunText(context.Background(), sess, base, "fold-1", 80*time.Millisecond); err == nil {
		t.Fatal("fold accepted a stale run")
	}
}

func TestAwaitRunTextTimesOutWithoutRun(t *testing.T) {
	sess := newTestSession(oneShot(completeUpdate()))
	defer func() { _ = sess.Close() }()

	_, err := AwaitRunText(context.Background(), sess, sess.LastActive(), "fold-1", 60*time.Millisecond)
	if err == nil {
		t.Fatal("fold succeeded without a run")
	}
	if !strings.Contains(err.Error(), "did not start") {
		t.Errorf("error = %v", err)
	}
}

func TestAwaitRunTextSurfacesRunError(t *testing.T) {
	sess := newTestSession(oneShot(
		textUpdate("partial"),
		&models.ResponseUpdate{
			Kind:      models.UpdateError,
			Err:       &models.UpdateErr{Message: "upstream exploded"},
			Timestamp: time.Now(),
		},
	))
	defer func() { _ = sess.Close() }()

	base := sess.LastActive()
	if _, err := sess.StartRun(context.Background(), testPrompt("hi")); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	_, err := AwaitRunText(context.Background(), sess, base, "fold-1", 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("error = %v", err)
	}
}

func TestAwaitRunTextHonorsContext(t *testing.T) {
	sess := newTestSession(oneShot(completeUpdate()))
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := AwaitRunText(ctx, sess, sess.LastActive(), "fold-1", 5*time.Second); err == nil {
		t.Fatal("fold survived a cancelled context")
	}
}
