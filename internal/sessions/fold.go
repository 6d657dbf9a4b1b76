package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// awaitPoll is the interval for watching a submitted prompt reach its
// session.
const awaitPoll = 25 * time.Millisecond

// AwaitRunStart blocks until a run submitted before the call is live on
// sess. base must be taken from LastActive before the prompt is
// submitted: a terminal status only counts as the awaited run once
// activity moved past it, which keeps a previous run's leftover state
// from being mistaken for the new one.
func AwaitRunStart(ctx context.Context, sess *Session, base time.Time, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(awaitPoll)
	defer poll.Stop()

	for {
		state := sess.GetStreamState()
		if state.Status == models.StatusProcessing {
			return nil
		}
		if state.Status != models.StatusIdle && sess.LastActive().After(base) {
			return nil
		}
		select {
		case <-poll.C:
		case <-deadline.C:
			return fmt.Errorf("run did not start within %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AwaitRunText waits for a run to start on sess and collapses its
// update stream into the final response text. Request/response
// adapters (bus, MCP chat tool, single-shot runs) are the callers.
func AwaitRunText(ctx context.Context, sess *Session, base time.Time, subscriberID string, timeout time.Duration) (string, error) {
	deadlineAt := time.Now().Add(timeout)
	if err := AwaitRunStart(ctx, sess, base, timeout); err != nil {
		return "", err
	}

	sub, err := sess.Subscribe(subscriberID)
	if err != nil {
		return "", fmt.Errorf("subscribe to run: %w", err)
	}
	defer sess.Unsubscribe(sub.ID)

	// One budget covers waiting and folding.
	deadline := time.NewTimer(time.Until(deadlineAt))
	defer deadline.Stop()

	var text strings.Builder
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				return text.String(), nil
			}
			switch u.Kind {
			case models.UpdateTextDelta:
				text.WriteString(u.TextDelta)
			case models.UpdateError:
				if u.Err != nil {
					return "", fmt.Errorf("run failed: %s", u.Err.Message)
				}
				return "", fmt.Errorf("run failed")
			case models.UpdateStreamComplete:
				return text.String(), nil
			}
		case <-deadline.C:
			return "", fmt.Errorf("run did not complete within %s", timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
