package channels

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/internal/monitor"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// scriptedRunner replays a fixed update sequence for every run.
type scriptedRunner struct {
	updates []*models.ResponseUpdate
}

func (r *scriptedRunner) RunStreaming(_ context.Context, _ *agent.RunInput) (<-chan *models.ResponseUpdate, error) {
	out := make(chan *models.ResponseUpdate, len(r.updates))
	for _, u := range r.updates {
		copied := *u
		out <- &copied
	}
	close(out)
	return out, nil
}

func (r *scriptedRunner) Reset(_ context.Context, _ models.ConversationKey) error { return nil }

func completingRunner(text ...string) *scriptedRunner {
	var updates []*models.ResponseUpdate
	for _, tx := range text {
		updates = append(updates, &models.ResponseUpdate{Kind: models.UpdateTextDelta, TextDelta: tx, Timestamp: time.Now()})
	}
	updates = append(updates, &models.ResponseUpdate{Kind: models.UpdateStreamComplete, Timestamp: time.Now()})
	return &scriptedRunner{updates: updates}
}

// approvalRunner emits one approval request, waits for its resolution,
// then finishes the run.
type approvalRunner struct {
	request  models.ApprovalRequest
	resolved chan struct{}
}

func (r *approvalRunner) RunStreaming(ctx context.Context, _ *agent.RunInput) (<-chan *models.ResponseUpdate, error) {
	out := make(chan *models.ResponseUpdate, 4)
	go func() {
		defer close(out)
		req := r.request
		out <- &models.ResponseUpdate{Kind: models.UpdateApproval, Approval: &req, Timestamp: time.Now()}
		select {
		case <-ctx.Done():
			out <- &models.ResponseUpdate{Kind: models.UpdateStreamComplete, Cancelled: true, Timestamp: time.Now()}
			return
		case <-r.resolved:
		}
		out <- &models.ResponseUpdate{Kind: models.UpdateTextDelta, TextDelta: "done", Timestamp: time.Now()}
		out <- &models.ResponseUpdate{Kind: models.UpdateStreamComplete, Timestamp: time.Now()}
	}()
	return out, nil
}

func (r *approvalRunner) Reset(_ context.Context, _ models.ConversationKey) error { return nil }

// fakeResolver records approval decisions and unblocks the runner.
type fakeResolver struct {
	mu      sync.Mutex
	ids     []string
	results []models.ApprovalResult
	signal  chan struct{}
	once    sync.Once
}

func (f *fakeResolver) Resolve(_ models.ConversationKey, approvalID string, result models.ApprovalResult) error {
	f.mu.Lock()
	f.ids = append(f.ids, approvalID)
	f.results = append(f.results, result)
	f.mu.Unlock()
	if f.signal != nil {
		f.once.Do(func() { close(f.signal) })
	}
	return nil
}

func (f *fakeResolver) Pending(_ models.ConversationKey) *models.ApprovalRequest { return nil }

func (f *fakeResolver) recorded() []models.ApprovalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ApprovalResult(nil), f.results...)
}

func newTestRegistry(runner agent.Runner, resolver sessions.ApprovalResolver) *sessions.Registry {
	factory := func(_ context.Context, key models.ConversationKey) (*sessions.Session, error) {
		return sessions.New(sessions.Config{Key: key, Runner: runner, Resolver: resolver}), nil
	}
	return sessions.NewRegistry(factory, nil)
}

// startMonitor wires the adapter feeds into a live monitor for the
// duration of the test.
func startMonitor(t *testing.T, reg *sessions.Registry, feeds ...<-chan *models.Prompt) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mon := monitor.New(monitor.Config{Registry: reg})
	go func() { _ = mon.Run(ctx, monitor.Merge(feeds...)) }()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a goroutine-safe output sink for adapter tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
