package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

func testKey() models.ConversationKey {
	return models.ConversationKey{ChatID: 42, ThreadID: 7, AgentID: "downloader"}
}

func testPrompt(text string) *models.Prompt {
	return &models.Prompt{
		PromptID:   "p-1",
		Key:        testKey(),
		Text:       text,
		SenderID:   "user-1",
		Source:     models.SourceTerminal,
		ReceivedAt: time.Now(),
	}
}

func textUpdate(s string) *models.ResponseUpdate {
	return &models.ResponseUpdate{Kind: models.UpdateTextDelta, TextDelta: s, Timestamp: time.Now()}
}

func completeUpdate() *models.ResponseUpdate {
	return &models.ResponseUpdate{Kind: models.UpdateStreamComplete, Timestamp: time.Now()}
}

func cancelledUpdate() *models.ResponseUpdate {
	return &models.ResponseUpdate{Kind: models.UpdateStreamComplete, Cancelled: true, Timestamp: time.Now()}
}

func approvalUpdate(id string) *models.ResponseUpdate {
	return &models.ResponseUpdate{
		Kind: models.UpdateApproval,
		Approval: &models.ApprovalRequest{
			ApprovalID: id,
			Key:        testKey(),
			ToolName:   "search:query",
			CreatedAt:  time.Now(),
		},
		Timestamp: time.Now(),
	}
}

// scriptRunner streams scripted update batches. When step is set, the
// runner waits for a token before each batch after the first; context
// cancellation during the run yields a cancelled terminal.
type scriptRunner struct {
	script func() [][]*models.ResponseUpdate
	step   chan struct{}

	mu     sync.Mutex
	runs   int
	resets []models.ConversationKey
}

func (r *scriptRunner) RunStreaming(ctx context.Context, _ *agent.RunInput) (<-chan *models.ResponseUpdate, error) {
	r.mu.Lock()
	r.runs++
	batches := r.script()
	r.mu.Unlock()

	out := make(chan *models.ResponseUpdate)
	go func() {
		defer close(out)
		for i, batch := range batches {
			if i > 0 && r.step != nil {
				select {
				case <-r.step:
				case <-ctx.Done():
					out <- cancelledUpdate()
					return
				}
			}
			for _, u := range batch {
				select {
				case out <- u:
				case <-ctx.Done():
					out <- cancelledUpdate()
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *scriptRunner) Reset(_ context.Context, key models.ConversationKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, key)
	return nil
}

func (r *scriptRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// oneShot builds a runner that plays a single batch once per run.
func oneShot(updates ...*models.ResponseUpdate) *scriptRunner {
	return &scriptRunner{script: func() [][]*models.ResponseUpdate {
		return [][]*models.ResponseUpdate{updates}
	}}
}

type fakeResolver struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeResolver) Resolve(_ models.ConversationKey, approvalID string, _ models.ApprovalResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, approvalID)
	return f.err
}

func (f *fakeResolver) Pending(models.ConversationKey) *models.ApprovalRequest { return nil }

func (f *fakeResolver) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestSession(runner agent.Runner, opts ...func(*Config)) *Session {
	cfg := Config{Key: testKey(), Runner: runner}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

func drain(t *testing.T, sub *Subscriber) []*models.ResponseUpdate {
	t.Helper()
	var got []*models.ResponseUpdate
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-sub.Updates():
			if !ok {
				return got
			}
			got = append(got, u)
		case <-timeout:
			t.Fatalf("timed out draining subscriber after %d updates", len(got))
		}
	}
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

func TestSessionStreamsInOrder(t *testing.T) {
	s := newTestSession(oneShot(textUpdate("a"), textUpdate("b"), textUpdate("c"), completeUpdate()))
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	sub, err := s.Subscribe("term-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	got := drain(t, sub)
	<-done

	if len(got) != 4 {
		t.Fatalf("got %d updates, want 4", len(got))
	}
	for i, u := range got {
		if u.Seq != int64(i+1) {
			t.Errorf("update %d has seq %d, want %d", i, u.Seq, i+1)
		}
	}
	if !got[3].Terminal() {
		t.Errorf("last update kind = %v, want terminal", got[3].Kind)
	}
	st := s.GetStreamState()
	if st.Status != models.StatusComplete {
		t.Errorf("status = %v, want complete", st.Status)
	}
	if st.BufferSize != 4 {
		t.Errorf("buffer size = %d, want 4", st.BufferSize)
	}
}

func TestSessionMidStreamReconnect(t *testing.T) {
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{textUpdate("a"), textUpdate("b")},
				{textUpdate("c"), completeUpdate()},
			}
		},
	}
	s := newTestSession(r)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitFor(t, func() bool { return s.GetStreamState().BufferSize >= 2 },
		"first batch never reached the buffer")

	// A subscriber joining mid-run replays everything so far, then
	// follows the live stream.
	sub, err := s.Subscribe("web-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	r.step <- struct{}{}

	got := drain(t, sub)
	<-done

	want := []string{"a", "b", "c", ""}
	if len(got) != len(want) {
		t.Fatalf("got %d updates, want %d", len(got), len(want))
	}
	for i, u := range got {
		if u.TextDelta != want[i] {
			t.Errorf("update %d text = %q, want %q", i, u.TextDelta, want[i])
		}
		if u.Seq != int64(i+1) {
			t.Errorf("update %d seq = %d, want %d", i, u.Seq, i+1)
		}
	}
	if !got[3].Terminal() {
		t.Errorf("last update kind = %v, want terminal", got[3].Kind)
	}
}

func TestSessionLateJoinGetsReplayAndClose(t *testing.T) {
	s := newTestSession(oneShot(textUpdate("answer"), completeUpdate()))
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-done

	sub, err := s.Subscribe("late-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := drain(t, sub)
	if len(got) != 2 {
		t.Fatalf("got %d updates, want 2", len(got))
	}
	if got[0].TextDelta != "answer" || !got[1].Terminal() {
		t.Errorf("replay = [%v %v], want text then terminal", got[0].Kind, got[1].Kind)
	}
}

func TestSessionNewRunResetsBuffer(t *testing.T) {
	s := newTestSession(oneShot(textUpdate("x"), completeUpdate()))
	defer s.Close()

	for run := 1; run <= 2; run++ {
		done, err := s.StartRun(context.Background(), testPrompt("again"))
		if err != nil {
			t.Fatalf("run %d StartRun failed: %v", run, err)
		}
		<-done
		st := s.GetStreamState()
		if st.BufferSize != 2 {
			t.Errorf("run %d buffer size = %d, want 2", run, st.BufferSize)
		}
		sub, err := s.Subscribe("t")
		if err != nil {
			t.Fatalf("run %d Subscribe failed: %v", run, err)
		}
		got := drain(t, sub)
		if len(got) != 2 || got[0].Seq != 1 {
			t.Errorf("run %d replay = %d updates starting at seq %d, want 2 starting at 1",
				run, len(got), got[0].Seq)
		}
	}
}

func TestSessionRejectsConcurrentRun(t *testing.T) {
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{textUpdate("a")},
				{completeUpdate()},
			}
		},
	}
	s := newTestSession(r)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("first"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitFor(t, func() bool { return s.GetStreamState().BufferSize >= 1 },
		"run never started streaming")

	if _, err := s.StartRun(context.Background(), testPrompt("second")); !errors.Is(err, ErrRunActive) {
		t.Errorf("second StartRun error = %v, want ErrRunActive", err)
	}

	r.step <- struct{}{}
	<-done

	if _, err := s.StartRun(context.Background(), testPrompt("third")); err != nil {
		t.Errorf("StartRun after completion failed: %v", err)
	}
	if r.runCount() != 2 {
		t.Errorf("runner ran %d times, want 2", r.runCount())
	}
}

func TestSessionCancelEmitsCancelledTerminal(t *testing.T) {
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{textUpdate("partial")},
				{completeUpdate()},
			}
		},
	}
	s := newTestSession(r)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	sub, err := s.Subscribe("term-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitFor(t, func() bool { return s.GetStreamState().BufferSize >= 1 },
		"run never started streaming")

	s.Cancel()
	got := drain(t, sub)
	<-done

	last := got[len(got)-1]
	if last.Kind != models.UpdateStreamComplete || !last.Cancelled {
		t.Errorf("last update = %v cancelled=%v, want cancelled stream_complete", last.Kind, last.Cancelled)
	}
	if st := s.GetStreamState(); st.Status != models.StatusCancelled {
		t.Errorf("status = %v, want cancelled", st.Status)
	}
}

func TestSessionRunDetachesFromCaller(t *testing.T) {
	s := newTestSession(oneShot(textUpdate("a"), completeUpdate()))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done, err := s.StartRun(ctx, testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	// The submitting adapter going away must not cancel the run.
	cancel()
	<-done

	if st := s.GetStreamState(); st.Status != models.StatusComplete {
		t.Errorf("status = %v, want complete", st.Status)
	}
}

func TestSessionClearResetsTranscript(t *testing.T) {
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{textUpdate("a")},
				{completeUpdate()},
			}
		},
	}
	s := newTestSession(r)
	defer s.Close()

	if _, err := s.StartRun(context.Background(), testPrompt("hello")); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitFor(t, func() bool { return s.GetStreamState().BufferSize >= 1 },
		"run never started streaming")

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	r.mu.Lock()
	resets := len(r.resets)
	r.mu.Unlock()
	if resets != 1 {
		t.Errorf("runner reset %d times, want 1", resets)
	}
	st := s.GetStreamState()
	if st.Status != models.StatusIdle || st.BufferSize != 0 {
		t.Errorf("state after clear = %+v, want idle with empty buffer", st)
	}
	if _, err := s.StartRun(context.Background(), testPrompt("fresh")); err != nil {
		t.Errorf("StartRun after clear failed: %v", err)
	}
}

func TestSessionTracksPendingApproval(t *testing.T) {
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{approvalUpdate("appr-1")},
				{textUpdate("done"), completeUpdate()},
			}
		},
	}
	s := newTestSession(r)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitFor(t, func() bool { return s.PendingApproval() != nil },
		"approval never became pending")

	if p := s.PendingApproval(); p.ApprovalID != "appr-1" {
		t.Errorf("pending approval id = %q, want appr-1", p.ApprovalID)
	}
	if st := s.GetStreamState(); !st.HasPendingApproval {
		t.Error("stream state does not report the pending approval")
	}

	// Stream progress past the approval clears the marker even when the
	// resolution came through another surface.
	r.step <- struct{}{}
	<-done
	if s.PendingApproval() != nil {
		t.Error("pending approval survived the resumed stream")
	}
}

func TestSessionResolveApproval(t *testing.T) {
	resolver := &fakeResolver{}
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{approvalUpdate("appr-1")},
				{completeUpdate()},
			}
		},
	}
	s := newTestSession(r, func(cfg *Config) { cfg.Resolver = resolver })
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	waitFor(t, func() bool { return s.PendingApproval() != nil },
		"approval never became pending")

	resolver.setErr(agent.ErrApprovalMismatch)
	if err := s.ResolveApproval("appr-1", models.ApprovalApproved); !errors.Is(err, agent.ErrApprovalMismatch) {
		t.Errorf("ResolveApproval error = %v, want ErrApprovalMismatch", err)
	}
	if s.PendingApproval() == nil {
		t.Error("failed resolution cleared the pending approval")
	}

	resolver.setErr(nil)
	if err := s.ResolveApproval("appr-1", models.ApprovalApproved); err != nil {
		t.Fatalf("ResolveApproval failed: %v", err)
	}
	if s.PendingApproval() != nil {
		t.Error("successful resolution left the approval pending")
	}
	resolver.mu.Lock()
	calls := len(resolver.calls)
	resolver.mu.Unlock()
	if calls != 2 {
		t.Errorf("resolver called %d times, want 2", calls)
	}

	r.step <- struct{}{}
	<-done
}

func TestSessionSynthesizesTerminalOnAbruptEnd(t *testing.T) {
	// The runner stream closes without a terminal update.
	s := newTestSession(oneShot(textUpdate("partial")))
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	sub, err := s.Subscribe("term-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := drain(t, sub)
	<-done

	last := got[len(got)-1]
	if last.Kind != models.UpdateError {
		t.Fatalf("last update kind = %v, want error", last.Kind)
	}
	if last.Err == nil || last.Err.Message == "" {
		t.Error("synthesized terminal has no error message")
	}
	if st := s.GetStreamState(); st.Status != models.StatusComplete {
		t.Errorf("status = %v, want complete", st.Status)
	}
}

func TestSessionDropsOldestForSlowSubscriber(t *testing.T) {
	s := newTestSession(
		oneShot(textUpdate("a"), textUpdate("b"), textUpdate("c"), textUpdate("d"), completeUpdate()),
		func(cfg *Config) { cfg.SubscriberBuffer = 2 },
	)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	sub, err := s.Subscribe("slow-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	<-done // let every update land before the subscriber reads

	got := drain(t, sub)
	if len(got) != 2 {
		t.Fatalf("got %d updates, want 2 (buffer cap)", len(got))
	}
	if got[0].TextDelta != "d" {
		t.Errorf("first surviving update text = %q, want d", got[0].TextDelta)
	}
	if !got[1].Terminal() {
		t.Errorf("last update kind = %v, want terminal", got[1].Kind)
	}
}

func TestSessionReplayBufferDropsOldest(t *testing.T) {
	s := newTestSession(
		oneShot(textUpdate("a"), textUpdate("b"), textUpdate("c"), textUpdate("d"), completeUpdate()),
		func(cfg *Config) { cfg.BufferCap = 3 },
	)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	<-done

	sub, err := s.Subscribe("late-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	got := drain(t, sub)
	if len(got) != 3 {
		t.Fatalf("replayed %d updates, want 3", len(got))
	}
	if got[0].TextDelta != "c" || got[1].TextDelta != "d" || !got[2].Terminal() {
		t.Errorf("replay = [%q %q %v], want newest three ending in terminal",
			got[0].TextDelta, got[1].TextDelta, got[2].Kind)
	}
	if got[0].Seq != 3 {
		t.Errorf("oldest surviving seq = %d, want 3", got[0].Seq)
	}
}

func TestSessionUnsubscribeStopsDelivery(t *testing.T) {
	r := &scriptRunner{
		step: make(chan struct{}),
		script: func() [][]*models.ResponseUpdate {
			return [][]*models.ResponseUpdate{
				{textUpdate("a")},
				{textUpdate("b"), completeUpdate()},
			}
		},
	}
	s := newTestSession(r)
	defer s.Close()

	done, err := s.StartRun(context.Background(), testPrompt("hello"))
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	sub, err := s.Subscribe("web-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	waitFor(t, func() bool { return s.GetStreamState().BufferSize >= 1 },
		"run never started streaming")

	s.Unsubscribe("web-1")
	got := drain(t, sub) // channel is closed, whatever was queued remains

	r.step <- struct{}{}
	<-done

	for _, u := range got {
		if u.TextDelta == "b" {
			t.Error("subscriber received an update delivered after Unsubscribe")
		}
	}
}

func TestSessionCloseRejectsFurtherUse(t *testing.T) {
	s := newTestSession(oneShot(completeUpdate()))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := s.StartRun(context.Background(), testPrompt("hello")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("StartRun after close error = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Subscribe("x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe after close error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionCloseReleasesResources(t *testing.T) {
	closed := false
	s := newTestSession(oneShot(completeUpdate()), func(cfg *Config) {
		cfg.Closer = func() error { closed = true; return nil }
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !closed {
		t.Error("Close did not invoke the resource closer")
	}
}
