// Package sessions owns the live conversation state: one session per
// conversation key, each running at most one agent stream at a time
// and multicasting its updates to any number of subscribers.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

const (
	// defaultBufferCap bounds the per-run replay buffer.
	defaultBufferCap = 4096
	// defaultSubscriberBuffer is the per-subscriber channel size.
	defaultSubscriberBuffer = 64
)

var (
	// ErrRunActive is returned by StartRun while a run is in flight.
	ErrRunActive = errors.New("a run is already active for this conversation")
	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// ApprovalResolver answers tool approval resolutions for a
// conversation. Satisfied by the agent approval gate.
type ApprovalResolver interface {
	Resolve(key models.ConversationKey, approvalID string, result models.ApprovalResult) error
	Pending(key models.ConversationKey) *models.ApprovalRequest
}

// Config assembles one session.
type Config struct {
	Key      models.ConversationKey
	Runner   agent.Runner
	Resolver ApprovalResolver

	// Closer releases resources owned by the session, typically the
	// MCP connection set. Called once from Close.
	Closer func() error

	// Healthy probes the session's transports. A false answer tells the
	// monitor to rebuild the session before the next run. Nil means
	// always healthy.
	Healthy func() bool

	BufferCap        int
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Session runs prompts for a single conversation and fans the update
// stream out to subscribers. A subscriber that joins mid-run first
// receives the buffered updates of the current run in order, then live
// ones; a terminal update is always the last thing delivered before
// its channel closes.
type Session struct {
	key      models.ConversationKey
	runner   agent.Runner
	resolver ApprovalResolver
	closer   func() error
	healthy  func() bool
	logger   *slog.Logger
	now      func() time.Time

	bufferCap int
	subCap    int

	mu          sync.Mutex
	status      models.SessionStatus
	buffer      []*models.ResponseUpdate
	seq         int64
	subscribers map[string]*Subscriber
	pending     *models.ApprovalRequest
	cancelRun   context.CancelFunc
	runDone     chan struct{}
	lastActive  time.Time
	failed      bool
	closed      bool
}

// Subscriber receives one conversation's update stream. Updates's
// channel is closed when the run reaches a terminal update, the
// subscriber is removed, or the session closes.
type Subscriber struct {
	ID string

	ch     chan *models.ResponseUpdate
	closed bool
}

// Updates returns the receive side of the subscriber channel.
func (sub *Subscriber) Updates() <-chan *models.ResponseUpdate { return sub.ch }

// New builds an idle session.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufferCap := cfg.BufferCap
	if bufferCap <= 0 {
		bufferCap = defaultBufferCap
	}
	subCap := cfg.SubscriberBuffer
	if subCap <= 0 {
		subCap = defaultSubscriberBuffer
	}
	return &Session{
		key:         cfg.Key,
		runner:      cfg.Runner,
		resolver:    cfg.Resolver,
		closer:      cfg.Closer,
		healthy:     cfg.Healthy,
		logger:      logger.With("component", "session", "conversation", cfg.Key.String()),
		now:         time.Now,
		bufferCap:   bufferCap,
		subCap:      subCap,
		status:      models.StatusIdle,
		subscribers: make(map[string]*Subscriber),
		lastActive:  time.Now(),
	}
}

// Key returns the conversation this session serves.
func (s *Session) Key() models.ConversationKey { return s.key }

// Healthy reports whether the session's transports are usable.
func (s *Session) Healthy() bool {
	if s.healthy == nil {
		return true
	}
	return s.healthy()
}

// StartRun begins one agent run. The replay buffer restarts with the
// run. The run detaches from the caller's cancellation so a submitting
// adapter can disconnect without killing it; the returned channel
// closes when the run fully completes.
func (s *Session) StartRun(ctx context.Context, prompt *models.Prompt) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.status == models.StatusProcessing {
		s.mu.Unlock()
		return nil, ErrRunActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.status = models.StatusProcessing
	s.buffer = nil
	s.seq = 0
	s.pending = nil
	s.failed = false
	s.cancelRun = cancel
	s.runDone = done
	s.lastActive = s.now()
	s.mu.Unlock()

	updates, err := s.runner.RunStreaming(runCtx, &agent.RunInput{Key: s.key, Prompt: prompt})
	if err != nil {
		cancel()
		s.mu.Lock()
		s.status = models.StatusIdle
		s.cancelRun = nil
		s.runDone = nil
		s.mu.Unlock()
		close(done)
		return nil, fmt.Errorf("start run: %w", err)
	}

	go s.consume(cancel, done, updates)
	return done, nil
}

// consume is the single reader of a run's update stream. It assigns
// sequence numbers, tracks the pending approval, buffers for replay,
// and multicasts.
func (s *Session) consume(cancel context.CancelFunc, done chan struct{}, updates <-chan *models.ResponseUpdate) {
	defer func() {
		cancel()
		close(done)
	}()

	sawTerminal := false
	for u := range updates {
		s.mu.Lock()
		s.seq++
		u.Seq = s.seq

		// An approval update suspends the run; the next update can only
		// arrive after its resolution, so it clears the pending marker.
		if u.Kind == models.UpdateApproval {
			s.pending = u.Approval
		} else if s.pending != nil {
			s.pending = nil
		}

		s.appendLocked(u)
		for _, sub := range s.subscribers {
			s.pushLocked(sub, u)
		}

		if u.Terminal() {
			sawTerminal = true
			s.failed = u.Kind == models.UpdateError
			if u.Kind == models.UpdateStreamComplete && u.Cancelled {
				s.status = models.StatusCancelled
			} else {
				s.status = models.StatusComplete
			}
			s.detachSubscribersLocked()
		}
		s.lastActive = s.now()
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRun = nil
	if !sawTerminal && !s.closed {
		// The runner closed its stream without a terminal update. Keep
		// the contract for subscribers with a synthesized error.
		s.logger.Error("run stream ended without terminal update")
		s.seq++
		u := &models.ResponseUpdate{
			Kind:      models.UpdateError,
			Seq:       s.seq,
			Err:       &models.UpdateErr{Message: "run ended unexpectedly"},
			Timestamp: s.now(),
		}
		s.appendLocked(u)
		for _, sub := range s.subscribers {
			s.pushLocked(sub, u)
		}
		s.status = models.StatusComplete
		s.failed = true
		s.detachSubscribersLocked()
	}
}

// Subscribe attaches a subscriber. The current run's buffer is always
// replayed first; when no run is in progress the previous run's buffer
// is replayed and the channel closes immediately after, terminal
// included.
func (s *Session) Subscribe(id string) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if old, ok := s.subscribers[id]; ok {
		s.closeSubscriberLocked(old)
		delete(s.subscribers, id)
	}

	sub := &Subscriber{ID: id, ch: make(chan *models.ResponseUpdate, s.subCap)}
	for _, u := range s.buffer {
		s.pushLocked(sub, u)
	}
	if s.status != models.StatusProcessing {
		s.closeSubscriberLocked(sub)
		return sub, nil
	}
	s.subscribers[id] = sub
	return sub, nil
}

// Unsubscribe detaches a subscriber and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return
	}
	delete(s.subscribers, id)
	s.closeSubscriberLocked(sub)
}

// Cancel stops the in-flight run, if any. The cancellation propagates
// through the runner, which rejects pending approvals and emits the
// terminal cancelled update.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Clear cancels the in-flight run, waits for it to settle, and wipes
// the persisted transcript so the next prompt starts a fresh
// conversation.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancelRun
	done := s.runDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.buffer = nil
	s.pending = nil
	s.status = models.StatusIdle
	s.lastActive = s.now()
	s.mu.Unlock()
	return s.runner.Reset(ctx, s.key)
}

// ResolveApproval forwards a user's decision to the approval gate.
func (s *Session) ResolveApproval(approvalID string, result models.ApprovalResult) error {
	if s.resolver == nil {
		return agent.ErrNoPendingApproval
	}
	if err := s.resolver.Resolve(s.key, approvalID, result); err != nil {
		return err
	}
	s.mu.Lock()
	if s.pending != nil && s.pending.ApprovalID == approvalID {
		s.pending = nil
	}
	s.lastActive = s.now()
	s.mu.Unlock()
	return nil
}

// PendingApproval returns a copy of the approval currently blocking the
// run, or nil.
func (s *Session) PendingApproval() *models.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	cp := *s.pending
	return &cp
}

// GetStreamState reports where the session stands, letting adapters
// decide whether to subscribe for a replay.
func (s *Session) GetStreamState() models.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.StreamState{
		Status:             s.status,
		HasPendingApproval: s.pending != nil,
		BufferSize:         len(s.buffer),
	}
}

// LastActive reports the last time the session did anything.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// LastRunFailed reports whether the most recent run ended in an error
// terminal.
func (s *Session) LastRunFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Close cancels any run, detaches subscribers, and releases owned
// resources. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancelRun
	done := s.runDone
	s.detachSubscribersLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("run did not settle before close")
		}
	}
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

// appendLocked grows the replay buffer, dropping the oldest entries
// once the cap is hit.
func (s *Session) appendLocked(u *models.ResponseUpdate) {
	if len(s.buffer) >= s.bufferCap {
		drop := len(s.buffer) - s.bufferCap + 1
		s.buffer = append(s.buffer[:0], s.buffer[drop:]...)
	}
	s.buffer = append(s.buffer, u)
}

// pushLocked delivers one update to a subscriber, dropping its oldest
// queued update when the channel is full. Every writer holds s.mu, so
// after one pop the send cannot fail.
func (s *Session) pushLocked(sub *Subscriber, u *models.ResponseUpdate) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- u:
		return
	default:
	}
	select {
	case dropped := <-sub.ch:
		s.logger.Debug("subscriber lagging, dropped oldest update",
			"subscriber", sub.ID, "dropped_seq", dropped.Seq)
	default:
	}
	select {
	case sub.ch <- u:
	default:
	}
}

func (s *Session) detachSubscribersLocked() {
	for _, sub := range s.subscribers {
		s.closeSubscriberLocked(sub)
	}
	s.subscribers = make(map[string]*Subscriber)
}

func (s *Session) closeSubscriberLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
