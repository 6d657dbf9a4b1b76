package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// Factory builds the session for a conversation key. Construction may
// be expensive (MCP dials, history warmup); the registry guarantees it
// runs at most once per key.
type Factory func(ctx context.Context, key models.ConversationKey) (*Session, error)

// Registry hands out sessions by conversation key, creating them
// lazily on first use.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[models.ConversationKey]*entry
	closed  bool
}

type entry struct {
	once sync.Once
	sess *Session
	err  error
}

// NewRegistry builds an empty registry around a session factory.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		logger:  logger.With("component", "session_registry"),
		entries: make(map[models.ConversationKey]*entry),
	}
}

// Get returns the session for key, creating it if needed. Concurrent
// callers for the same key share one construction; the first caller's
// context bounds it. A failed construction is forgotten so the next
// call retries.
func (r *Registry) Get(ctx context.Context, key models.ConversationKey) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		sess, err := r.factory(ctx, key)
		if err != nil {
			e.err = fmt.Errorf("create session for %s: %w", key, err)
			r.mu.Lock()
			if r.entries[key] == e {
				delete(r.entries, key)
			}
			r.mu.Unlock()
			return
		}
		e.sess = sess
		r.logger.Info("session created", "conversation", key.String())
	})
	return e.sess, e.err
}

// Peek returns the session for key only if it already exists.
func (r *Registry) Peek(key models.ConversationKey) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	return e.sess
}

// Remove drops and closes the session for key, if present.
func (r *Registry) Remove(key models.ConversationKey) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok || e.sess == nil {
		return
	}
	if err := e.sess.Close(); err != nil {
		r.logger.Warn("session close failed", "conversation", key.String(), "error", err)
	}
}

// Sweep closes sessions idle for longer than maxIdle. Sessions hold
// live MCP connections, so long-dormant conversations should release
// them; the next prompt recreates the session transparently.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*Session
	for key, e := range r.entries {
		if e.sess == nil {
			continue
		}
		st := e.sess.GetStreamState()
		if st.Status == models.StatusProcessing {
			continue
		}
		if e.sess.LastActive().Before(cutoff) {
			idle = append(idle, e.sess)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, sess := range idle {
		if err := sess.Close(); err != nil {
			r.logger.Warn("idle session close failed",
				"conversation", sess.Key().String(), "error", err)
		} else {
			r.logger.Info("idle session closed", "conversation", sess.Key().String())
		}
	}
	return len(idle)
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close shuts every session down and rejects further Gets.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var all []*Session
	for _, e := range r.entries {
		if e.sess != nil {
			all = append(all, e.sess)
		}
	}
	r.entries = make(map[models.ConversationKey]*entry)
	r.mu.Unlock()

	var firstErr error
	for _, sess := range all {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
