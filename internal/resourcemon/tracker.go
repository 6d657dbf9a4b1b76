// Package resourcemon watches subscribed MCP resources and pushes
// "updated" notifications when their underlying work items finish.
package resourcemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Dethon/Agent-sub012/internal/observability"
)

// defaultInterval is the poll cadence for tracked resources.
const defaultInterval = 5 * time.Second

// State is a point-in-time view of the work item behind a resource.
type State struct {
	// Phase is the provider's name for the current stage, e.g.
	// "queued", "downloading", "completed".
	Phase string
	// Terminal marks phases the item can never leave.
	Terminal bool
}

// StateProvider resolves tracked resource URIs against the store that
// owns the underlying work items.
type StateProvider interface {
	// Lookup reports the state of one concrete URI. ok=false means the
	// item behind the URI no longer exists.
	Lookup(ctx context.Context, uri string) (State, bool, error)
	// Expand lists the concrete URIs currently matching a templated
	// URI such as "download://{id}/".
	Expand(ctx context.Context, template string) ([]string, error)
}

// Notifier delivers resource notifications to one client session. The
// MCP server surface implements it per connected session.
type Notifier interface {
	ResourceUpdated(ctx context.Context, uri string) error
	ResourceListChanged(ctx context.Context) error
}

type subKey struct {
	sessionID string
	uri       string
}

type subscription struct {
	notifier Notifier
	// template names the templated subscription this entry expanded
	// from; empty for direct concrete subscriptions.
	template  string
	lastPhase string
}

// Tracker polls subscribed resources and emits exactly one
// resources/updated per (session, concrete URI) that reaches a
// terminal state. Items that vanish additionally get a
// resources/list_changed. Clients stay subscribed on their side, so a
// notified pair is remembered and never fires again.
type Tracker struct {
	provider StateProvider
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	subs      map[subKey]*subscription
	templates map[subKey]Notifier
	notified  map[subKey]bool
}

// Config assembles a tracker.
type Config struct {
	Provider StateProvider
	Interval time.Duration
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// New builds a tracker; Run starts the polling.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Tracker{
		provider:  cfg.Provider,
		interval:  interval,
		logger:    logger.With("component", "resource_monitor"),
		metrics:   cfg.Metrics,
		subs:      make(map[subKey]*subscription),
		templates: make(map[subKey]Notifier),
		notified:  make(map[subKey]bool),
	}
}

// IsTemplate reports whether a URI contains RFC 6570 style variables.
func IsTemplate(uri string) bool {
	return strings.Contains(uri, "{") && strings.Contains(uri, "}")
}

// Subscribe starts tracking a URI for a session. Template URIs fan out
// to the matching concrete items on each tick; concrete URIs are
// tracked directly. Subscribing again to an already-notified concrete
// URI stays silent.
func (t *Tracker) Subscribe(sessionID, uri string, n Notifier) {
	key := subKey{sessionID: sessionID, uri: uri}
	t.mu.Lock()
	defer t.mu.Unlock()
	if IsTemplate(uri) {
		t.templates[key] = n
		t.logger.Debug("template subscription tracked", "session", sessionID, "uri", uri)
		return
	}
	if t.notified[key] {
		return
	}
	if _, ok := t.subs[key]; !ok {
		t.subs[key] = &subscription{notifier: n}
		t.logger.Debug("resource subscription tracked", "session", sessionID, "uri", uri)
	}
}

// Unsubscribe stops tracking one URI for a session.
func (t *Tracker) Unsubscribe(sessionID, uri string) {
	key := subKey{sessionID: sessionID, uri: uri}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, key)
	delete(t.templates, key)
}

// DropSession clears every subscription and notification record of a
// disconnected session.
func (t *Tracker) DropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.subs {
		if key.sessionID == sessionID {
			delete(t.subs, key)
		}
	}
	for key := range t.templates {
		if key.sessionID == sessionID {
			delete(t.templates, key)
		}
	}
	for key := range t.notified {
		if key.sessionID == sessionID {
			delete(t.notified, key)
		}
	}
}

// Tracked reports the number of live concrete subscriptions.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Run polls until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("resource monitor started", "interval", t.interval)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("resource monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// emission is one decided notification, sent after the lock drops.
type emission struct {
	notifier    Notifier
	uri         string
	listChanged bool
}

// tick expands templates, checks every concrete subscription, and
// fires the notifications for items that finished or vanished since
// the last pass.
func (t *Tracker) tick(ctx context.Context) {
	t.expandTemplates(ctx)

	t.mu.Lock()
	keys := make([]subKey, 0, len(t.subs))
	for key := range t.subs {
		keys = append(keys, key)
	}
	t.mu.Unlock()

	var due []emission
	for _, key := range keys {
		t.mu.Lock()
		sub, ok := t.subs[key]
		t.mu.Unlock()
		if !ok {
			continue
		}

		state, exists, err := t.provider.Lookup(ctx, key.uri)
		if err != nil {
			t.logger.Warn("resource lookup failed", "uri", key.uri, "error", err)
			continue
		}

		t.mu.Lock()
		switch {
		case !exists:
			delete(t.subs, key)
			t.notified[key] = true
			due = append(due, emission{notifier: sub.notifier, uri: key.uri, listChanged: true})
		case state.Terminal:
			delete(t.subs, key)
			t.notified[key] = true
			due = append(due, emission{notifier: sub.notifier, uri: key.uri})
		default:
			if sub.lastPhase != state.Phase {
				t.logger.Debug("resource progressed",
					"uri", key.uri, "from", sub.lastPhase, "to", state.Phase)
				sub.lastPhase = state.Phase
			}
		}
		t.mu.Unlock()
	}

	for _, e := range due {
		if err := e.notifier.ResourceUpdated(ctx, e.uri); err != nil {
			t.logger.Warn("resource update notification failed", "uri", e.uri, "error", err)
		} else {
			t.metrics.ResourceNotified("updated")
			t.logger.Info("resource update notified", "uri", e.uri)
		}
		if e.listChanged {
			if err := e.notifier.ResourceListChanged(ctx); err != nil {
				t.logger.Warn("resource list notification failed", "uri", e.uri, "error", err)
			} else {
				t.metrics.ResourceNotified("list_changed")
			}
		}
	}
}

// expandTemplates turns template subscriptions into concrete tracked
// entries for items that appeared since the last tick. Pairs already
// notified stay silent.
func (t *Tracker) expandTemplates(ctx context.Context) {
	t.mu.Lock()
	templates := make(map[subKey]Notifier, len(t.templates))
	for key, n := range t.templates {
		templates[key] = n
	}
	t.mu.Unlock()

	for key, notifier := range templates {
		uris, err := t.provider.Expand(ctx, key.uri)
		if err != nil {
			t.logger.Warn("template expansion failed", "template", key.uri, "error", err)
			continue
		}
		t.mu.Lock()
		for _, uri := range uris {
			concrete := subKey{sessionID: key.sessionID, uri: uri}
			if t.notified[concrete] {
				continue
			}
			if _, ok := t.subs[concrete]; ok {
				continue
			}
			t.subs[concrete] = &subscription{notifier: notifier, template: key.uri}
		}
		t.mu.Unlock()
	}
}
