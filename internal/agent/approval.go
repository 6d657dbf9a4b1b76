package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// DefaultApprovalTimeout bounds how long a run waits for the user to
// answer an approval request before it is treated as rejected.
const DefaultApprovalTimeout = 5 * time.Minute

// Gate decides whether a tool call may execute. Decisions come from
// three places, in order: the static whitelist, the per-conversation
// remember cache, and finally the user. Requests that reach the user
// block the calling run until a resolution arrives.
//
// Per conversation the gate holds at most one outstanding request and
// serves contenders strictly in arrival order.
type Gate struct {
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	cache   map[approvalCacheKey]models.ApprovalResult
	pending map[string]*pendingApproval
	turns   map[string]*turnQueue
}

type approvalCacheKey struct {
	conversation string
	tool         string
}

type pendingApproval struct {
	req *models.ApprovalRequest
	ch  chan models.ApprovalResult
}

type turnQueue struct {
	busy    bool
	waiters []chan struct{}
}

// NewGate builds a gate with the given user-response timeout. A zero
// timeout falls back to DefaultApprovalTimeout.
func NewGate(timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		timeout: timeout,
		logger:  logger.With("component", "approval_gate"),
		now:     time.Now,
		cache:   make(map[approvalCacheKey]models.ApprovalResult),
		pending: make(map[string]*pendingApproval),
		turns:   make(map[string]*turnQueue),
	}
}

// AuthorizeRequest carries one tool call through the gate.
type AuthorizeRequest struct {
	Key       models.ConversationKey
	ToolName  string // qualified "<server>:<tool>"
	Arguments json.RawMessage
	Whitelist []string

	// Notify delivers the approval request to whoever can answer it.
	// Called at most once, after the request is registered as pending.
	Notify func(*models.ApprovalRequest)
}

// Authorize returns the decision for one tool call. Whitelisted and
// remembered tools return AutoApproved without user interaction.
// Otherwise the request is surfaced through Notify and the call blocks
// until Resolve, context cancellation, or timeout. Cancellation and
// timeout both produce a Rejected decision rather than an error so the
// loop can report the skipped call to the model.
func (g *Gate) Authorize(ctx context.Context, req *AuthorizeRequest) (models.ApprovalResult, error) {
	if Whitelisted(req.Whitelist, req.ToolName) {
		return models.ApprovalAutoGranted, nil
	}

	keyStr := req.Key.String()
	if err := g.acquireTurn(ctx, keyStr); err != nil {
		return models.ApprovalRejected, nil
	}
	defer g.releaseTurn(keyStr)

	ck := approvalCacheKey{conversation: keyStr, tool: req.ToolName}
	g.mu.Lock()
	if cached, ok := g.cache[ck]; ok && cached.Granted() {
		g.mu.Unlock()
		return models.ApprovalAutoGranted, nil
	}
	p := &pendingApproval{
		req: &models.ApprovalRequest{
			ApprovalID: uuid.NewString(),
			Key:        req.Key,
			ToolName:   req.ToolName,
			Arguments:  req.Arguments,
			CreatedAt:  g.now(),
		},
		ch: make(chan models.ApprovalResult, 1),
	}
	g.pending[keyStr] = p
	g.mu.Unlock()

	if req.Notify != nil {
		req.Notify(p.req)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case result := <-p.ch:
		return result, nil
	case <-ctx.Done():
		if result, resolved := g.retract(keyStr, p); resolved {
			return result, nil
		}
		return models.ApprovalRejected, nil
	case <-timer.C:
		if result, resolved := g.retract(keyStr, p); resolved {
			return result, nil
		}
		g.logger.Warn("approval request timed out",
			"conversation", keyStr,
			"tool", req.ToolName,
			"approval_id", p.req.ApprovalID)
		return models.ApprovalRejected, nil
	}
}

// Resolve answers the pending request for a conversation. The approval
// id must match the pending request; resolutions for requests that
// already completed return ErrNoPendingApproval, which callers treat
// as a harmless duplicate.
func (g *Gate) Resolve(key models.ConversationKey, approvalID string, result models.ApprovalResult) error {
	switch result {
	case models.ApprovalApproved, models.ApprovalRemembered, models.ApprovalRejected:
	default:
		return ErrInvalidResolution
	}

	keyStr := key.String()
	g.mu.Lock()
	p, ok := g.pending[keyStr]
	if !ok {
		g.mu.Unlock()
		return ErrNoPendingApproval
	}
	if p.req.ApprovalID != approvalID {
		g.mu.Unlock()
		return ErrApprovalMismatch
	}
	delete(g.pending, keyStr)
	if result == models.ApprovalRemembered {
		g.cache[approvalCacheKey{conversation: keyStr, tool: p.req.ToolName}] = result
	}
	g.mu.Unlock()

	p.ch <- result
	return nil
}

// Pending returns a copy of the outstanding request for a conversation,
// or nil when nothing is waiting.
func (g *Gate) Pending(key models.ConversationKey) *models.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[key.String()]
	if !ok {
		return nil
	}
	cp := *p.req
	return &cp
}

// retract removes a request that stopped waiting. When Resolve already
// claimed it the buffered channel holds the resolution, which wins.
func (g *Gate) retract(keyStr string, p *pendingApproval) (models.ApprovalResult, bool) {
	g.mu.Lock()
	if g.pending[keyStr] == p {
		delete(g.pending, keyStr)
		g.mu.Unlock()
		return "", false
	}
	g.mu.Unlock()
	select {
	case result := <-p.ch:
		return result, true
	default:
		return "", false
	}
}

// acquireTurn takes the conversation's approval slot, queuing FIFO
// behind earlier requests.
func (g *Gate) acquireTurn(ctx context.Context, keyStr string) error {
	g.mu.Lock()
	q := g.turns[keyStr]
	if q == nil {
		q = &turnQueue{}
		g.turns[keyStr] = q
	}
	if !q.busy {
		q.busy = true
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The turn was granted between cancellation and cleanup; pass
		// it to the next waiter.
		g.releaseTurn(keyStr)
		return ctx.Err()
	}
}

func (g *Gate) releaseTurn(keyStr string) {
	g.mu.Lock()
	q := g.turns[keyStr]
	if q == nil {
		g.mu.Unlock()
		return
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		g.mu.Unlock()
		close(next)
		return
	}
	delete(g.turns, keyStr)
	g.mu.Unlock()
}

// Whitelisted reports whether a qualified "<server>:<tool>" name
// matches any whitelist pattern. Patterns use the "mcp:<server>:<tool>"
// form; "*" spans any run of characters, colons included, so
// "mcp:search:*" covers every tool on the search server and a bare "*"
// covers everything. Matching is case-insensitive.
func Whitelisted(patterns []string, qualified string) bool {
	name := strings.ToLower(strings.TrimSpace(qualified))
	if name == "" {
		return false
	}
	if !strings.HasPrefix(name, "mcp:") {
		name = "mcp:" + name
	}
	for _, pattern := range patterns {
		if matchPattern(pattern, name) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return false
	}
	if p == "*" {
		return true
	}
	if !strings.HasPrefix(p, "mcp:") && !strings.HasPrefix(p, "*") {
		p = "mcp:" + p
	}
	return globMatch(p, name)
}

// globMatch matches s against a pattern whose only metacharacter is
// '*'.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
