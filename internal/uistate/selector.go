package uistate

import "sync"

// Selector memoizes a projection of the state. Slices are replaced
// wholesale on change, so reference equality of the input is a sound
// and cheap staleness check: the cached result is returned whenever the
// input is the same value as last time.
type Selector[S comparable, R any] struct {
	mu      sync.Mutex
	compute func(S) R
	cached  bool
	lastIn  S
	lastOut R
}

// NewSelector wraps a projection in single-entry memoization. Compose
// selectors by calling plain projection funcs inside compute rather
// than nesting Selectors, so only the outermost result is memoized.
func NewSelector[S comparable, R any](compute func(S) R) *Selector[S, R] {
	return &Selector[S, R]{compute: compute}
}

// Select returns the projection of in, recomputing only when in differs
// from the previous input.
func (s *Selector[S, R]) Select(in S) R {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached && in == s.lastIn {
		return s.lastOut
	}
	s.lastOut = s.compute(in)
	s.lastIn = in
	s.cached = true
	return s.lastOut
}

// Combine builds a selector from two projections and a combiner,
// memoizing only the combined result.
func Combine[S comparable, A, B, R any](a func(S) A, b func(S) B, combine func(A, B) R) *Selector[S, R] {
	return NewSelector(func(s S) R {
		return combine(a(s), b(s))
	})
}

// TopicMessages selects a topic's history. Memoized on the Messages
// slice, so renders skip topics whose history did not change.
func TopicMessages(topicID string) *Selector[*MessagesState, []Message] {
	return NewSelector(func(s *MessagesState) []Message {
		return s.ByTopic[topicID]
	})
}

// StreamingTopics selects the ids of topics with a live or resuming
// stream.
func StreamingTopics() *Selector[*StreamingState, []string] {
	return NewSelector(func(s *StreamingState) []string {
		out := make([]string, 0, len(s.Streaming)+len(s.Resuming))
		for id := range s.Streaming {
			out = append(out, id)
		}
		for id := range s.Resuming {
			if !s.Streaming[id] {
				out = append(out, id)
			}
		}
		return out
	})
}

// PendingApproval selects the approval awaiting a decision, nil when
// none.
func PendingApproval() *Selector[*ApprovalState, *ApprovalRequestView] {
	return NewSelector(func(s *ApprovalState) *ApprovalRequestView {
		if s.Pending == nil {
			return nil
		}
		return &ApprovalRequestView{
			ApprovalID: s.Pending.ApprovalID,
			ToolName:   s.Pending.ToolName,
			Arguments:  string(s.Pending.Arguments),
		}
	})
}

// ApprovalRequestView is the approval prompt as the UI renders it.
type ApprovalRequestView struct {
	ApprovalID string
	ToolName   string
	Arguments  string
}
