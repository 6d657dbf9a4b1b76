package uistate

import (
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

func seededState() State {
	s := initialState()
	s = reduceRoot(s, TopicsLoaded{Topics: []models.TopicMetadata{{TopicID: "t1", Name: "first"}, {TopicID: "t2", Name: "second"}}})
	s = reduceRoot(s, TopicSelected{TopicID: "t1"})
	s = reduceRoot(s, HistoryLoaded{TopicID: "t1", Messages: []Message{{ID: "m1", Role: "user", Content: "hi"}}})
	return s
}

func TestRootReducerSharesUnchangedSlices(t *testing.T) {
	s := seededState()
	next := reduceRoot(s, TopicSelected{TopicID: "t2"})

	if next.Topics == s.Topics {
		t.Error("topics slice not replaced on selection change")
	}
	if next.Messages != s.Messages || next.Streaming != s.Streaming ||
		next.Connection != s.Connection || next.Approval != s.Approval || next.Space != s.Space {
		t.Error("untouched slices were replaced")
	}
}

func TestRootReducerUnhandledActionReturnsEqualState(t *testing.T) {
	s := seededState()
	next := reduceRoot(s, PushSubscribeRequested{Enabled: true})
	if next != s {
		t.Error("state changed for an action no reducer handles")
	}
}

func TestReducersDoNotMutateInput(t *testing.T) {
	base := &MessagesState{
		ByTopic: map[string][]Message{"t1": {{ID: "m1", Content: "hi"}}},
		Loaded:  map[string]bool{"t1": true},
	}

	next := reduceMessages(base, MessageReceived{TopicID: "t1", Message: Message{ID: "m2", Content: "there"}})
	if next == base {
		t.Fatal("handled action returned the input instance")
	}
	if got := len(base.ByTopic["t1"]); got != 1 {
		t.Errorf("input message list mutated, len = %d", got)
	}
	if got := len(next.ByTopic["t1"]); got != 2 {
		t.Errorf("next message list len = %d, want 2", got)
	}

	next = reduceMessages(base, TopicDeleted{TopicID: "t1"})
	if !base.Loaded["t1"] || len(base.ByTopic) != 1 {
		t.Error("input maps mutated by delete")
	}
	if len(next.ByTopic) != 0 || len(next.Loaded) != 0 {
		t.Error("delete did not clear the copy")
	}
}

func TestMessageReceivedDeduplicatesByID(t *testing.T) {
	base := &MessagesState{
		ByTopic: map[string][]Message{"t1": {{ID: "m1", Content: "partial"}}},
		Loaded:  map[string]bool{},
	}
	next := reduceMessages(base, MessageReceived{TopicID: "t1", Message: Message{ID: "m1", Content: "full"}})

	msgs := next.ByTopic["t1"]
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want the duplicate replaced", len(msgs))
	}
	if msgs[0].Content != "full" {
		t.Errorf("content = %q, want the newer copy", msgs[0].Content)
	}
}

func TestStreamLifecycle(t *testing.T) {
	s := initialState()
	s = reduceRoot(s, StreamStarted{TopicID: "t1", MessageID: "m9"})
	if !s.Streaming.Streaming["t1"] {
		t.Fatal("topic not marked streaming")
	}

	s = reduceRoot(s, StreamDelta{TopicID: "t1", Content: "Hel"})
	s = reduceRoot(s, StreamDelta{TopicID: "t1", Content: "lo", Reasoning: "thinking"})
	cur := s.Streaming.ByTopic["t1"]
	if cur.Content != "Hello" || cur.Reasoning != "thinking" || cur.MessageID != "m9" {
		t.Fatalf("accumulated content = %+v", cur)
	}

	s = reduceRoot(s, StreamFinalized{TopicID: "t1", Message: Message{ID: "m9", Role: "assistant", Content: "Hello"}})
	if _, ok := s.Streaming.ByTopic["t1"]; ok {
		t.Error("in-flight content survived finalization")
	}
	if s.Streaming.Streaming["t1"] {
		t.Error("topic still marked streaming after finalization")
	}
	msgs := s.Messages.ByTopic["t1"]
	if len(msgs) != 1 || msgs[0].ID != "m9" {
		t.Fatalf("finalized message not in history: %+v", msgs)
	}

	// A late network copy of the same message must not duplicate it.
	s = reduceRoot(s, MessageReceived{TopicID: "t1", Message: Message{ID: "m9", Role: "assistant", Content: "Hello"}})
	if got := len(s.Messages.ByTopic["t1"]); got != 1 {
		t.Errorf("history len = %d after late duplicate, want 1", got)
	}
}

func TestStreamDeltaWithoutStreamIsIgnored(t *testing.T) {
	base := &StreamingState{
		ByTopic:   map[string]StreamContent{},
		Streaming: map[string]bool{},
		Resuming:  map[string]bool{},
	}
	if next := reduceStreaming(base, StreamDelta{TopicID: "t1", Content: "x"}); next != base {
		t.Error("delta for unknown topic changed the slice")
	}
}

func TestStreamResumeThenStartClearsResuming(t *testing.T) {
	s := initialState()
	s = reduceRoot(s, StreamStarted{TopicID: "t1", MessageID: "m1"})
	s = reduceRoot(s, StreamResumeRequested{TopicID: "t1"})
	if !s.Streaming.Resuming["t1"] {
		t.Fatal("topic not marked resuming")
	}
	s = reduceRoot(s, StreamStarted{TopicID: "t1", MessageID: "m1"})
	if s.Streaming.Resuming["t1"] {
		t.Error("resuming flag survived the stream re-attach")
	}
	if !s.Streaming.Streaming["t1"] {
		t.Error("topic lost its streaming flag")
	}
}

func TestTopicDeletedCascades(t *testing.T) {
	s := seededState()
	s = reduceRoot(s, StreamStarted{TopicID: "t1", MessageID: "m5"})
	s = reduceRoot(s, TopicDeleted{TopicID: "t1"})

	for _, topic := range s.Topics.Topics {
		if topic.TopicID == "t1" {
			t.Error("topic still listed")
		}
	}
	if s.Topics.Selected == "t1" {
		t.Error("deleted topic still selected")
	}
	if _, ok := s.Messages.ByTopic["t1"]; ok {
		t.Error("history survived topic deletion")
	}
	if s.Streaming.Streaming["t1"] {
		t.Error("stream survived topic deletion")
	}
}

func topicRow(t *testing.T, s State, id string) models.TopicMetadata {
	t.Helper()
	for _, row := range s.Topics.Topics {
		if row.TopicID == id {
			return row
		}
	}
	t.Fatalf("topic %s not in state", id)
	return models.TopicMetadata{}
}

func TestTopicUnreadBookkeeping(t *testing.T) {
	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s := seededState() // t1 selected with one loaded message

	if got := topicRow(t, s, "t1").LastReadCount; got != 1 {
		t.Fatalf("read count after history load = %d, want 1", got)
	}

	// A message on an unselected topic bumps its stamp but stays unread.
	s = reduceRoot(s, MessageReceived{TopicID: "t2", Message: Message{ID: "m2", Role: "assistant", Content: "done", CreatedAt: at}})
	row := topicRow(t, s, "t2")
	if !row.LastMessageAt.Equal(at) {
		t.Errorf("t2 last message at = %v, want %v", row.LastMessageAt, at)
	}
	if row.LastReadCount != 0 {
		t.Errorf("t2 read count = %d, want 0 while unselected", row.LastReadCount)
	}

	// A finalized stream on the selected topic is read as it lands.
	s = reduceRoot(s, StreamFinalized{TopicID: "t1", Message: Message{ID: "m3", Role: "assistant", Content: "hi back", CreatedAt: at}})
	row = topicRow(t, s, "t1")
	if row.LastReadCount != 2 || !row.LastMessageAt.Equal(at) {
		t.Errorf("t1 row = %+v, want read count 2 at %v", row, at)
	}

	// Selecting the other topic catches its read count up.
	s = reduceRoot(s, TopicSelected{TopicID: "t2"})
	if got := topicRow(t, s, "t2").LastReadCount; got != 1 {
		t.Errorf("t2 read count after selection = %d, want 1", got)
	}
}

func TestApprovalResolution(t *testing.T) {
	s := initialState()
	s = reduceRoot(s, ApprovalRequested{Request: models.ApprovalRequest{ApprovalID: "ap-1", ToolName: "search:query"}})
	if s.Approval.Pending == nil || s.Approval.Pending.ApprovalID != "ap-1" {
		t.Fatal("approval not pending")
	}

	mismatched := reduceRoot(s, ApprovalResolved{ApprovalID: "ap-2", Result: models.ApprovalApproved})
	if mismatched.Approval != s.Approval {
		t.Error("mismatched resolution changed the approval slice")
	}

	s = reduceRoot(s, ApprovalResolved{ApprovalID: "ap-1", Result: models.ApprovalApproved})
	if s.Approval.Pending != nil {
		t.Error("approval still pending after resolution")
	}
}

func TestHistoryReloadMarksStale(t *testing.T) {
	s := seededState()
	if !s.Messages.Loaded["t1"] {
		t.Fatal("precondition: history loaded")
	}
	s = reduceRoot(s, HistoryReloadRequested{TopicID: "t1"})
	if s.Messages.Loaded["t1"] {
		t.Error("loaded flag survived a reload request")
	}
	if len(s.Messages.ByTopic["t1"]) != 1 {
		t.Error("reload request should keep the stale history visible")
	}
}

func TestSpaceReducer(t *testing.T) {
	s := initialState()
	s = reduceRoot(s, AgentsLoaded{Agents: []string{"downloader", "librarian"}})
	s = reduceRoot(s, SpaceChanged{AgentID: "librarian"})
	s = reduceRoot(s, NotificationsToggled{Enabled: true})

	if len(s.Space.Agents) != 2 || s.Space.AgentID != "librarian" || !s.Space.Notifications {
		t.Errorf("space state = %+v", s.Space)
	}
}
