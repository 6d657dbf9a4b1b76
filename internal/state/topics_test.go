package state

import (
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

func TestTopicHashRoundTrip(t *testing.T) {
	in := Topic{
		ID:        "t1",
		Title:     "Trip planning",
		AgentID:   "assistant",
		ChatID:    42,
		ThreadID:  7,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		UpdatedAt: time.Now().UTC(),
	}
	out, err := topicFromHash(in.ID, hashToStrings(t, topicToHash(in)))
	if err != nil {
		t.Fatalf("topicFromHash: %v", err)
	}
	if out.ID != in.ID || out.Title != in.Title || out.AgentID != in.AgentID {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if out.ChatID != in.ChatID || out.ThreadID != in.ThreadID {
		t.Errorf("ids = %d/%d, want %d/%d", out.ChatID, out.ThreadID, in.ChatID, in.ThreadID)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", out.CreatedAt, out.UpdatedAt, in.CreatedAt, in.UpdatedAt)
	}
}

func TestTopicFromHashMalformed(t *testing.T) {
	if _, err := topicFromHash("t1", map[string]string{"chat_id": "nope", "thread_id": "7"}); err == nil {
		t.Error("malformed chat_id accepted")
	}
	if _, err := topicFromHash("t1", map[string]string{"chat_id": "42", "thread_id": ""}); err == nil {
		t.Error("missing thread_id accepted")
	}
}

func TestTopicKey(t *testing.T) {
	topic := Topic{ID: "t1", AgentID: "downloader", ChatID: 42, ThreadID: 7}
	want := models.ConversationKey{ChatID: 42, ThreadID: 7, AgentID: "downloader"}
	if got := topic.Key(); got != want {
		t.Errorf("Key() = %v, want %v", got, want)
	}
}
