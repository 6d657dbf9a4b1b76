package models

import "time"

// TopicMetadata is what the browser UI displays for one conversation.
// A topic maps deterministically to a ConversationKey.
type TopicMetadata struct {
	TopicID       string    `json:"topic_id"`
	Name          string    `json:"name"`
	AgentID       string    `json:"agent_id"`
	ChatID        int64     `json:"chat_id"`
	ThreadID      int64     `json:"thread_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastReadCount int       `json:"last_read_count"`
}

// Key returns the conversation key the topic maps to.
func (t TopicMetadata) Key() ConversationKey {
	return ConversationKey{ChatID: t.ChatID, ThreadID: t.ThreadID, AgentID: t.AgentID}
}

// MemoryEntry is one long-term memory record for a user. Persisted as
// hash fields under memory:<userId>:<memoryId>; tags are comma-joined
// and the embedding is stored as raw bytes.
type MemoryEntry struct {
	MemoryID   string    `json:"memory_id"`
	UserID     string    `json:"user_id"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags,omitempty"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Embedding  []byte    `json:"-"`
}
