// Package models defines the shared domain types exchanged between the
// conversation pipeline, the chat adapters, and the persistence layer.
package models

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// ConversationKey is the primary grouping key for prompts and replies.
// Equal keys share one agent instance and one response stream at a time.
type ConversationKey struct {
	ChatID   int64  `json:"chat_id"`
	ThreadID int64  `json:"thread_id"`
	AgentID  string `json:"agent_id"`
}

// String renders the key as "chatId:threadId:agentId".
func (k ConversationKey) String() string {
	return fmt.Sprintf("%d:%d:%s", k.ChatID, k.ThreadID, k.AgentID)
}

// HistoryKey returns the persisted-history key for this conversation.
// The agent id is deliberately not part of the storage key: switching
// agents mid-thread continues the same transcript.
func (k ConversationKey) HistoryKey() string {
	return fmt.Sprintf("agent-key:%d:%d", k.ChatID, k.ThreadID)
}

// ParseConversationKey parses the "chatId:threadId:agentId" form produced
// by String. The agent id may itself contain colons.
func ParseConversationKey(s string) (ConversationKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return ConversationKey{}, fmt.Errorf("malformed conversation key %q", s)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ConversationKey{}, fmt.Errorf("malformed chat id in key %q: %w", s, err)
	}
	threadID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ConversationKey{}, fmt.Errorf("malformed thread id in key %q: %w", s, err)
	}
	if parts[2] == "" {
		return ConversationKey{}, fmt.Errorf("empty agent id in key %q", s)
	}
	return ConversationKey{ChatID: chatID, ThreadID: threadID, AgentID: parts[2]}, nil
}

// DeriveChatID maps an opaque string id (a bus correlation id, a topic
// id) onto a stable non-negative chat id. Adapters without numeric chat
// semantics use it so equal ids always land on the same conversation.
func DeriveChatID(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64() & (1<<63 - 1))
}
