package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// DefaultHistoryTTL is how long an untouched conversation transcript
// survives. Every append refreshes it.
const DefaultHistoryTTL = 30 * 24 * time.Hour

var _ agent.HistoryStore = (*HistoryStore)(nil)

// HistoryStore persists conversation transcripts as Redis lists of
// JSON-encoded messages, one list per chat/thread.
type HistoryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHistoryStore builds a history store; ttl <= 0 selects the default
// 30-day expiry.
func NewHistoryStore(client *redis.Client, ttl time.Duration) *HistoryStore {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &HistoryStore{client: client, ttl: ttl}
}

// History returns up to limit most recent messages in chronological
// order. limit <= 0 returns the whole transcript.
func (s *HistoryStore) History(ctx context.Context, key models.ConversationKey, limit int) ([]models.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, key.HistoryKey(), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", key, err)
	}

	msgs := make([]models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode history entry for %s: %w", key, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Append adds messages to the transcript and refreshes its expiry.
func (s *HistoryStore) Append(ctx context.Context, key models.ConversationKey, msgs ...*models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	encoded := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode history entry for %s: %w", key, err)
		}
		encoded = append(encoded, data)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key.HistoryKey(), encoded...)
	pipe.Expire(ctx, key.HistoryKey(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history for %s: %w", key, err)
	}
	return nil
}

// Clear deletes the transcript.
func (s *HistoryStore) Clear(ctx context.Context, key models.ConversationKey) error {
	if err := s.client.Del(ctx, key.HistoryKey()).Err(); err != nil {
		return fmt.Errorf("clear history for %s: %w", key, err)
	}
	return nil
}
