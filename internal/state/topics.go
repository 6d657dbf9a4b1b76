package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

const topicsIndexKey = "topics:index"

// Topic is one browser-visible conversation thread.
type Topic struct {
	ID        string
	Title     string
	AgentID   string
	ChatID    int64
	ThreadID  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key returns the conversation key this topic maps to.
func (t Topic) Key() models.ConversationKey {
	return models.ConversationKey{ChatID: t.ChatID, ThreadID: t.ThreadID, AgentID: t.AgentID}
}

// TopicStore persists topic metadata as one hash per topic plus an
// index set.
type TopicStore struct {
	client *redis.Client
}

// NewTopicStore builds a topic store.
func NewTopicStore(client *redis.Client) *TopicStore {
	return &TopicStore{client: client}
}

func topicKey(id string) string {
	return "topic:" + id
}

// Create stores a topic and adds it to the index.
func (s *TopicStore) Create(ctx context.Context, t Topic) error {
	if t.ID == "" {
		return fmt.Errorf("create topic: empty id")
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, topicKey(t.ID), topicToHash(t))
	pipe.SAdd(ctx, topicsIndexKey, t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create topic %s: %w", t.ID, err)
	}
	return nil
}

// Get loads one topic.
func (s *TopicStore) Get(ctx context.Context, id string) (Topic, error) {
	fields, err := s.client.HGetAll(ctx, topicKey(id)).Result()
	if err != nil {
		return Topic{}, fmt.Errorf("load topic %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Topic{}, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return topicFromHash(id, fields)
}

// List returns all topics, most recently updated first.
func (s *TopicStore) List(ctx context.Context) ([]Topic, error) {
	ids, err := s.client.SMembers(ctx, topicsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, topicKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	topics := make([]Topic, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index entry without a hash, likely a torn delete.
			continue
		}
		t, err := topicFromHash(ids[i], fields)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		return topics[i].UpdatedAt.After(topics[j].UpdatedAt)
	})
	return topics, nil
}

// Rename retitles a topic.
func (s *TopicStore) Rename(ctx context.Context, id, title string) error {
	if err := s.ensureExists(ctx, id); err != nil {
		return err
	}
	err := s.client.HSet(ctx, topicKey(id),
		"title", title,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("rename topic %s: %w", id, err)
	}
	return nil
}

// Touch bumps a topic's updated-at so it sorts to the top.
func (s *TopicStore) Touch(ctx context.Context, id string) error {
	if err := s.ensureExists(ctx, id); err != nil {
		return err
	}
	err := s.client.HSet(ctx, topicKey(id),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("touch topic %s: %w", id, err)
	}
	return nil
}

// Delete removes a topic and its index entry.
func (s *TopicStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, topicKey(id))
	pipe.SRem(ctx, topicsIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete topic %s: %w", id, err)
	}
	return nil
}

func (s *TopicStore) ensureExists(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, topicKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check topic %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return nil
}

func topicToHash(t Topic) map[string]interface{} {
	return map[string]interface{}{
		"title":      t.Title,
		"agent_id":   t.AgentID,
		"chat_id":    strconv.FormatInt(t.ChatID, 10),
		"thread_id":  strconv.FormatInt(t.ThreadID, 10),
		"created_at": t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func topicFromHash(id string, fields map[string]string) (Topic, error) {
	chatID, err := strconv.ParseInt(fields["chat_id"], 10, 64)
	if err != nil {
		return Topic{}, fmt.Errorf("topic %s: malformed chat_id %q", id, fields["chat_id"])
	}
	threadID, err := strconv.ParseInt(fields["thread_id"], 10, 64)
	if err != nil {
		return Topic{}, fmt.Errorf("topic %s: malformed thread_id %q", id, fields["thread_id"])
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	updatedAt, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return Topic{
		ID:        id,
		Title:     fields["title"],
		AgentID:   fields["agent_id"],
		ChatID:    chatID,
		ThreadID:  threadID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
