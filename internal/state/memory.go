package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// MemoryStore persists agent memories as one hash per entry plus a
// per-user index set.
type MemoryStore struct {
	client *redis.Client
}

// NewMemoryStore builds a memory store.
func NewMemoryStore(client *redis.Client) *MemoryStore {
	return &MemoryStore{client: client}
}

func memoryKey(userID, memoryID string) string {
	return fmt.Sprintf("memory:%s:%s", userID, memoryID)
}

func memoryIndexKey(userID string) string {
	return fmt.Sprintf("memory:%s:index", userID)
}

// Save stores an entry, assigning an id when absent, and returns the
// id. The userID argument owns the entry; any UserID already on it is
// overwritten.
func (s *MemoryStore) Save(ctx context.Context, userID string, entry models.MemoryEntry) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("save memory: empty user id")
	}
	entry.UserID = userID
	if entry.MemoryID == "" {
		entry.MemoryID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, memoryKey(userID, entry.MemoryID), memoryToHash(entry))
	pipe.SAdd(ctx, memoryIndexKey(userID), entry.MemoryID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("save memory %s for %s: %w", entry.MemoryID, userID, err)
	}
	return entry.MemoryID, nil
}

// Get loads one entry.
func (s *MemoryStore) Get(ctx context.Context, userID, memoryID string) (models.MemoryEntry, error) {
	fields, err := s.client.HGetAll(ctx, memoryKey(userID, memoryID)).Result()
	if err != nil {
		return models.MemoryEntry{}, fmt.Errorf("load memory %s for %s: %w", memoryID, userID, err)
	}
	if len(fields) == 0 {
		return models.MemoryEntry{}, fmt.Errorf("memory %s for %s: %w", memoryID, userID, ErrNotFound)
	}
	return memoryFromHash(userID, memoryID, fields), nil
}

// Search returns a user's memories matching the query text and tags,
// most important first. Empty query and tags match everything; limit
// <= 0 means no limit.
func (s *MemoryStore) Search(ctx context.Context, userID, query string, tags []string, limit int) ([]models.MemoryEntry, error) {
	ids, err := s.client.SMembers(ctx, memoryIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("search memories for %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, memoryKey(userID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("search memories for %s: %w", userID, err)
	}

	var matched []models.MemoryEntry
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		entry := memoryFromHash(userID, ids[i], fields)
		if matchesMemory(entry, query, tags) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Importance != matched[j].Importance {
			return matched[i].Importance > matched[j].Importance
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Delete removes one entry and its index reference.
func (s *MemoryStore) Delete(ctx context.Context, userID, memoryID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, memoryKey(userID, memoryID))
	pipe.SRem(ctx, memoryIndexKey(userID), memoryID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete memory %s for %s: %w", memoryID, userID, err)
	}
	return nil
}

func matchesMemory(entry models.MemoryEntry, query string, tags []string) bool {
	if query != "" && !strings.Contains(strings.ToLower(entry.Content), strings.ToLower(query)) {
		return false
	}
	for _, want := range tags {
		found := false
		for _, have := range entry.Tags {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func memoryToHash(entry models.MemoryEntry) map[string]interface{} {
	return map[string]interface{}{
		"content":    entry.Content,
		"tags":       strings.Join(entry.Tags, ","),
		"importance": strconv.FormatFloat(entry.Importance, 'f', -1, 64),
		"embedding":  entry.Embedding,
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func memoryFromHash(userID, id string, fields map[string]string) models.MemoryEntry {
	entry := models.MemoryEntry{
		MemoryID: id,
		UserID:   userID,
		Content:  fields["content"],
	}
	if raw := fields["tags"]; raw != "" {
		entry.Tags = strings.Split(raw, ",")
	}
	entry.Importance, _ = strconv.ParseFloat(fields["importance"], 64)
	if raw := fields["embedding"]; raw != "" {
		entry.Embedding = []byte(raw)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return entry
}
