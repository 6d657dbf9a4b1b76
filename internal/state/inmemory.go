package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dethon/Agent-sub012/internal/agent"
	"github.com/Dethon/Agent-sub012/internal/resourcemon"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

var (
	_ agent.HistoryStore        = (*MemoryHistoryStore)(nil)
	_ resourcemon.StateProvider = (*MemoryDownloadStore)(nil)
)

// MemoryHistoryStore is an in-memory HistoryStore for tests and
// single-shot runs that should not touch Redis.
type MemoryHistoryStore struct {
	mu    sync.RWMutex
	lists map[string][]models.ChatMessage
}

// NewMemoryHistoryStore creates an in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{lists: make(map[string][]models.ChatMessage)}
}

func (s *MemoryHistoryStore) History(_ context.Context, key models.ConversationKey, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[key.HistoryKey()]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]models.ChatMessage(nil), list...), nil
}

func (s *MemoryHistoryStore) Append(_ context.Context, key models.ConversationKey, msgs ...*models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.HistoryKey()
	for _, msg := range msgs {
		s.lists[k] = append(s.lists[k], *msg)
	}
	return nil
}

func (s *MemoryHistoryStore) Clear(_ context.Context, key models.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key.HistoryKey())
	return nil
}

// MemoryDownloadStore is an in-memory DownloadStore variant, state
// provider included.
type MemoryDownloadStore struct {
	mu        sync.RWMutex
	downloads map[string]Download
}

// NewMemoryDownloadStore creates an in-memory download store.
func NewMemoryDownloadStore() *MemoryDownloadStore {
	return &MemoryDownloadStore{downloads: make(map[string]Download)}
}

func (s *MemoryDownloadStore) Put(_ context.Context, d Download) error {
	if d.ID == "" {
		return fmt.Errorf("put download: empty id")
	}
	if d.Status == "" {
		d.Status = DownloadQueued
	}
	d.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads[d.ID] = d
	return nil
}

func (s *MemoryDownloadStore) Get(_ context.Context, id string) (Download, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.downloads[id]
	if !ok {
		return Download{}, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryDownloadStore) List(_ context.Context) ([]Download, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Download, 0, len(s.downloads))
	for _, d := range s.downloads {
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryDownloadStore) SetStatus(_ context.Context, id, status string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.downloads[id]
	if !ok {
		return fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	d.Status = status
	d.Progress = progress
	d.UpdatedAt = time.Now().UTC()
	s.downloads[id] = d
	return nil
}

func (s *MemoryDownloadStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.downloads, id)
	return nil
}

func (s *MemoryDownloadStore) Lookup(_ context.Context, uri string) (resourcemon.State, bool, error) {
	id, ok := ParseDownloadURI(uri)
	if !ok {
		return resourcemon.State{}, false, fmt.Errorf("malformed download uri %q", uri)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, found := s.downloads[id]
	if !found {
		return resourcemon.State{}, false, nil
	}
	return resourcemon.State{Phase: d.Status, Terminal: d.Terminal()}, true, nil
}

func (s *MemoryDownloadStore) Expand(_ context.Context, _ string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.downloads))
	for id := range s.downloads {
		uris = append(uris, DownloadURI(id))
	}
	return uris, nil
}
