package state

import (
	"reflect"
	"testing"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

func TestMemoryHashRoundTrip(t *testing.T) {
	in := models.MemoryEntry{
		MemoryID:   "m1",
		UserID:     "u1",
		Content:    "prefers dark mode",
		Tags:       []string{"preference", "ui"},
		Importance: 0.75,
		Embedding:  []byte{0x01, 0x02, 0xff},
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
		UpdatedAt:  time.Now().UTC(),
	}
	out := memoryFromHash(in.UserID, in.MemoryID, hashToStrings(t, memoryToHash(in)))

	if out.MemoryID != in.MemoryID || out.UserID != in.UserID || out.Content != in.Content || out.Importance != in.Importance {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if !reflect.DeepEqual(out.Tags, in.Tags) {
		t.Errorf("tags = %v, want %v", out.Tags, in.Tags)
	}
	if !reflect.DeepEqual(out.Embedding, in.Embedding) {
		t.Errorf("embedding = %v, want %v", out.Embedding, in.Embedding)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || !out.UpdatedAt.Equal(in.UpdatedAt) {
		t.Errorf("timestamps = %v/%v, want %v/%v", out.CreatedAt, out.UpdatedAt, in.CreatedAt, in.UpdatedAt)
	}
}

func TestMemoryHashEmptyOptionals(t *testing.T) {
	out := memoryFromHash("u1", "m2", hashToStrings(t, memoryToHash(models.MemoryEntry{Content: "bare"})))
	if out.Tags != nil {
		t.Errorf("tags = %v, want nil", out.Tags)
	}
	if out.Embedding != nil {
		t.Errorf("embedding = %v, want nil", out.Embedding)
	}
	if out.Importance != 0 {
		t.Errorf("importance = %v, want 0", out.Importance)
	}
}

func TestMatchesMemory(t *testing.T) {
	entry := models.MemoryEntry{
		Content: "User prefers Dark Mode in the evenings",
		Tags:    []string{"Preference", "ui"},
	}
	tests := []struct {
		name  string
		query string
		tags  []string
		want  bool
	}{
		{"empty matches all", "", nil, true},
		{"query case insensitive", "dark mode", nil, true},
		{"query miss", "light mode", nil, false},
		{"tag case insensitive", "", []string{"preference"}, true},
		{"all tags must match", "", []string{"ui", "billing"}, false},
		{"query and tags", "prefers", []string{"UI"}, true},
		{"tag miss with matching query", "prefers", []string{"billing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesMemory(entry, tt.query, tt.tags); got != tt.want {
				t.Errorf("matchesMemory(%q, %v) = %v, want %v", tt.query, tt.tags, got, tt.want)
			}
		})
	}
}
