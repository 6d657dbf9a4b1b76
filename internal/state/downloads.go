package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dethon/Agent-sub012/internal/resourcemon"
)

const downloadsIndexKey = "downloads:index"

var _ resourcemon.StateProvider = (*DownloadStore)(nil)

// Download statuses. The last three are terminal.
const (
	DownloadQueued    = "queued"
	DownloadActive    = "downloading"
	DownloadCompleted = "completed"
	DownloadFailed    = "failed"
	DownloadCancelled = "cancelled"
)

// Download is one tracked background download.
type Download struct {
	ID        string
	Name      string
	Status    string
	Progress  int
	UpdatedAt time.Time
}

// Terminal reports whether the download can still change state.
func (d Download) Terminal() bool {
	return terminalDownloadStatus(d.Status)
}

func terminalDownloadStatus(status string) bool {
	switch status {
	case DownloadCompleted, DownloadFailed, DownloadCancelled:
		return true
	default:
		return false
	}
}

// DownloadURI renders the resource URI for a download id.
func DownloadURI(id string) string {
	return "download://" + id + "/"
}

// ParseDownloadURI extracts the id from a concrete download URI.
func ParseDownloadURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, "download://")
	if !ok {
		return "", false
	}
	id := strings.TrimSuffix(rest, "/")
	if id == "" || strings.ContainsAny(id, "/{}") {
		return "", false
	}
	return id, true
}

// DownloadStore persists download records as one hash per download
// plus an index set, and doubles as the state provider behind
// download:// resource subscriptions.
type DownloadStore struct {
	client *redis.Client
}

// NewDownloadStore builds a download store.
func NewDownloadStore(client *redis.Client) *DownloadStore {
	return &DownloadStore{client: client}
}

func downloadKey(id string) string {
	return "download:" + id
}

// Put upserts a download record.
func (s *DownloadStore) Put(ctx context.Context, d Download) error {
	if d.ID == "" {
		return fmt.Errorf("put download: empty id")
	}
	if d.Status == "" {
		d.Status = DownloadQueued
	}
	d.UpdatedAt = time.Now().UTC()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, downloadKey(d.ID), downloadToHash(d))
	pipe.SAdd(ctx, downloadsIndexKey, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put download %s: %w", d.ID, err)
	}
	return nil
}

// Get loads one download.
func (s *DownloadStore) Get(ctx context.Context, id string) (Download, error) {
	fields, err := s.client.HGetAll(ctx, downloadKey(id)).Result()
	if err != nil {
		return Download{}, fmt.Errorf("load download %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Download{}, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return downloadFromHash(id, fields), nil
}

// List returns all downloads, most recently updated first.
func (s *DownloadStore) List(ctx context.Context) ([]Download, error) {
	ids, err := s.client.SMembers(ctx, downloadsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, downloadKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}

	downloads := make([]Download, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		downloads = append(downloads, downloadFromHash(ids[i], fields))
	}
	sort.Slice(downloads, func(i, j int) bool {
		return downloads[i].UpdatedAt.After(downloads[j].UpdatedAt)
	})
	return downloads, nil
}

// SetStatus updates a download's status and progress.
func (s *DownloadStore) SetStatus(ctx context.Context, id, status string, progress int) error {
	n, err := s.client.Exists(ctx, downloadKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check download %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	err = s.client.HSet(ctx, downloadKey(id),
		"status", status,
		"progress", strconv.Itoa(progress),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("update download %s: %w", id, err)
	}
	return nil
}

// Remove deletes a download record. Subscribed sessions observe the
// disappearance on the next monitor tick.
func (s *DownloadStore) Remove(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, downloadKey(id))
	pipe.SRem(ctx, downloadsIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove download %s: %w", id, err)
	}
	return nil
}

// Lookup reports the monitor-facing state of one download URI.
func (s *DownloadStore) Lookup(ctx context.Context, uri string) (resourcemon.State, bool, error) {
	id, ok := ParseDownloadURI(uri)
	if !ok {
		return resourcemon.State{}, false, fmt.Errorf("malformed download uri %q", uri)
	}
	status, err := s.client.HGet(ctx, downloadKey(id), "status").Result()
	if err == redis.Nil {
		return resourcemon.State{}, false, nil
	}
	if err != nil {
		return resourcemon.State{}, false, fmt.Errorf("lookup download %s: %w", id, err)
	}
	return resourcemon.State{Phase: status, Terminal: terminalDownloadStatus(status)}, true, nil
}

// Expand lists the concrete URIs behind the download template.
func (s *DownloadStore) Expand(ctx context.Context, template string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, downloadsIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("expand %q: %w", template, err)
	}
	uris := make([]string, 0, len(ids))
	for _, id := range ids {
		uris = append(uris, DownloadURI(id))
	}
	return uris, nil
}

func downloadToHash(d Download) map[string]interface{} {
	return map[string]interface{}{
		"name":       d.Name,
		"status":     d.Status,
		"progress":   strconv.Itoa(d.Progress),
		"updated_at": d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func downloadFromHash(id string, fields map[string]string) Download {
	d := Download{
		ID:     id,
		Name:   fields["name"],
		Status: fields["status"],
	}
	d.Progress, _ = strconv.Atoi(fields["progress"])
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return d
}
