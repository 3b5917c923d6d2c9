// Package backup snapshots the kiosk's local state to timestamped JSON files
// so a wiped device can be reconstructed by hand. Retention keeps the newest
// files and prunes the rest only after the new backup is fully written.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"eventreservoir/internal/cache"
	"eventreservoir/internal/domain"
)

const filePrefix = "backup_"

// Document is the on-disk backup shape.
type Document struct {
	Timestamp string                    `json:"timestamp"`
	Attendees []domain.AttendeeSnapshot `json:"attendees"`
	SyncQueue []domain.SyncAction       `json:"syncQueue"`
}

type Exporter struct {
	Store *cache.Store
	Dir   string
	Keep  int
	Log   *slog.Logger
	Now   func() time.Time
}

func New(store *cache.Store, dir string, keep int, log *slog.Logger) *Exporter {
	return &Exporter{Store: store, Dir: dir, Keep: keep, Log: log, Now: time.Now}
}

// Create writes one backup file and prunes old ones. Pruning failures are
// logged, not returned: the new backup already exists.
func (e *Exporter) Create(ctx context.Context) (string, error) {
	attendees, err := e.Store.All(ctx)
	if err != nil {
		return "", fmt.Errorf("read attendees: %w", err)
	}
	queue, err := e.Store.AllActions(ctx)
	if err != nil {
		return "", fmt.Errorf("read sync queue: %w", err)
	}

	now := e.Now().UTC()
	doc := Document{
		Timestamp: now.Format(time.RFC3339),
		Attendees: attendees,
		SyncQueue: queue,
	}
	if doc.Attendees == nil {
		doc.Attendees = []domain.AttendeeSnapshot{}
	}
	if doc.SyncQueue == nil {
		doc.SyncQueue = []domain.SyncAction{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(e.Dir, fileName(now))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	e.Log.Info("backup written", "path", path, "attendees", len(doc.Attendees), "queue", len(doc.SyncQueue))

	if err := e.prune(); err != nil {
		e.Log.Warn("backup prune failed", "err", err)
	}
	return path, nil
}

// fileName derives a filesystem-safe name from the timestamp. Colons and
// dots in RFC 3339 are replaced so the name works on every platform.
func fileName(t time.Time) string {
	ts := t.Format(time.RFC3339)
	ts = strings.ReplaceAll(ts, ":", "-")
	ts = strings.ReplaceAll(ts, ".", "-")
	return filePrefix + ts + ".json"
}

// List returns backup file paths, newest first. The RFC 3339 timestamp in
// the name sorts lexicographically, so name order is time order.
func (e *Exporter) List() ([]string, error) {
	entries, err := os.ReadDir(e.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(e.Dir, name)
	}
	return paths, nil
}

// Read loads one backup document from disk.
func Read(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse backup %s: %w", path, err)
	}
	return doc, nil
}

func (e *Exporter) prune() error {
	if e.Keep <= 0 {
		return nil
	}
	paths, err := e.List()
	if err != nil {
		return err
	}
	for _, path := range paths[min(e.Keep, len(paths)):] {
		if err := os.Remove(path); err != nil {
			return err
		}
		e.Log.Debug("old backup removed", "path", path)
	}
	return nil
}
