// Package store keeps every watchdog in memory and persists the whole
// collection as a single JSON file.
//
// The file is a JSON object keyed by watchdog id. It is always rewritten in
// full through a temporary file that is renamed over the target, so an
// interrupted write leaves the previous snapshot intact.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/doggo-watch/doggo/internal/watchdog"
)

// ErrPersist wraps failures to write the snapshot.
var ErrPersist = errors.New("persist watchdogs")

// LoadStatus describes how the snapshot was obtained at startup.
type LoadStatus int

// Load outcomes. Every status other than LoadStatusLoaded yields an empty store.
const (
	LoadStatusLoaded LoadStatus = iota
	LoadStatusNotFound
	LoadStatusUnreadable
	LoadStatusCorrupt
)

func (s LoadStatus) String() string {
	switch s {
	case LoadStatusLoaded:
		return "loaded"
	case LoadStatusNotFound:
		return "not_found"
	case LoadStatusUnreadable:
		return "unreadable"
	case LoadStatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LoadResult reports what Load found on disk.
type LoadResult struct {
	Status LoadStatus
	// Err is the underlying cause for unreadable and corrupt snapshots.
	Err error
	// QuarantinedTo is where an unreadable or corrupt snapshot was moved, if
	// moving succeeded.
	QuarantinedTo string
}

// Lossy reports whether data that existed on disk was dropped.
func (r LoadResult) Lossy() bool {
	return r.Status == LoadStatusUnreadable || r.Status == LoadStatusCorrupt
}

// Store owns the watchdog collection. It is not safe for concurrent use; the
// scheduler is its only writer.
type Store struct {
	path      string
	watchdogs map[uuid.UUID]*watchdog.Watchdog
	now       func() time.Time
}

// New returns an empty store persisting to path.
func New(path string) *Store {
	return &Store{
		path:      path,
		watchdogs: make(map[uuid.UUID]*watchdog.Watchdog),
		now:       time.Now,
	}
}

// Load reads the snapshot at path and prepares it for Persist. It never
// fails: a missing, unreadable or corrupt file produces an empty store and a
// LoadResult saying why. The parent directory is created, and an unreadable or
// corrupt file is moved aside so the next Persist does not overwrite it.
func Load(path string) (*Store, LoadResult) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return New(path), LoadResult{Status: LoadStatusUnreadable, Err: fmt.Errorf("create state dir %s: %w", dir, err)}
		}
	}

	s, res := Read(path)
	if res.Lossy() {
		if moved, err := s.quarantine(res.Status); err == nil {
			res.QuarantinedTo = moved
		}
	}
	return s, res
}

// Read decodes the snapshot at path without touching the filesystem. It
// reports the same statuses as Load.
func Read(path string) (*Store, LoadResult) {
	s := New(path)

	// #nosec G304 -- the state path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, LoadResult{Status: LoadStatusNotFound}
		}
		return s, LoadResult{Status: LoadStatusUnreadable, Err: fmt.Errorf("read %s: %w", path, err)}
	}

	watchdogs, err := decode(data)
	if err != nil {
		return s, LoadResult{Status: LoadStatusCorrupt, Err: err}
	}
	s.watchdogs = watchdogs
	return s, LoadResult{Status: LoadStatusLoaded}
}

func decode(data []byte) (map[uuid.UUID]*watchdog.Watchdog, error) {
	var raw map[uuid.UUID]*watchdog.Watchdog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	out := make(map[uuid.UUID]*watchdog.Watchdog, len(raw))
	for id, w := range raw {
		if w == nil {
			return nil, fmt.Errorf("watchdog %s: empty record", id)
		}
		if w.ID != id {
			return nil, fmt.Errorf("watchdog %s: stored under key %s", w.ID, id)
		}
		if w.SeenItems == nil {
			w.SeenItems = make(map[string]watchdog.Sniff)
		}
		if err := w.Validate(); err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, nil
}

func (s *Store) quarantine(status LoadStatus) (string, error) {
	target := fmt.Sprintf("%s.%s-%d", s.path, status, s.now().Unix())
	if err := os.Rename(s.path, target); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", s.path, err)
	}
	return target, nil
}

// Path returns the snapshot location.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of watchdogs.
func (s *Store) Len() int {
	return len(s.watchdogs)
}

// Get returns the watchdog with the given id.
func (s *Store) Get(id uuid.UUID) (*watchdog.Watchdog, bool) {
	w, ok := s.watchdogs[id]
	return w, ok
}

// Watchdogs returns every watchdog ordered by id. The order is stable across
// calls so that cycles enumerate watchdogs the same way each time.
func (s *Store) Watchdogs() []*watchdog.Watchdog {
	out := make([]*watchdog.Watchdog, 0, len(s.watchdogs))
	for _, w := range s.watchdogs {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Merge inserts the given watchdogs whose id is not present yet and returns
// how many were inserted. Existing entries, including their seen items, are
// never overwritten.
func (s *Store) Merge(seeds ...*watchdog.Watchdog) int {
	inserted := 0
	for _, w := range seeds {
		if w == nil {
			continue
		}
		if _, exists := s.watchdogs[w.ID]; exists {
			continue
		}
		s.watchdogs[w.ID] = w
		inserted++
	}
	return inserted
}

// Add inserts a single watchdog, refusing duplicates.
func (s *Store) Add(w *watchdog.Watchdog) error {
	if w == nil {
		return errors.New("watchdog is required")
	}
	if _, exists := s.watchdogs[w.ID]; exists {
		return fmt.Errorf("watchdog %s already exists", w.ID)
	}
	s.watchdogs[w.ID] = w
	return nil
}

// Persist writes the whole collection to disk, replacing the previous snapshot
// atomically.
func (s *Store) Persist() error {
	payload, err := json.MarshalIndent(s.watchdogs, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrPersist, err)
	}
	if err := writeFileAtomic(s.path, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
