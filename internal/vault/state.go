package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// WatcherState is the persisted deduplication snapshot: processed natural
// keys grouped by watcher name.
type WatcherState struct {
	Processed map[string][]string `json:"processed"`
}

func emptyWatcherState() *WatcherState {
	return &WatcherState{Processed: map[string][]string{}}
}

// StateBackend persists watcher deduplication state across restarts.
type StateBackend interface {
	Load() (*WatcherState, error)
	Save(state *WatcherState) error
}

// JSONFileStateBackend persists state as a JSON document on disk. Saves
// are atomic (temp file + rename); a missing file loads as empty state.
type JSONFileStateBackend struct {
	path string
}

// NewJSONFileStateBackend creates a backend writing to path.
func NewJSONFileStateBackend(path string) (*JSONFileStateBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: state file path is required", ErrInvalidInput)
	}
	return &JSONFileStateBackend{path: path}, nil
}

// Load reads the state document from disk.
func (b *JSONFileStateBackend) Load() (*WatcherState, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyWatcherState(), nil
		}
		return nil, fmt.Errorf("read state file %s: %w", b.path, err)
	}
	var state WatcherState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", b.path, err)
	}
	if state.Processed == nil {
		state.Processed = map[string][]string{}
	}
	return &state, nil
}

// Save writes the state document to disk atomically.
func (b *JSONFileStateBackend) Save(state *WatcherState) error {
	if state == nil {
		return fmt.Errorf("%w: state must not be nil", ErrInvalidInput)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmpPath := b.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write state file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("finalize state file %s: %w", b.path, err)
	}
	return nil
}

// InMemoryStateBackend holds state in process memory. Deduplication then
// survives watcher restarts but not process restarts; use it for tests
// and explicitly volatile deployments.
type InMemoryStateBackend struct {
	mu    sync.Mutex
	state *WatcherState
}

// NewInMemoryStateBackend creates an empty in-memory backend.
func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

// Load returns a deep copy of the held state.
func (b *InMemoryStateBackend) Load() (*WatcherState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return emptyWatcherState(), nil
	}
	return cloneWatcherState(b.state)
}

// Save stores a deep copy of the given state.
func (b *InMemoryStateBackend) Save(state *WatcherState) error {
	if state == nil {
		return fmt.Errorf("%w: state must not be nil", ErrInvalidInput)
	}
	clone, err := cloneWatcherState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.state = clone
	b.mu.Unlock()
	return nil
}

// cloneWatcherState copies through JSON so callers never share maps with
// the backend.
func cloneWatcherState(state *WatcherState) (*WatcherState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var clone WatcherState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	if clone.Processed == nil {
		clone.Processed = map[string][]string{}
	}
	return &clone, nil
}

// Tracker is the in-process view of processed keys shared by all
// watchers, loaded from its backend once at startup and flushed after
// each materialized batch. Keys are compared verbatim: sanitization for
// file names never feeds back into deduplication.
type Tracker struct {
	backend StateBackend

	mu    sync.Mutex
	seen  map[string]map[string]struct{}
	dirty bool
}

// NewTracker loads a Tracker from backend. A nil backend defaults to an
// in-memory one.
func NewTracker(backend StateBackend) (*Tracker, error) {
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	state, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load watcher state: %w", err)
	}
	if state == nil {
		state = emptyWatcherState()
	}
	seen := make(map[string]map[string]struct{}, len(state.Processed))
	for watcher, keys := range state.Processed {
		set := make(map[string]struct{}, len(keys))
		for _, key := range keys {
			set[key] = struct{}{}
		}
		seen[watcher] = set
	}
	return &Tracker{backend: backend, seen: seen}, nil
}

// Seen reports whether the key was already processed by the named watcher.
func (t *Tracker) Seen(watcher, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[watcher][key]
	return ok
}

// Mark records the key as processed in memory. The change reaches the
// backend on the next Flush.
func (t *Tracker) Mark(watcher, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.seen[watcher]
	if !ok {
		set = make(map[string]struct{})
		t.seen[watcher] = set
	}
	if _, ok := set[key]; !ok {
		set[key] = struct{}{}
		t.dirty = true
	}
}

// Flush saves the current state through the backend if anything changed
// since the last flush.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	state := &WatcherState{Processed: make(map[string][]string, len(t.seen))}
	for watcher, set := range t.seen {
		keys := make([]string, 0, len(set))
		for key := range set {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		state.Processed[watcher] = keys
	}
	if err := t.backend.Save(state); err != nil {
		return fmt.Errorf("save watcher state: %w", err)
	}
	t.dirty = false
	return nil
}
