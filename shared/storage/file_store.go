package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps every key in a single JSON document on disk
type FileStore struct {
	filePath string
	entries  map[string]storedEntry
	mu       sync.RWMutex
	maxAge   time.Duration
	now      func() time.Time
}

type storedEntry struct {
	value     []byte
	updatedAt time.Time
}

// StoredValue is the on-disk form of one key
type StoredValue struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileStore opens (or creates) the store under dataDir. Entries older than
// maxAge are dropped on open; a zero maxAge keeps everything.
func NewFileStore(dataDir string, maxAge time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fs := &FileStore{
		filePath: filepath.Join(dataDir, "adstream_store.json"),
		entries:  make(map[string]storedEntry),
		maxAge:   maxAge,
		now:      time.Now,
	}

	if err := fs.load(); err != nil {
		return nil, fmt.Errorf("failed to load store data: %w", err)
	}

	fs.cleanup()

	return fs, nil
}

func (fs *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entry, ok := fs.entries[key]
	if !ok || fs.expired(entry) {
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (fs *FileStore) Set(_ context.Context, key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	fs.entries[key] = storedEntry{value: v, updatedAt: fs.now()}
	return fs.save()
}

func (fs *FileStore) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.entries[key]; !ok {
		return nil
	}
	delete(fs.entries, key)
	return fs.save()
}

// Len returns the number of stored keys
func (fs *FileStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.entries)
}

func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) expired(e storedEntry) bool {
	return fs.maxAge > 0 && fs.now().Sub(e.updatedAt) >= fs.maxAge
}

func (fs *FileStore) cleanup() {
	for key, entry := range fs.entries {
		if fs.expired(entry) {
			delete(fs.entries, key)
		}
	}
}

func (fs *FileStore) load() error {
	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open store file: %w", err)
	}
	defer file.Close()

	var stored []StoredValue
	if err := json.NewDecoder(file).Decode(&stored); err != nil {
		return fmt.Errorf("failed to decode store data: %w", err)
	}

	for _, sv := range stored {
		fs.entries[sv.Key] = storedEntry{value: []byte(sv.Value), updatedAt: sv.UpdatedAt}
	}

	return nil
}

// save writes through a temp file and renames it over the target so a crash
// never leaves a half-written store behind. Callers hold the write lock.
func (fs *FileStore) save() error {
	stored := make([]StoredValue, 0, len(fs.entries))
	for key, entry := range fs.entries {
		stored = append(stored, StoredValue{Key: key, Value: string(entry.value), UpdatedAt: entry.updatedAt})
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Key < stored[j].Key })

	tmp, err := os.CreateTemp(filepath.Dir(fs.filePath), ".adstream-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(stored); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to encode store data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync store data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
