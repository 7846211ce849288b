package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"adstream/internal/models"
	"adstream/shared/config"

	"github.com/redis/go-redis/v9"
)

func TestFileStorePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir, 0)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "b", []byte("two")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	reopened, err := NewFileStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if reopened.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reopened.Len())
	}
	got, err := reopened.Get(ctx, "a")
	if err != nil || string(got) != "one" {
		t.Errorf("Get(a) = %q, %v; want one", got, err)
	}
}

func TestFileStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	now := time.Now()
	store.now = func() time.Time { return now }
	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	store.now = func() time.Time { return now.Add(59 * time.Minute) }
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Errorf("Get() before expiry error = %v", err)
	}

	store.now = func() time.Time { return now.Add(time.Hour) }
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestScheduleCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	cache := NewScheduleCache(store, "")

	original := []*models.AdSlot{
		{
			TimestampSeconds: 30,
			DurationSeconds:  30,
			Creative: models.Creative{
				Kind: models.CreativeCatalog, AdID: "ad_001", YouTubeID: "VtvjbmoDx-I",
				Brand: "Apple", Title: "Apple - 1984 (Full Commercial)",
			},
			Reason: "tech audience",
		},
		{
			TimestampSeconds: 75.5,
			DurationSeconds:  8,
			Creative: models.Creative{
				Kind: models.CreativeInline, Brand: "Nimbus", Title: "Cloud Sync",
				Copy: "Your files, everywhere.", CTAURL: "https://example.com", ImagePrompt: "a cloud",
			},
		},
	}
	original[0].HasPlayed = true

	if _, hit, err := cache.Load(ctx, "demo.mp4", "Tech Enthusiast"); err != nil || hit {
		t.Fatalf("Load() before store: hit=%v err=%v", hit, err)
	}

	if err := cache.Store(ctx, "demo.mp4", "Tech Enthusiast", original); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	loaded, hit, err := cache.Load(ctx, "demo.mp4", "Tech Enthusiast")
	if err != nil || !hit {
		t.Fatalf("Load() hit=%v err=%v", hit, err)
	}

	want, _ := json.Marshal(original)
	got, _ := json.Marshal(loaded)
	if !bytes.Equal(want, got) {
		t.Errorf("round trip mismatch:\n got %s\nwant %s", got, want)
	}
	if loaded[0].HasPlayed {
		t.Error("loaded schedule should start unplayed")
	}

	// Other personas must not share the entry
	if _, hit, _ := cache.Load(ctx, "demo.mp4", "Casual Viewer"); hit {
		t.Error("unexpected hit for a different persona")
	}

	if err := cache.Invalidate(ctx, "demo.mp4", "Tech Enthusiast"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, hit, _ := cache.Load(ctx, "demo.mp4", "Tech Enthusiast"); hit {
		t.Error("expected miss after invalidate")
	}
}

func TestScheduleCacheKey(t *testing.T) {
	cache := NewScheduleCache(nil, "")
	if got := cache.Key("demo.mp4", "Tech Enthusiast"); got != config.DefaultCachePrefix+"demo.mp4_Tech Enthusiast" {
		t.Errorf("Key() = %q", got)
	}
	v3 := NewScheduleCache(nil, "ADSTREAM_CACHE_v3_")
	if v3.Key("a", "b") == cache.Key("a", "b") {
		t.Error("different prefixes should produce different keys")
	}
}

func TestScheduleCacheCorruptBlob(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir(), 0)
	cache := NewScheduleCache(store, "")
	if err := store.Set(ctx, cache.Key("v", "p"), []byte("{not json")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, _, err := cache.Load(ctx, "v", "p"); !errors.Is(err, ErrCorruptSchedule) {
		t.Errorf("Load() error = %v, want ErrCorruptSchedule", err)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir(), 0)
	settings := NewSettings(store)

	if key, err := settings.APIKey(ctx); err != nil || key != "" {
		t.Errorf("APIKey() = %q, %v; want empty", key, err)
	}

	if err := settings.Save(ctx, "  ", "m"); err == nil {
		t.Error("expected error for blank key")
	}

	if err := settings.Save(ctx, " secret ", "gemini-2.5-pro"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if key, _ := settings.APIKey(ctx); key != "secret" {
		t.Errorf("APIKey() = %q, want secret", key)
	}
	if model, _ := settings.Model(ctx); model != "gemini-2.5-pro" {
		t.Errorf("Model() = %q, want gemini-2.5-pro", model)
	}

	if err := settings.Save(ctx, "secret", ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if model, _ := settings.Model(ctx); model != "" {
		t.Errorf("Model() = %q, want cleared", model)
	}
}

func TestRedisStoreNamespace(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	if got := NewRedisStoreFromClient(client, "adstream", 0).key("k"); got != "adstream:k" {
		t.Errorf("key() = %q, want adstream:k", got)
	}
	if got := NewRedisStoreFromClient(client, "", 0).key("k"); got != "k" {
		t.Errorf("key() = %q, want k", got)
	}
}

func TestOpenFileBackend(t *testing.T) {
	kv, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendFile, DataDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer kv.Close()
	if _, ok := kv.(*FileStore); !ok {
		t.Errorf("Open() returned %T, want *FileStore", kv)
	}

	if _, err := Open(context.Background(), config.StorageConfig{Backend: "s3"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestOpenAppliesTTL(t *testing.T) {
	ctx := context.Background()
	kv, err := Open(ctx, config.StorageConfig{Backend: config.BackendFile, DataDir: t.TempDir(), TTLHours: 2}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer kv.Close()

	store := kv.(*FileStore)
	now := time.Now()
	store.now = func() time.Time { return now }
	if err := store.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	store.now = func() time.Time { return now.Add(90 * time.Minute) }
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Errorf("Get() inside ttl error = %v", err)
	}
	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after ttl error = %v, want ErrNotFound", err)
	}
}

func TestScheduleCacheKeyIsUnambiguous(t *testing.T) {
	cache := NewScheduleCache(nil, "")
	tests := []struct {
		name string
		a, b [2]string
	}{
		{"Separator in video", [2]string{"intro_clip.mp4", "Gamer"}, [2]string{"intro", "clip.mp4_Gamer"}},
		{"Escape sequence in name", [2]string{"a%5F", "b"}, [2]string{"a_", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := cache.Key(tt.a[0], tt.a[1])
			kb := cache.Key(tt.b[0], tt.b[1])
			if ka == kb {
				t.Errorf("Key(%q, %q) and Key(%q, %q) both = %q", tt.a[0], tt.a[1], tt.b[0], tt.b[1], ka)
			}
		})
	}
}
