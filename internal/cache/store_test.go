package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestStorePutAndGet(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	store := newTestStore(t, Options{Now: clock.Now})
	key := OriginalKey("https://img.example.com/a.jpg")

	payload := []byte("payload")
	entry, err := store.Put(context.Background(), key, payload)
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if entry.Name != key.Name() || entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	blob, ok, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(blob.Data) != string(payload) {
		t.Fatalf("cached payload mismatch: %s", string(blob.Data))
	}
	if blob.Entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", blob.Entry.SizeBytes)
	}
	if blob.Entry.ModTime.Unix() != clock.Now().Unix() {
		t.Fatalf("modtime mismatch: expected %v got %v", clock.Now(), blob.Entry.ModTime)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t, Options{})
	_, ok, err := store.Get(context.Background(), OriginalKey("https://img.example.com/missing.png"))
	if err != nil {
		t.Fatalf("miss should not be an error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestStoreRemove(t *testing.T) {
	store := newTestStore(t, Options{})
	key := ResizedKey("https://img.example.com/remove.jpg", 100, 0, false)
	if _, err := store.Put(context.Background(), key, []byte("data")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if err := store.Remove(context.Background(), key); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), key); ok {
		t.Fatalf("expected miss after remove")
	}
	if stats := store.Stats(); stats.Entries != 0 || stats.TotalBytes != 0 {
		t.Fatalf("index should be empty after remove: %+v", stats)
	}
}

func TestStoreIgnoresDirectories(t *testing.T) {
	store := newTestStore(t, Options{})
	key := OriginalKey("https://img.example.com/dir")

	ds, ok := store.(*diskStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	if err := os.MkdirAll(ds.blobPath(key.Name()), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, ok, err := store.Get(context.Background(), key); ok || err != nil {
		t.Fatalf("expected miss for directory, got ok=%v err=%v", ok, err)
	}
}

func TestKeysAreDeterministic(t *testing.T) {
	url := "https://img.example.com/photo.jpg"

	if OriginalKey(url).Name() != OriginalKey(url).Name() {
		t.Fatalf("original key should be stable")
	}
	if ResizedKey(url, 400, 300, false).Name() != ResizedKey(url, 400, 300, false).Name() {
		t.Fatalf("resized key should be stable")
	}
	if ResizedKey(url, 400, 300, false).Name() == ResizedKey(url, 400, 301, false).Name() {
		t.Fatalf("different dimensions must not collide")
	}
	if ResizedKey(url, 400, 0, false).Raw != url+"|400|0" {
		t.Fatalf("unexpected raw key %q", ResizedKey(url, 400, 0, false).Raw)
	}

	if got := OriginalKey(url).Name(); !strings.HasSuffix(got, ".img") || len(got) != 64+4 {
		t.Fatalf("unexpected original name %s", got)
	}
	if got := ResizedKey(url, 1, 1, false).Name(); !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("resized blob should use .jpg, got %s", got)
	}
	png := ResizedKey(url, 1, 1, true)
	if !strings.HasSuffix(png.Name(), ".png") || !strings.HasSuffix(png.Raw, "|png") {
		t.Fatalf("png variant mismatch: %+v", png)
	}
}

func TestStoreSecondLookupHits(t *testing.T) {
	store := newTestStore(t, Options{})
	key := ResizedKey("https://img.example.com/b.jpg", 200, 200, false)

	if _, ok, _ := store.Get(context.Background(), key); ok {
		t.Fatalf("first lookup should miss")
	}
	if _, err := store.Put(context.Background(), key, []byte("resized")); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), key); !ok {
		t.Fatalf("second lookup should hit")
	}
}

func TestStoreDropsStaleIndexEntry(t *testing.T) {
	store := newTestStore(t, Options{})
	key := OriginalKey("https://img.example.com/stale.gif")
	if _, err := store.Put(context.Background(), key, []byte("gif-bytes")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	ds := store.(*diskStore)
	if err := os.Remove(ds.blobPath(key.Name())); err != nil {
		t.Fatalf("remove blob: %v", err)
	}

	if _, ok, err := store.Get(context.Background(), key); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if stats := store.Stats(); stats.Entries != 0 || stats.TotalBytes != 0 {
		t.Fatalf("stale entry should be removed: %+v", stats)
	}
}

func TestStoreAdoptsUntrackedBlob(t *testing.T) {
	store := newTestStore(t, Options{})
	key := OriginalKey("https://img.example.com/adopt.png")

	ds := store.(*diskStore)
	if err := os.WriteFile(ds.blobPath(key.Name()), []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}

	blob, ok, err := store.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("expected adopted hit, got ok=%v err=%v", ok, err)
	}
	if blob.Entry.SizeBytes != 10 {
		t.Fatalf("adopted size mismatch: %d", blob.Entry.SizeBytes)
	}
	if stats := store.Stats(); stats.Entries != 1 || stats.TotalBytes != 10 {
		t.Fatalf("adopted blob should be indexed: %+v", stats)
	}
}

func TestStorePutFailureLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t, Options{})
	key := OriginalKey("https://img.example.com/blocked.jpg")

	ds := store.(*diskStore)
	// 目标路径被目录占用时 rename 必然失败。
	if err := os.MkdirAll(filepath.Join(ds.blobPath(key.Name()), "child"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	if _, err := store.Put(context.Background(), key, []byte("data")); err == nil {
		t.Fatalf("expected put to fail")
	}

	items, err := os.ReadDir(ds.dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, item := range items {
		if strings.HasPrefix(item.Name(), ".cache-") {
			t.Fatalf("temp file left behind: %s", item.Name())
		}
	}
	if stats := store.Stats(); stats.Entries != 0 {
		t.Fatalf("failed put must not be indexed: %+v", stats)
	}
}

func TestStoreTouchKeepsFileModTime(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	store := newTestStore(t, Options{Now: clock.Now})
	key := OriginalKey("https://img.example.com/touch.jpg")
	written := clock.Now()

	if _, err := store.Put(context.Background(), key, []byte("data")); err != nil {
		t.Fatalf("put error: %v", err)
	}

	clock.Advance(time.Hour)
	blob, ok, err := store.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if blob.Entry.ModTime.Unix() != written.Unix() {
		t.Fatalf("hit must not change modtime: %v", blob.Entry.ModTime)
	}

	ds := store.(*diskStore)
	entry, _ := ds.index.Lookup(key.Name())
	if !entry.LastAccess.Equal(clock.Now()) {
		t.Fatalf("last access should follow the hit: %v", entry.LastAccess)
	}
}

func TestStoreConcurrentPutGet(t *testing.T) {
	store := newTestStore(t, Options{MaxBytes: 64})
	key := ResizedKey("https://img.example.com/race.jpg", 10, 10, false)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Put(context.Background(), key, []byte("0123456789")); err != nil {
				t.Errorf("put error: %v", err)
			}
			if blob, ok, err := store.Get(context.Background(), key); err != nil || (ok && len(blob.Data) != 10) {
				t.Errorf("partial read: ok=%v err=%v", ok, err)
			}
		}()
	}
	wg.Wait()

	if stats := store.Stats(); stats.TotalBytes != 10 || stats.Entries != 1 {
		t.Fatalf("unexpected stats after concurrent writes: %+v", stats)
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T, opts Options) Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	store, err := NewStore(opts)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
