package cachekeeper

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/port"
)

// mockStore implements port.Store for testing
type mockStore struct {
	entries map[string]*domain.CacheEntry // keyed by url hash
	meta    map[string]string
	nextID  int64

	touched   []int64
	deleted   []int64
	listCalls int
	candCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		entries: make(map[string]*domain.CacheEntry),
		meta:    make(map[string]string),
	}
}

// add seeds an entry directly into the index
func (m *mockStore) add(url, path string, size int64, lastUsed time.Time) *domain.CacheEntry {
	m.nextID++
	entry := &domain.CacheEntry{
		ID:         m.nextID,
		URLHash:    domain.HashURL(url),
		URL:        url,
		Filename:   filepath.Base(path),
		Path:       path,
		Size:       size,
		CreatedAt:  lastUsed,
		LastUsedAt: lastUsed,
	}
	m.entries[entry.URLHash] = entry
	return entry
}

func (m *mockStore) GetByURLHash(urlHash string) (*domain.CacheEntry, error) {
	entry, ok := m.entries[urlHash]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	cp := *entry
	return &cp, nil
}

func (m *mockStore) Upsert(entry *domain.CacheEntry) error {
	if existing, ok := m.entries[entry.URLHash]; ok {
		entry.ID = existing.ID
	} else {
		m.nextID++
		entry.ID = m.nextID
	}
	cp := *entry
	m.entries[entry.URLHash] = &cp
	return nil
}

func (m *mockStore) Touch(id int64) error {
	m.touched = append(m.touched, id)
	return nil
}

func (m *mockStore) Delete(id int64) error {
	m.deleted = append(m.deleted, id)
	for hash, entry := range m.entries {
		if entry.ID == id {
			delete(m.entries, hash)
			return nil
		}
	}
	return nil
}

func (m *mockStore) List() ([]*domain.CacheEntry, error) {
	m.listCalls++
	entries := m.sorted()
	// Most recent first
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastUsedAt.After(entries[j].LastUsedAt) })
	return entries, nil
}

func (m *mockStore) EvictionCandidates(limit int) ([]*domain.CacheEntry, error) {
	m.candCalls++
	entries := m.sorted()
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *mockStore) DeleteAll() (int64, error) {
	n := int64(len(m.entries))
	m.entries = make(map[string]*domain.CacheEntry)
	return n, nil
}

func (m *mockStore) GetStats() (*domain.CacheStats, error) {
	stats := &domain.CacheStats{}
	for _, entry := range m.entries {
		stats.Entries++
		stats.TotalBytes += entry.Size
	}
	return stats, nil
}

func (m *mockStore) GetMeta(key string) (string, error)  { return m.meta[key], nil }
func (m *mockStore) SetMeta(key, value string) error     { m.meta[key] = value; return nil }
func (m *mockStore) Close() error                        { return nil }
func (m *mockStore) Ping() error                         { return nil }

// sorted returns copies of all entries, least recently used first
func (m *mockStore) sorted() []*domain.CacheEntry {
	var entries []*domain.CacheEntry
	for _, entry := range m.entries {
		cp := *entry
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastUsedAt.Before(entries[j].LastUsedAt) })
	return entries
}

// mockFileSystem implements port.FileSystem for testing
type mockFileSystem struct {
	files      map[string]int64 // path -> size
	usage      *port.DiskUsage
	removed    []string
	dirs       []string
	copyErr    error
	truncateTo int64 // when set, CopyFile delivers this many bytes instead
}

func newMockFileSystem() *mockFileSystem {
	return &mockFileSystem{
		files: make(map[string]int64),
		usage: &port.DiskUsage{
			Total:   1000,
			Used:    100,
			Free:    900,
			UsedPct: 10,
		},
	}
}

func (m *mockFileSystem) FileExists(path string) bool {
	_, ok := m.files[path]
	return ok
}

func (m *mockFileSystem) FileSize(path string) (int64, error) {
	size, ok := m.files[path]
	if !ok {
		return 0, os.ErrNotExist
	}
	return size, nil
}

func (m *mockFileSystem) Remove(path string) error {
	m.removed = append(m.removed, path)
	delete(m.files, path)
	return nil
}

func (m *mockFileSystem) CopyFile(src, dst string) (int64, error) {
	if m.copyErr != nil {
		return 0, m.copyErr
	}
	size, ok := m.files[src]
	if !ok {
		return 0, os.ErrNotExist
	}
	if m.truncateTo > 0 {
		size = m.truncateTo
	}
	m.files[dst] = size
	return size, nil
}

func (m *mockFileSystem) EnsureDir(dir string) error {
	m.dirs = append(m.dirs, dir)
	return nil
}

func (m *mockFileSystem) DiskUsage(path string) (*port.DiskUsage, error) {
	return m.usage, nil
}

// Stub implementations for staging-side methods the keeper never uses
func (m *mockFileSystem) StagingPath(finalPath string) string { return finalPath + ".partial" }
func (m *mockFileSystem) OpenStaging(finalPath string, offset int64) (port.StagingWriter, error) {
	return nil, nil
}
func (m *mockFileSystem) StagingInfo(finalPath string) (int64, time.Time, error) {
	return 0, time.Time{}, nil
}
func (m *mockFileSystem) DiscardStaging(finalPath string) error { return nil }
func (m *mockFileSystem) OpenStagingRead(finalPath string) (io.ReadCloser, error) {
	return nil, nil
}
func (m *mockFileSystem) SweepStaging(dir string, olderThan time.Duration) (int, error) {
	return 0, nil
}

func TestKeeper_RestoreHit(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	url := "https://example.com/file.bin"
	payload := "/cache/files/abc/file.bin"
	fs.files[payload] = 100
	entry := store.add(url, payload, 100, time.Now())

	k := New(&Config{Dir: "/cache"}, store, fs, nil)

	dest, got, err := k.Restore(url, "/downloads", "")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if dest != filepath.Join("/downloads", "file.bin") {
		t.Errorf("dest = %q, want %q", dest, "/downloads/file.bin")
	}
	if got.ID != entry.ID {
		t.Errorf("entry ID = %d, want %d", got.ID, entry.ID)
	}
	if !fs.FileExists(dest) {
		t.Error("destination not written")
	}
	if len(store.touched) != 1 || store.touched[0] != entry.ID {
		t.Errorf("touched = %v, want [%d]", store.touched, entry.ID)
	}
}

func TestKeeper_RestoreOverrideFilename(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	url := "https://example.com/file.bin"
	payload := "/cache/files/abc/file.bin"
	fs.files[payload] = 50
	store.add(url, payload, 50, time.Now())

	k := New(&Config{Dir: "/cache"}, store, fs, nil)

	dest, _, err := k.Restore(url, "/downloads", "renamed.dat")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if dest != filepath.Join("/downloads", "renamed.dat") {
		t.Errorf("dest = %q, want the override name", dest)
	}
}

func TestKeeper_RestoreMiss(t *testing.T) {
	k := New(&Config{Dir: "/cache"}, newMockStore(), newMockFileSystem(), nil)

	_, _, err := k.Restore("https://example.com/never-cached", "/downloads", "")
	if !errors.Is(err, domain.ErrCacheMiss) {
		t.Errorf("Restore() error = %v, want ErrCacheMiss", err)
	}
}

func TestKeeper_RestoreStalePayload(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	url := "https://example.com/file.bin"
	// Index entry exists but the payload file is gone
	entry := store.add(url, "/cache/files/abc/file.bin", 100, time.Now())

	k := New(&Config{Dir: "/cache"}, store, fs, nil)

	_, _, err := k.Restore(url, "/downloads", "")
	if !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("Restore() error = %v, want ErrCacheMiss", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != entry.ID {
		t.Errorf("deleted = %v, want the stale entry dropped", store.deleted)
	}
}

func TestKeeper_RestoreTruncatedPayload(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	url := "https://example.com/file.bin"
	payload := "/cache/files/abc/file.bin"
	fs.files[payload] = 100
	fs.truncateTo = 60
	entry := store.add(url, payload, 100, time.Now())

	k := New(&Config{Dir: "/cache"}, store, fs, nil)

	_, _, err := k.Restore(url, "/downloads", "")
	if !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("Restore() error = %v, want ErrCacheMiss", err)
	}

	if len(store.deleted) != 1 || store.deleted[0] != entry.ID {
		t.Errorf("deleted = %v, want the truncated entry dropped", store.deleted)
	}

	dest := filepath.Join("/downloads", "file.bin")
	if fs.FileExists(dest) {
		t.Error("truncated copy left at destination")
	}
}

func TestKeeper_Store(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	url := "https://example.com/file.bin"
	src := "/downloads/file.bin"
	fs.files[src] = 200

	k := New(&Config{Dir: "/cache", MaxSizeBytes: 1000}, store, fs, nil)

	entry, err := k.Store(context.Background(), url, src, "cafe01")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	wantPath := filepath.Join("/cache", "files", domain.HashURL(url), "file.bin")
	if entry.Path != wantPath {
		t.Errorf("Path = %q, want %q", entry.Path, wantPath)
	}
	if entry.Size != 200 {
		t.Errorf("Size = %d, want 200", entry.Size)
	}
	if entry.Checksum != "cafe01" {
		t.Errorf("Checksum = %q, want %q", entry.Checksum, "cafe01")
	}
	if !fs.FileExists(wantPath) {
		t.Error("payload not copied into the cache")
	}
	if _, err := store.GetByURLHash(domain.HashURL(url)); err != nil {
		t.Errorf("entry not indexed: %v", err)
	}
}

func TestKeeper_StoreFileExceedsBudget(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	src := "/downloads/huge.bin"
	fs.files[src] = 5000

	k := New(&Config{Dir: "/cache", MaxSizeBytes: 1000}, store, fs, nil)

	_, err := k.Store(context.Background(), "https://example.com/huge.bin", src, "")
	if !errors.Is(err, domain.ErrInsufficientSpace) {
		t.Fatalf("Store() error = %v, want ErrInsufficientSpace", err)
	}
	if stats, _ := store.GetStats(); stats.Entries != 0 {
		t.Error("oversized file was indexed anyway")
	}
}

func TestKeeper_StoreEvictsLeastRecentlyUsed(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()
	now := time.Now()

	oldPayload := "/cache/files/old/a.bin"
	fs.files[oldPayload] = 600
	oldest := store.add("https://example.com/a.bin", oldPayload, 600, now.Add(-3*time.Hour))

	freshPayload := "/cache/files/fresh/b.bin"
	fs.files[freshPayload] = 300
	store.add("https://example.com/b.bin", freshPayload, 300, now.Add(-time.Minute))

	src := "/downloads/new.bin"
	fs.files[src] = 300

	k := New(&Config{Dir: "/cache", MaxSizeBytes: 1000}, store, fs, nil)

	entry, err := k.Store(context.Background(), "https://example.com/new.bin", src, "")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if entry == nil {
		t.Fatal("Store() returned nil entry")
	}

	if len(store.deleted) != 1 || store.deleted[0] != oldest.ID {
		t.Errorf("deleted = %v, want only the least recently used entry %d", store.deleted, oldest.ID)
	}
	if fs.FileExists(oldPayload) {
		t.Error("evicted payload still on disk")
	}
	if !fs.FileExists(freshPayload) {
		t.Error("fresh entry evicted, want it kept")
	}

	stats, _ := store.GetStats()
	if stats.TotalBytes != 600 {
		t.Errorf("TotalBytes = %d, want 600 (300 kept + 300 stored)", stats.TotalBytes)
	}
}

func TestKeeper_StoreEvictionRateLimited(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	// Over budget with nothing to evict
	full := "/cache/files/x/full.bin"
	fs.files[full] = 900
	store.add("https://example.com/full.bin", full, 900, time.Now())

	src := "/downloads/new.bin"
	fs.files[src] = 900

	k := New(&Config{Dir: "/cache", MaxSizeBytes: 1000, EvictionInterval: time.Minute}, store, fs, nil)

	// First attempt runs an eviction sweep, which empties the cache and
	// still succeeds
	if _, err := k.Store(context.Background(), "https://example.com/new.bin", src, ""); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	firstCandCalls := store.candCalls

	// Refill and retry immediately: the sweep is rate-limited now
	fs.files["/cache/files/y/again.bin"] = 900
	store.add("https://example.com/again.bin", "/cache/files/y/again.bin", 900, time.Now())
	src2 := "/downloads/other.bin"
	fs.files[src2] = 900

	_, err := k.Store(context.Background(), "https://example.com/other.bin", src2, "")
	if !errors.Is(err, domain.ErrInsufficientSpace) {
		t.Fatalf("Store() error = %v, want ErrInsufficientSpace while rate-limited", err)
	}
	if store.candCalls != firstCandCalls {
		t.Errorf("candCalls = %d, want %d (rate-limited sweep must not run)", store.candCalls, firstCandCalls)
	}
}

func TestKeeper_StoreDiskCeiling(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()
	fs.usage = &port.DiskUsage{Total: 1000, Used: 950, Free: 50, UsedPct: 95}

	src := "/downloads/file.bin"
	fs.files[src] = 10

	k := New(&Config{Dir: "/cache", MaxSizeBytes: 1000, MaxDiskUsagePercent: 90}, store, fs, nil)

	_, err := k.Store(context.Background(), "https://example.com/file.bin", src, "")
	if !errors.Is(err, domain.ErrInsufficientSpace) {
		t.Fatalf("Store() error = %v, want ErrInsufficientSpace at the disk ceiling", err)
	}
}

func TestKeeper_Clear(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	for i, url := range []string{"https://e.com/1", "https://e.com/2"} {
		path := filepath.Join("/cache/files", domain.HashURL(url), "f.bin")
		fs.files[path] = int64(100 * (i + 1))
		store.add(url, path, int64(100*(i+1)), time.Now())
	}

	k := New(&Config{Dir: "/cache"}, store, fs, nil)

	removed, err := k.Clear()
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Clear() = %d, want 2", removed)
	}

	stats, _ := store.GetStats()
	if stats.Entries != 0 {
		t.Errorf("Entries = %d after Clear, want 0", stats.Entries)
	}
	for path := range fs.files {
		t.Errorf("payload %s survives Clear", path)
	}
}

func TestKeeper_PruneForce(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()
	now := time.Now()

	oldPayload := "/cache/files/old/a.bin"
	fs.files[oldPayload] = 100
	old := store.add("https://e.com/old", oldPayload, 100, now.Add(-48*time.Hour))

	freshPayload := "/cache/files/fresh/b.bin"
	fs.files[freshPayload] = 100
	store.add("https://e.com/fresh", freshPayload, 100, now.Add(-time.Hour))

	k := New(&Config{Dir: "/cache", MaxEntryAge: 24 * time.Hour}, store, fs, nil)

	pruned, err := k.Prune(context.Background(), true)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() = %d, want 1", pruned)
	}
	if len(store.deleted) != 1 || store.deleted[0] != old.ID {
		t.Errorf("deleted = %v, want only the expired entry", store.deleted)
	}
	if fs.FileExists(oldPayload) {
		t.Error("expired payload still on disk")
	}
	if !fs.FileExists(freshPayload) {
		t.Error("fresh payload pruned, want it kept")
	}

	recorded, _ := store.GetMeta("last_prune_at")
	if _, err := time.Parse(time.RFC3339, recorded); err != nil {
		t.Errorf("last_prune_at = %q, want an RFC3339 timestamp", recorded)
	}
}

func TestKeeper_PrunePacing(t *testing.T) {
	store := newMockStore()
	fs := newMockFileSystem()

	k := New(&Config{Dir: "/cache", MaxEntryAge: 24 * time.Hour, PruneInterval: time.Hour}, store, fs, nil)

	// A recent prune defers the next opportunistic one
	store.meta["last_prune_at"] = time.Now().UTC().Format(time.RFC3339)
	pruned, err := k.Prune(context.Background(), false)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 0 || store.listCalls != 0 {
		t.Errorf("Prune() = %d with %d list calls, want a paced no-op", pruned, store.listCalls)
	}

	// A stale prune timestamp lets the sweep run
	store.meta["last_prune_at"] = time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	if _, err := k.Prune(context.Background(), false); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if store.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1 after the interval elapsed", store.listCalls)
	}
}

func TestKeeper_PruneDisabled(t *testing.T) {
	store := newMockStore()
	store.add("https://e.com/ancient", "/cache/files/x/a.bin", 100, time.Now().Add(-1000*time.Hour))

	k := New(&Config{Dir: "/cache", MaxEntryAge: -1}, store, newMockFileSystem(), nil)

	pruned, err := k.Prune(context.Background(), true)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 0 {
		t.Errorf("Prune() = %d with MaxEntryAge disabled, want 0", pruned)
	}
}

func TestKeeper_Stats(t *testing.T) {
	store := newMockStore()
	store.add("https://e.com/a", "/p/a", 100, time.Now())
	store.add("https://e.com/b", "/p/b", 150, time.Now())

	k := New(&Config{Dir: "/cache"}, store, newMockFileSystem(), nil)

	stats, err := k.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 2 || stats.TotalBytes != 250 {
		t.Errorf("Stats() = %+v, want 2 entries, 250 bytes", stats)
	}
}
