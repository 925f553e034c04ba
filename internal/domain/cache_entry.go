package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CacheEntry represents one completed download kept in the local cache.
// Entries are keyed by the SHA-256 of the source URL so lookups never
// depend on filename collisions.
type CacheEntry struct {
	ID         int64
	URLHash    string
	URL        string
	Filename   string
	Path       string
	Size       int64
	Checksum   string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// HashURL returns the hex SHA-256 digest used as the cache key for a URL
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// NewCacheEntry creates a cache entry for a freshly completed download
func NewCacheEntry(url, filename, path string, size int64, checksum string) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		URLHash:    HashURL(url),
		URL:        url,
		Filename:   filename,
		Path:       path,
		Size:       size,
		Checksum:   checksum,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

// Touch records a cache hit
func (e *CacheEntry) Touch() {
	e.LastUsedAt = time.Now()
}

// OlderThan returns true if the entry has not been used within maxAge
func (e *CacheEntry) OlderThan(maxAge time.Duration) bool {
	return time.Since(e.LastUsedAt) > maxAge
}

// CacheStats represents download cache statistics
type CacheStats struct {
	Entries    int64
	TotalBytes int64
}
