package repository

import (
	"github.com/quaffio/quaff/internal/domain"
)

// CacheRepository defines the interface for cache index persistence
type CacheRepository interface {
	// GetByURLHash retrieves an entry by its URL hash.
	// Returns domain.ErrCacheMiss when no entry exists.
	GetByURLHash(urlHash string) (*domain.CacheEntry, error)

	// Upsert inserts the entry or replaces the one with the same URL hash
	Upsert(entry *domain.CacheEntry) error

	// Touch updates the last-used timestamp of an entry
	Touch(id int64) error

	// Delete removes an entry by ID
	Delete(id int64) error

	// List returns all entries ordered by last use, most recent first
	List() ([]*domain.CacheEntry, error)

	// EvictionCandidates returns entries ordered by least recent use
	EvictionCandidates(limit int) ([]*domain.CacheEntry, error)

	// DeleteAll removes every entry and returns the number removed
	DeleteAll() (int64, error)

	// GetStats returns entry count and total payload bytes
	GetStats() (*domain.CacheStats, error)
}
