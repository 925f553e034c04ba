package sqlite

import (
	"database/sql"

	"github.com/quaffio/quaff/internal/domain"
)

const cacheEntryColumns = `id, url_hash, url, file_name, path, size, checksum, created_at, last_used_at`

// GetByURLHash retrieves an entry by its URL hash
func (s *Store) GetByURLHash(urlHash string) (*domain.CacheEntry, error) {
	query := `
		SELECT ` + cacheEntryColumns + `
		FROM cache_entries
		WHERE url_hash = ?
	`

	entry := &domain.CacheEntry{}
	err := s.db.QueryRow(query, urlHash).Scan(
		&entry.ID, &entry.URLHash, &entry.URL, &entry.Filename, &entry.Path,
		&entry.Size, &entry.Checksum, &entry.CreatedAt, &entry.LastUsedAt,
	)

	if err == sql.ErrNoRows {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Upsert inserts the entry or replaces the one with the same URL hash
func (s *Store) Upsert(entry *domain.CacheEntry) error {
	query := `
		INSERT INTO cache_entries (url_hash, url, file_name, path, size, checksum, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			url = excluded.url,
			file_name = excluded.file_name,
			path = excluded.path,
			size = excluded.size,
			checksum = excluded.checksum,
			last_used_at = excluded.last_used_at
	`

	_, err := s.db.Exec(
		query,
		entry.URLHash, entry.URL, entry.Filename, entry.Path,
		entry.Size, entry.Checksum, entry.CreatedAt, entry.LastUsedAt,
	)
	if err != nil {
		return err
	}

	// LastInsertId is unreliable across the conflict path, read it back
	return s.db.QueryRow(
		"SELECT id FROM cache_entries WHERE url_hash = ?", entry.URLHash,
	).Scan(&entry.ID)
}

// Touch updates the last-used timestamp of an entry
func (s *Store) Touch(id int64) error {
	_, err := s.db.Exec(
		"UPDATE cache_entries SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?", id,
	)
	return err
}

// Delete removes an entry by ID
func (s *Store) Delete(id int64) error {
	_, err := s.db.Exec("DELETE FROM cache_entries WHERE id = ?", id)
	return err
}

// List returns all entries ordered by last use, most recent first
func (s *Store) List() ([]*domain.CacheEntry, error) {
	query := `
		SELECT ` + cacheEntryColumns + `
		FROM cache_entries
		ORDER BY last_used_at DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// EvictionCandidates returns entries ordered by least recent use
func (s *Store) EvictionCandidates(limit int) ([]*domain.CacheEntry, error) {
	query := `
		SELECT ` + cacheEntryColumns + `
		FROM cache_entries
		ORDER BY last_used_at ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanEntries(rows)
}

// DeleteAll removes every entry and returns the number removed
func (s *Store) DeleteAll() (int64, error) {
	result, err := s.db.Exec("DELETE FROM cache_entries")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetStats returns entry count and total payload bytes
func (s *Store) GetStats() (*domain.CacheStats, error) {
	stats := &domain.CacheStats{}

	err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries").Scan(&stats.Entries)
	if err != nil {
		return nil, err
	}

	var totalSize sql.NullInt64
	err = s.db.QueryRow("SELECT SUM(size) FROM cache_entries").Scan(&totalSize)
	if err != nil {
		return nil, err
	}
	stats.TotalBytes = totalSize.Int64

	return stats, nil
}

// scanEntries is a helper to scan multiple cache entry rows
func (s *Store) scanEntries(rows *sql.Rows) ([]*domain.CacheEntry, error) {
	var entries []*domain.CacheEntry

	for rows.Next() {
		entry := &domain.CacheEntry{}

		err := rows.Scan(
			&entry.ID, &entry.URLHash, &entry.URL, &entry.Filename, &entry.Path,
			&entry.Size, &entry.Checksum, &entry.CreatedAt, &entry.LastUsedAt,
		)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
