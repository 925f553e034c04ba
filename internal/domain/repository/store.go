package repository

// Store combines all repository interfaces
type Store interface {
	CacheRepository

	// GetMeta returns the value stored under key, or "" when absent
	GetMeta(key string) (string, error)

	// SetMeta stores value under key, replacing any previous value
	SetMeta(key, value string) error

	// Close closes the database connection
	Close() error

	// Ping checks database connectivity
	Ping() error
}
