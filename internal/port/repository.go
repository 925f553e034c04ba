package port

import (
	"github.com/quaffio/quaff/internal/domain/repository"
)

// CacheRepository is an alias to the domain repository interface
type CacheRepository = repository.CacheRepository

// Store is an alias to the domain repository interface
type Store = repository.Store
