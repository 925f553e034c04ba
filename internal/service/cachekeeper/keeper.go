package cachekeeper

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/port"
	"github.com/quaffio/quaff/internal/util/ratelimiter"
)

// payloadSubdir is the directory under the cache root holding payload
// files, one subdirectory per URL hash.
const payloadSubdir = "files"

// metaLastPrune is the meta key recording the last completed prune.
const metaLastPrune = "last_prune_at"

// Config contains keeper configuration
type Config struct {
	// Dir is the cache root. Payloads live under Dir/files/<urlhash>/.
	Dir string

	// MaxSizeBytes caps the total payload size kept in the cache
	MaxSizeBytes int64

	// MaxDiskUsagePercent caps overall usage of the volume holding Dir
	MaxDiskUsagePercent float64

	// MaxEntryAge is how long an unused entry survives before pruning
	MaxEntryAge time.Duration

	// EvictionInterval is the minimum gap between eviction sweeps
	EvictionInterval time.Duration

	// PruneInterval is the minimum gap between opportunistic prunes
	PruneInterval time.Duration
}

// DefaultConfig returns default keeper configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSizeBytes:        10 * 1024 * 1024 * 1024, // 10GB
		MaxDiskUsagePercent: 90,
		MaxEntryAge:         30 * 24 * time.Hour,
		EvictionInterval:    30 * time.Second,
		PruneInterval:       time.Hour,
	}
}

// Keeper owns the download cache: payload files under a cache root plus
// a SQLite index keyed by URL hash. Completed downloads are copied in,
// later requests for the same URL are served back out, and least
// recently used entries are evicted when space runs short.
type Keeper struct {
	config    *Config
	store     port.Store
	fs        port.FileSystem
	logger    *zap.Logger
	evictGate *ratelimiter.Limiter
}

// New creates a new Keeper
func New(cfg *Config, store port.Store, fs port.FileSystem, logger *zap.Logger) *Keeper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxSizeBytes == 0 {
		cfg.MaxSizeBytes = 10 * 1024 * 1024 * 1024
	}
	if cfg.MaxDiskUsagePercent == 0 {
		cfg.MaxDiskUsagePercent = 90
	}
	if cfg.EvictionInterval == 0 {
		cfg.EvictionInterval = 30 * time.Second
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Keeper{
		config:    cfg,
		store:     store,
		fs:        fs,
		logger:    logger,
		evictGate: ratelimiter.New(cfg.EvictionInterval),
	}
}

// Restore copies the cached payload for url into dir and returns the
// destination path. filename overrides the cached name when non-empty.
// Returns domain.ErrCacheMiss when the URL has no usable entry.
func (k *Keeper) Restore(url, dir, filename string) (string, *domain.CacheEntry, error) {
	entry, err := k.store.GetByURLHash(domain.HashURL(url))
	if err != nil {
		return "", nil, err
	}

	if !k.fs.FileExists(entry.Path) {
		k.logger.Warn("cache payload missing, dropping index entry",
			zap.String("url", url),
			zap.String("path", entry.Path))
		k.dropEntry(entry)
		return "", nil, domain.ErrCacheMiss
	}

	name := filename
	if name == "" {
		name = entry.Filename
	}

	if err := k.fs.EnsureDir(dir); err != nil {
		return "", nil, domain.NewDestinationError(dir, err)
	}

	dest := filepath.Join(dir, name)
	n, err := k.fs.CopyFile(entry.Path, dest)
	if err != nil {
		return "", nil, domain.NewDestinationError(dest, err)
	}
	if entry.Size > 0 && n != entry.Size {
		k.logger.Warn("cache payload truncated, dropping entry",
			zap.String("url", url),
			zap.Int64("expected", entry.Size),
			zap.Int64("copied", n))
		k.dropEntry(entry)
		if rmErr := k.fs.Remove(dest); rmErr != nil {
			k.logger.Warn("failed to remove truncated copy",
				zap.String("path", dest),
				zap.Error(rmErr))
		}
		return "", nil, domain.ErrCacheMiss
	}

	if err := k.store.Touch(entry.ID); err != nil {
		k.logger.Warn("failed to touch cache entry",
			zap.Int64("id", entry.ID),
			zap.Error(err))
	}
	entry.Touch()

	k.logger.Debug("cache hit",
		zap.String("url", url),
		zap.String("dest", dest),
		zap.Int64("size", entry.Size))

	return dest, entry, nil
}

// Store copies a completed download at srcPath into the cache and
// records it in the index. Evicts least recently used entries first if
// the cache is over budget. Returns domain.ErrInsufficientSpace when no
// amount of eviction can fit the file.
func (k *Keeper) Store(ctx context.Context, url, srcPath, checksum string) (*domain.CacheEntry, error) {
	size, err := k.fs.FileSize(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	if size > k.config.MaxSizeBytes {
		k.logger.Debug("file exceeds cache budget, not caching",
			zap.String("url", url),
			zap.Int64("size", size),
			zap.Int64("max_size_bytes", k.config.MaxSizeBytes))
		return nil, domain.ErrInsufficientSpace
	}

	hasSpace, err := k.hasSpace(size)
	if err != nil {
		return nil, fmt.Errorf("space check failed: %w", err)
	}
	if !hasSpace {
		if err := k.tryEvict(ctx, size); err != nil {
			k.logger.Warn("eviction failed or rate-limited",
				zap.String("url", url),
				zap.Error(err))
			return nil, domain.ErrInsufficientSpace
		}
		hasSpace, err = k.hasSpace(size)
		if err != nil || !hasSpace {
			return nil, domain.ErrInsufficientSpace
		}
	}

	urlHash := domain.HashURL(url)
	filename := filepath.Base(srcPath)
	payloadDir := filepath.Join(k.config.Dir, payloadSubdir, urlHash)
	if err := k.fs.EnsureDir(payloadDir); err != nil {
		return nil, fmt.Errorf("failed to create payload dir: %w", err)
	}

	payloadPath := filepath.Join(payloadDir, filename)
	if _, err := k.fs.CopyFile(srcPath, payloadPath); err != nil {
		return nil, fmt.Errorf("failed to copy payload: %w", err)
	}

	entry := domain.NewCacheEntry(url, filename, payloadPath, size, checksum)
	if err := k.store.Upsert(entry); err != nil {
		if rmErr := k.fs.Remove(payloadPath); rmErr != nil {
			k.logger.Warn("failed to remove orphaned payload",
				zap.String("path", payloadPath),
				zap.Error(rmErr))
		}
		return nil, fmt.Errorf("failed to index cache entry: %w", err)
	}

	k.logger.Info("download cached",
		zap.String("url", url),
		zap.String("path", payloadPath),
		zap.Int64("size", size))

	return entry, nil
}

// Clear removes every cached payload and index row. Returns the number
// of entries removed.
func (k *Keeper) Clear() (int64, error) {
	entries, err := k.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	for _, entry := range entries {
		k.removePayload(entry)
	}

	removed, err := k.store.DeleteAll()
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache index: %w", err)
	}

	k.logger.Info("cache cleared", zap.Int64("entries", removed))
	return removed, nil
}

// Prune removes entries unused for longer than MaxEntryAge. Runs at
// most once per PruneInterval unless force is set; the last prune time
// persists in the index so the pacing survives restarts.
func (k *Keeper) Prune(ctx context.Context, force bool) (int, error) {
	if k.config.MaxEntryAge <= 0 {
		return 0, nil
	}

	if !force {
		due, err := k.pruneDue()
		if err != nil {
			k.logger.Warn("failed to read last prune time", zap.Error(err))
		} else if !due {
			return 0, nil
		}
	}

	entries, err := k.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list cache entries: %w", err)
	}

	pruned := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return pruned, ctx.Err()
		default:
		}

		if !entry.OlderThan(k.config.MaxEntryAge) {
			continue
		}

		k.removePayload(entry)
		if err := k.store.Delete(entry.ID); err != nil {
			k.logger.Warn("failed to delete pruned entry",
				zap.Int64("id", entry.ID),
				zap.Error(err))
			continue
		}
		pruned++
		k.logger.Debug("entry pruned",
			zap.String("url", entry.URL),
			zap.Time("last_used_at", entry.LastUsedAt))
	}

	if err := k.store.SetMeta(metaLastPrune, time.Now().UTC().Format(time.RFC3339)); err != nil {
		k.logger.Warn("failed to record prune time", zap.Error(err))
	}

	if pruned > 0 {
		k.logger.Info("cache pruned",
			zap.Int("entries", pruned),
			zap.Duration("max_entry_age", k.config.MaxEntryAge))
	}
	return pruned, nil
}

// Stats returns entry count and total payload bytes
func (k *Keeper) Stats() (*domain.CacheStats, error) {
	return k.store.GetStats()
}

// tryEvict attempts an eviction sweep with rate limiting
func (k *Keeper) tryEvict(ctx context.Context, neededBytes int64) error {
	allowed, wait := k.evictGate.Allow()
	if !allowed {
		return fmt.Errorf("eviction rate-limited: next eviction in %v", wait)
	}

	k.logger.Info("starting eviction", zap.Int64("needed_bytes", neededBytes))
	return k.evictUntilSpace(ctx, neededBytes)
}

// evictUntilSpace drops least recently used entries until the cache can
// fit neededBytes more
func (k *Keeper) evictUntilSpace(ctx context.Context, neededBytes int64) error {
	evictedCount := 0
	evictedBytes := int64(0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hasSpace, err := k.hasSpace(neededBytes)
		if err != nil {
			return err
		}
		if hasSpace {
			k.logger.Info("eviction completed",
				zap.Int("evicted_count", evictedCount),
				zap.Int64("evicted_bytes", evictedBytes))
			return nil
		}

		candidates, err := k.store.EvictionCandidates(1)
		if err != nil {
			return fmt.Errorf("failed to get eviction candidates: %w", err)
		}
		if len(candidates) == 0 {
			stats, _ := k.store.GetStats()
			usage, _ := k.fs.DiskUsage(k.config.Dir)
			fields := []zap.Field{zap.Int64("needed_bytes", neededBytes)}
			if stats != nil {
				fields = append(fields, zap.Int64("cache_size_bytes", stats.TotalBytes))
			}
			if usage != nil {
				fields = append(fields, zap.Float64("disk_used_pct", usage.UsedPct))
			}
			k.logger.Warn("no eviction candidates, disk may be full with other files", fields...)
			return fmt.Errorf("no eviction candidates available")
		}

		entry := candidates[0]
		k.removePayload(entry)
		if err := k.store.Delete(entry.ID); err != nil {
			k.logger.Error("failed to delete evicted entry",
				zap.Int64("id", entry.ID),
				zap.Error(err))
			return fmt.Errorf("failed to delete evicted entry: %w", err)
		}

		evictedCount++
		evictedBytes += entry.Size
		k.logger.Debug("entry evicted",
			zap.String("url", entry.URL),
			zap.Int64("size", entry.Size),
			zap.Time("last_used_at", entry.LastUsedAt))
	}
}

// hasSpace checks whether the cache can take fileSize more bytes within
// both the cache size budget and the disk usage ceiling
func (k *Keeper) hasSpace(fileSize int64) (bool, error) {
	stats, err := k.store.GetStats()
	if err != nil {
		return false, err
	}

	if stats.TotalBytes+fileSize > k.config.MaxSizeBytes {
		return false, nil
	}

	usage, err := k.fs.DiskUsage(k.config.Dir)
	if err != nil {
		return false, err
	}

	if usage.UsedPct >= k.config.MaxDiskUsagePercent {
		return false, nil
	}

	newUsedPct := float64(usage.Used+uint64(fileSize)) / float64(usage.Total) * 100
	if newUsedPct >= k.config.MaxDiskUsagePercent {
		return false, nil
	}

	return true, nil
}

// pruneDue reports whether enough time has passed since the last prune
func (k *Keeper) pruneDue() (bool, error) {
	raw, err := k.store.GetMeta(metaLastPrune)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return true, nil
	}
	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true, nil
	}
	return time.Since(last) >= k.config.PruneInterval, nil
}

// removePayload deletes an entry's payload file and its hash directory.
// Failures are logged, not returned, so index cleanup still proceeds.
func (k *Keeper) removePayload(entry *domain.CacheEntry) {
	if entry.Path == "" {
		return
	}
	if err := k.fs.Remove(entry.Path); err != nil && k.fs.FileExists(entry.Path) {
		k.logger.Warn("failed to remove cache payload",
			zap.String("path", entry.Path),
			zap.Error(err))
		return
	}
	// Payload dirs hold one file each, drop the empty wrapper too.
	_ = k.fs.Remove(filepath.Dir(entry.Path))
}

// dropEntry removes a broken entry's index row and payload
func (k *Keeper) dropEntry(entry *domain.CacheEntry) {
	k.removePayload(entry)
	if err := k.store.Delete(entry.ID); err != nil {
		k.logger.Warn("failed to delete stale cache entry",
			zap.Int64("id", entry.ID),
			zap.Error(err))
	}
}
