package quaff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quaffio/quaff/internal/adapter/filesystem"
	"github.com/quaffio/quaff/internal/adapter/httptransport"
	"github.com/quaffio/quaff/internal/adapter/sqlite"
	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/service/cachekeeper"
	"github.com/quaffio/quaff/internal/service/fetch"
)

// DisableCacheEnv names the environment variable that force-disables the
// download cache when set to any non-empty value, regardless of
// per-request opt-ins.
const DisableCacheEnv = "QUAFF_DISABLE_DOWNLOAD_CACHE"

// Options configures a Client. The zero value gives working defaults.
type Options struct {
	// UserAgent is sent on every request. Default: "Mozilla/5.0".
	UserAgent string

	// Dir is the default destination directory. Default: ".".
	Dir string

	// ChunkSize is the copy buffer size in bytes. Cancellation and
	// progress both happen at chunk boundaries. Default: 128 KiB.
	ChunkSize int

	// MaxRetries caps resumed retries after transient failures.
	// Default: 3. Negative disables retries entirely.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff
	// between retries. Defaults: 500ms and 30s.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Workers bounds FetchAll concurrency. Default: 3.
	Workers int

	// ConnectTimeout bounds dialing. Default: 10s.
	ConnectTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers on
	// streaming requests. Bodies themselves are never time-limited.
	// Default: 30s.
	ResponseHeaderTimeout time.Duration

	// ProbeTimeout bounds the whole resolve request. Default: 15s.
	ProbeTimeout time.Duration

	// SkipTLSVerify disables certificate verification.
	SkipTLSVerify bool

	// CacheDir holds cached payloads and the cache index database.
	// Default: <tmp>/quaff-cache.
	CacheDir string

	// CacheIndexPath overrides the index database location.
	// Default: <CacheDir>/index.db.
	CacheIndexPath string

	// CacheMaxBytes caps the total cache payload size. Default: 10 GiB.
	CacheMaxBytes int64

	// CacheMaxDiskUsagePercent stops caching when the volume holding
	// CacheDir is this full. Default: 90.
	CacheMaxDiskUsagePercent float64

	// CacheMaxEntryAge prunes entries unused for this long. Default: 720h.
	CacheMaxEntryAge time.Duration

	// StagingMaxAge is the SweepStaging threshold. Default: 24h.
	StagingMaxAge time.Duration

	// Logger receives internal diagnostics. Default: no logging.
	Logger *zap.Logger
}

// Request describes one download.
type Request struct {
	// URL is the resource to fetch. Required.
	URL string

	// Dir overrides the client's destination directory when non-empty.
	Dir string

	// Filename overrides filename resolution when non-empty.
	Filename string

	// UseCache serves the download from the local cache when the URL was
	// fetched before, and stores it on completion otherwise. The
	// DisableCacheEnv environment variable overrides this.
	UseCache bool

	// OnProgress receives a snapshot at every chunk boundary and once
	// more at the terminal flush. Must be fast, it runs on the
	// transfer's goroutine. Cache hits skip the transfer pipeline and
	// never invoke it.
	OnProgress func(ProgressSnapshot)
}

// Client downloads files over HTTP with resumable retries, atomic
// destination placement and an optional local cache. Safe for
// concurrent use.
type Client struct {
	opts      Options
	transport *httptransport.Client
	fs        *filesystem.Manager
	fetcher   *fetch.Fetcher
	logger    *zap.Logger

	// The cache index opens lazily on first cached request, so clients
	// that never opt in pay nothing for it.
	mu      sync.Mutex
	cacheUp bool
	keeper  *cachekeeper.Keeper
	store   *sqlite.Store
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0"
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 128 * 1024
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(os.TempDir(), "quaff-cache")
	}
	if opts.CacheMaxBytes <= 0 {
		opts.CacheMaxBytes = 10 * 1024 * 1024 * 1024
	}
	if opts.CacheMaxDiskUsagePercent <= 0 {
		opts.CacheMaxDiskUsagePercent = 90
	}
	if opts.CacheMaxEntryAge <= 0 {
		opts.CacheMaxEntryAge = 720 * time.Hour
	}
	if opts.StagingMaxAge <= 0 {
		opts.StagingMaxAge = 24 * time.Hour
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fs := filesystem.NewManager()
	transport := httptransport.NewClient(&httptransport.Config{
		UserAgent:             opts.UserAgent,
		ConnectTimeout:        opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ProbeTimeout:          opts.ProbeTimeout,
		SkipTLSVerify:         opts.SkipTLSVerify,
		BufferSize:            opts.ChunkSize,
	}, logger)
	fetcher := fetch.NewFetcher(transport, fs, logger, fetch.Config{
		ChunkSize:      opts.ChunkSize,
		MaxRetries:     opts.MaxRetries,
		RetryBaseDelay: opts.RetryBaseDelay,
		RetryMaxDelay:  opts.RetryMaxDelay,
	})

	return &Client{
		opts:      opts,
		transport: transport,
		fs:        fs,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Close releases the cache index. Downloads in flight are unaffected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	c.keeper = nil
	c.cacheUp = false
	return err
}

// Fetch downloads one resource. The returned Outcome is non-nil whenever
// a transfer ran, including failed and cancelled ones; err mirrors
// Outcome.Err and is nil for completed and cancelled transfers.
func (c *Client) Fetch(ctx context.Context, req Request) (*Outcome, error) {
	if req.URL == "" {
		return nil, domain.ErrEmptyURL
	}

	dir := req.Dir
	if dir == "" {
		dir = c.opts.Dir
	}

	useCache := req.UseCache && os.Getenv(DisableCacheEnv) == ""

	if useCache {
		if outcome := c.fromCache(req.URL, dir, req.Filename); outcome != nil {
			return outcome, nil
		}
	}

	outcome, err := c.fetcher.Fetch(ctx, fetch.Params{
		URL:        req.URL,
		Dir:        dir,
		Filename:   req.Filename,
		OnProgress: req.OnProgress,
	})

	if useCache && outcome != nil && outcome.Completed() {
		c.toCache(ctx, req.URL, outcome)
	}

	return outcome, err
}

// FetchAll downloads several resources through a bounded worker pool.
// Outcomes line up with reqs by index. The error aggregates every
// failed transfer; completed and cancelled ones contribute nothing.
func (c *Client) FetchAll(ctx context.Context, reqs []Request) ([]*Outcome, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	workers := c.opts.Workers
	if workers > len(reqs) {
		workers = len(reqs)
	}

	outcomes := make([]*Outcome, len(reqs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcome, err := c.Fetch(ctx, reqs[i])
				if outcome == nil {
					outcome = &Outcome{Status: StatusFailed, Err: err}
				}
				outcomes[i] = outcome
			}
		}()
	}

	for i := range reqs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var errs error
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			errs = multierr.Append(errs, outcome.Err)
		}
	}
	return outcomes, errs
}

// ClearCache deletes every cached payload and index row. Returns the
// number of entries removed.
func (c *Client) ClearCache() (int64, error) {
	keeper, err := c.cacheKeeper()
	if err != nil {
		return 0, err
	}
	return keeper.Clear()
}

// PruneCache removes cache entries unused for longer than
// CacheMaxEntryAge. Returns the number of entries removed.
func (c *Client) PruneCache(ctx context.Context) (int, error) {
	keeper, err := c.cacheKeeper()
	if err != nil {
		return 0, err
	}
	return keeper.Prune(ctx, true)
}

// CacheStats returns entry count and total payload bytes.
func (c *Client) CacheStats() (*CacheStats, error) {
	keeper, err := c.cacheKeeper()
	if err != nil {
		return nil, err
	}
	return keeper.Stats()
}

// SweepStaging removes staging files under dir older than StagingMaxAge.
// An empty dir sweeps the client's destination directory. Returns the
// number of files deleted.
func (c *Client) SweepStaging(dir string) (int, error) {
	if dir == "" {
		dir = c.opts.Dir
	}
	return c.fs.SweepStaging(dir, c.opts.StagingMaxAge)
}

// fromCache serves a previously downloaded URL out of the cache.
// Returns nil on any miss or cache trouble, the download proceeds
// normally either way.
func (c *Client) fromCache(url, dir, filename string) *Outcome {
	keeper, err := c.cacheKeeper()
	if err != nil {
		return nil
	}

	dest, entry, err := keeper.Restore(url, dir, filename)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn("cache restore failed",
				zap.String("url", url),
				zap.Error(err))
		}
		return nil
	}

	return &Outcome{
		Status:       StatusCompleted,
		Path:         dest,
		Filename:     filepath.Base(dest),
		BytesWritten: entry.Size,
		TotalSize:    entry.Size,
		Checksum:     entry.Checksum,
		FromCache:    true,
	}
}

// toCache stores a completed download. Cache trouble is logged, never
// surfaced, a delivered file is a success regardless.
func (c *Client) toCache(ctx context.Context, url string, outcome *Outcome) {
	keeper, err := c.cacheKeeper()
	if err != nil {
		return
	}

	if _, err := keeper.Store(ctx, url, outcome.Path, outcome.Checksum); err != nil {
		if errors.Is(err, domain.ErrInsufficientSpace) {
			c.logger.Debug("download not cached",
				zap.String("url", url),
				zap.Error(err))
		} else {
			c.logger.Warn("failed to cache download",
				zap.String("url", url),
				zap.Error(err))
		}
		return
	}

	if _, err := keeper.Prune(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("opportunistic prune failed", zap.Error(err))
	}
}

// cacheKeeper opens the cache index on first use. A failed open is
// remembered and logged once; later calls return the same error.
func (c *Client) cacheKeeper() (*cachekeeper.Keeper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cacheUp {
		if c.keeper == nil {
			return nil, domain.ErrCacheDisabled
		}
		return c.keeper, nil
	}
	c.cacheUp = true

	indexPath := c.opts.CacheIndexPath
	if indexPath == "" {
		indexPath = filepath.Join(c.opts.CacheDir, "index.db")
	}
	store, err := sqlite.Open(indexPath)
	if err != nil {
		c.logger.Warn("cache index unavailable, cache disabled",
			zap.String("dir", c.opts.CacheDir),
			zap.Error(err))
		return nil, domain.ErrCacheDisabled
	}

	c.store = store
	c.keeper = cachekeeper.New(&cachekeeper.Config{
		Dir:                 c.opts.CacheDir,
		MaxSizeBytes:        c.opts.CacheMaxBytes,
		MaxDiskUsagePercent: c.opts.CacheMaxDiskUsagePercent,
		MaxEntryAge:         c.opts.CacheMaxEntryAge,
	}, store, c.fs, c.logger)
	return c.keeper, nil
}

// Fetch downloads url into dir with default options.
func Fetch(ctx context.Context, url, dir string) (*Outcome, error) {
	c := New(Options{Dir: dir})
	defer c.Close()
	return c.Fetch(ctx, Request{URL: url})
}
