package fetch

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/port"
)

// Config contains fetcher tuning
type Config struct {
	ChunkSize      int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Params describes one download
type Params struct {
	// URL is the resource to fetch. Required.
	URL string

	// Dir is the destination directory. Required.
	Dir string

	// Filename overrides filename resolution when non-empty.
	Filename string

	// OnProgress receives a snapshot at every chunk boundary and once
	// more at the terminal flush. Must be fast, it runs on the
	// transfer's goroutine.
	OnProgress func(domain.ProgressSnapshot)
}

// Fetcher drives a download through resolving, streaming and finalizing.
// Transient mid-stream failures retry with a resume offset; everything
// else surfaces on first occurrence. Each Fetch call is self-contained,
// one Fetcher may serve many goroutines concurrently.
type Fetcher struct {
	transport port.Transport
	fs        port.FileSystem
	resolver  *Resolver
	writer    *Writer
	logger    *zap.Logger
	cfg       Config
}

// NewFetcher creates a new Fetcher
func NewFetcher(transport port.Transport, fs port.FileSystem, logger *zap.Logger, cfg Config) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 128 * 1024
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}

	return &Fetcher{
		transport: transport,
		fs:        fs,
		resolver:  NewResolver(logger),
		writer:    NewWriter(fs, logger),
		logger:    logger,
		cfg:       cfg,
	}
}

// Fetch downloads params.URL into params.Dir. The returned outcome is
// always non-nil and the error mirrors it: nil for completed and
// cancelled outcomes, the terminal failure for failed ones. Cancellation
// is honoured at chunk boundaries and keeps the staging file for resume.
func (f *Fetcher) Fetch(ctx context.Context, params Params) (*domain.Outcome, error) {
	t := domain.NewTransfer(params.URL, f.cfg.MaxRetries)
	t.Dir = params.Dir

	tracker := NewTracker(params.URL, params.OnProgress)
	defer func() {
		phase := t.Phase
		if !t.Terminal() {
			phase = domain.PhaseFailed
		}
		tracker.Finish(phase)
	}()

	// Resolving. Failures here are authoritative and never retried.
	res, err := f.transport.Probe(ctx, params.URL)
	if err != nil {
		if isCancellation(ctx, err) {
			return f.cancelled(t), nil
		}
		return f.failed(t, err)
	}

	name, err := f.resolver.Resolve(res, params.Filename)
	if err != nil {
		return f.failed(t, err)
	}

	t.Filename = name
	t.TotalSize = res.Size
	t.ETag = res.ETag
	t.FinalPath = filepath.Join(params.Dir, name)
	t.StagingPath = f.fs.StagingPath(t.FinalPath)
	tracker.SetFilename(name)
	tracker.SetTotal(res.Size)

	f.logger.Info("transfer resolved",
		zap.String("url", t.URL),
		zap.String("filename", name),
		zap.Int64("size", res.Size),
		zap.Bool("accepts_ranges", res.AcceptsRanges))

	if err := f.fs.EnsureDir(params.Dir); err != nil {
		return f.failed(t, domain.NewDestinationError(params.Dir, err))
	}

	// Adopt a staging file left behind by an earlier run
	var offset int64
	if res.AcceptsRanges {
		if size, _, infoErr := f.fs.StagingInfo(t.FinalPath); infoErr == nil && size > 0 {
			offset = size
		}
	} else {
		// No ranges means no resume, clear any stale partial
		f.fs.DiscardStaging(t.FinalPath)
	}

	session, err := f.writer.Begin(t.FinalPath, offset)
	if err != nil && offset > 0 {
		f.logger.Warn("staging file unusable, starting clean",
			zap.String("staging", t.StagingPath),
			zap.Error(err))
		f.fs.DiscardStaging(t.FinalPath)
		offset = 0
		session, err = f.writer.Begin(t.FinalPath, 0)
	}
	if err != nil {
		return f.failed(t, domain.NewDestinationError(t.StagingPath, err))
	}

	if offset > 0 {
		t.Resumed = true
		tracker.SeedBytes(offset)
		f.logger.Info("resuming from staging file",
			zap.String("staging", t.StagingPath),
			zap.Int64("offset", offset))
	}

	// A staging file that already holds every expected byte skips
	// straight to finalizing
	complete := t.TotalSize >= 0 && session.Written() == t.TotalSize

	// Streaming. The retry loop never revisits resolving.
	schedule := newRetrySchedule(f.cfg.RetryBaseDelay, f.cfg.RetryMaxDelay)
	chunk := make([]byte, f.cfg.ChunkSize)

	for !complete {
		t.BeginAttempt()
		tracker.SetPhase(domain.PhaseStreaming)

		streamErr := f.streamOnce(ctx, t, session, tracker, chunk)
		t.BytesWritten = session.Written()
		if streamErr == nil {
			break
		}

		if isCancellation(ctx, streamErr) {
			session.Abandon()
			return f.cancelled(t), nil
		}

		if errors.Is(streamErr, domain.ErrRangeNotSupported) {
			// The staging offset outran the resource, start over
			if rerr := session.Restart(); rerr != nil {
				session.Abandon()
				return f.failed(t, domain.NewDestinationError(t.StagingPath, rerr))
			}
			streamErr = domain.NewTransientError(streamErr)
		}

		if !domain.IsTransient(streamErr) {
			session.Abandon()
			return f.failed(t, streamErr)
		}

		if !t.CanRetry() {
			session.Abandon()
			return f.failed(t, &domain.ExhaustedError{Attempts: t.Attempt, LastErr: streamErr})
		}

		t.MarkRetry(streamErr)
		if session.Written() > 0 {
			t.Resumed = true
		}

		delay := schedule.next()
		f.logger.Warn("transient failure, retrying",
			zap.String("url", t.URL),
			zap.Int("attempt", t.Attempt),
			zap.Int64("resume_offset", session.Written()),
			zap.Duration("delay", delay),
			zap.Error(streamErr))

		if sleepErr := schedule.sleep(ctx, delay); sleepErr != nil {
			session.Abandon()
			return f.cancelled(t), nil
		}
	}

	// Finalizing
	t.MarkFinalizing()
	tracker.SetPhase(domain.PhaseFinalizing)

	checksum, err := session.Finalize(t.TotalSize)
	if err != nil {
		return f.failed(t, err)
	}

	t.MarkDone()
	t.BytesWritten = session.Written()

	f.logger.Info("transfer complete",
		zap.String("url", t.URL),
		zap.String("path", t.FinalPath),
		zap.Int64("bytes", t.BytesWritten),
		zap.Int("attempts", t.Attempt),
		zap.Duration("elapsed", t.Elapsed()))

	return &domain.Outcome{
		Status:       domain.StatusCompleted,
		Path:         t.FinalPath,
		Filename:     t.Filename,
		BytesWritten: t.BytesWritten,
		TotalSize:    t.TotalSize,
		Attempts:     t.Attempt,
		Checksum:     checksum,
		Resumed:      t.Resumed,
		Elapsed:      t.Elapsed(),
	}, nil
}

// streamOnce runs one streaming attempt: open the body at the current
// staging offset, then pump chunks until it drains
func (f *Fetcher) streamOnce(ctx context.Context, t *domain.Transfer, session *WriteSession, tracker *Tracker, chunk []byte) error {
	offset := session.Written()

	body, res, honoured, err := f.transport.Open(ctx, t.URL, offset, t.ETag)
	if err != nil {
		return err
	}
	defer body.Close()

	if !honoured && offset > 0 {
		f.logger.Info("server ignored resume offset, restarting transfer",
			zap.String("url", t.URL),
			zap.Int64("offset", offset))
		if err := session.Restart(); err != nil {
			return domain.NewDestinationError(session.FinalPath(), err)
		}
	}

	if res.SizeKnown() {
		t.TotalSize = res.Size
		tracker.SetTotal(res.Size)
	}
	if res.ETag != "" {
		t.ETag = res.ETag
	}

	return f.pump(ctx, body, session, tracker, chunk)
}

// pump streams the body into the session one chunk at a time, honouring
// cancellation at each chunk boundary
func (f *Fetcher) pump(ctx context.Context, body io.Reader, session *WriteSession, tracker *Tracker, chunk []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			if _, err := session.Write(chunk[:n]); err != nil {
				return domain.NewDestinationError(session.FinalPath(), err)
			}
			tracker.Advance(n)
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.NewTransientError(readErr)
		}
	}
}

// failed marks the transfer failed and builds the matching outcome. The
// returned error equals outcome.Err.
func (f *Fetcher) failed(t *domain.Transfer, err error) (*domain.Outcome, error) {
	t.MarkFailed(err)

	f.logger.Warn("transfer failed",
		zap.String("url", t.URL),
		zap.Int("attempts", t.Attempt),
		zap.Int64("bytes", t.BytesWritten),
		zap.Error(err))

	return &domain.Outcome{
		Status:       domain.StatusFailed,
		Filename:     t.Filename,
		BytesWritten: t.BytesWritten,
		TotalSize:    t.TotalSize,
		Attempts:     t.Attempt,
		Resumed:      t.Resumed,
		Elapsed:      t.Elapsed(),
		Err:          err,
	}, err
}

// cancelled marks the transfer cancelled and builds the matching
// outcome. Cancellation is not an error, the staging file stays on disk
// for a later resume.
func (f *Fetcher) cancelled(t *domain.Transfer) *domain.Outcome {
	t.MarkCancelled()

	f.logger.Info("transfer cancelled",
		zap.String("url", t.URL),
		zap.Int64("bytes", t.BytesWritten))

	return &domain.Outcome{
		Status:       domain.StatusCancelled,
		Filename:     t.Filename,
		BytesWritten: t.BytesWritten,
		TotalSize:    t.TotalSize,
		Attempts:     t.Attempt,
		Resumed:      t.Resumed,
		Elapsed:      t.Elapsed(),
	}
}

// isCancellation reports whether err stems from the caller's context
// rather than the transfer itself
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
