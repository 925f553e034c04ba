package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"go.uber.org/zap"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/port"
)

// Writer persists transfer byte streams. Bytes accumulate in a staging
// sibling of the destination; the destination itself is only ever
// created by the atomic promote in Finalize.
type Writer struct {
	fs     port.FileSystem
	logger *zap.Logger
}

// NewWriter creates a new Writer
func NewWriter(fs port.FileSystem, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{fs: fs, logger: logger}
}

// Begin opens a write session for finalPath. A positive offset resumes
// an existing staging file: its content is re-read to seed the running
// checksum, then writes append. Offset zero starts clean.
func (w *Writer) Begin(finalPath string, offset int64) (*WriteSession, error) {
	s := &WriteSession{
		fs:        w.fs,
		logger:    w.logger,
		finalPath: finalPath,
		digest:    sha256.New(),
	}

	if offset > 0 {
		r, err := w.fs.OpenStagingRead(finalPath)
		if err != nil {
			return nil, err
		}
		n, err := io.Copy(s.digest, r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read staging prefix: %w", err)
		}
		if n != offset {
			return nil, fmt.Errorf("staging file is %d bytes, expected %d", n, offset)
		}
	}

	staging, err := w.fs.OpenStaging(finalPath, offset)
	if err != nil {
		return nil, err
	}

	s.staging = staging
	s.written = offset
	return s, nil
}

// WriteSession accumulates one transfer into a staging file, spanning
// resumed attempts, and promotes it once the byte count checks out.
type WriteSession struct {
	fs        port.FileSystem
	logger    *zap.Logger
	finalPath string
	staging   port.StagingWriter
	digest    hash.Hash
	written   int64
}

// Write appends p to the staging file and the running checksum
func (s *WriteSession) Write(p []byte) (int, error) {
	n, err := s.staging.Write(p)
	if n > 0 {
		s.digest.Write(p[:n])
		s.written += int64(n)
	}
	return n, err
}

// Written returns the bytes staged so far, resumed prefix included
func (s *WriteSession) Written() int64 {
	return s.written
}

// FinalPath returns the destination path the session promotes to
func (s *WriteSession) FinalPath() string {
	return s.finalPath
}

// Restart throws away all staged content and starts over from byte
// zero. Used when the server ignores a resume offset and sends the full
// body again.
func (s *WriteSession) Restart() error {
	if err := s.staging.Discard(); err != nil {
		return err
	}

	staging, err := s.fs.OpenStaging(s.finalPath, 0)
	if err != nil {
		return err
	}

	s.logger.Debug("staging restarted", zap.String("path", s.finalPath))
	s.staging = staging
	s.digest = sha256.New()
	s.written = 0
	return nil
}

// Finalize verifies the staged byte count against the expected total
// and atomically promotes the staging file onto the destination. An
// unknown total (SizeUnknown) skips the verification. On a mismatch the
// staging file stays on disk for a later resume and the returned error
// is an IncompleteTransferError.
func (s *WriteSession) Finalize(expected int64) (string, error) {
	if expected >= 0 && s.written != expected {
		s.staging.Close()
		return "", &domain.IncompleteTransferError{Expected: expected, Actual: s.written}
	}

	if err := s.staging.Commit(); err != nil {
		return "", domain.NewDestinationError(s.finalPath, err)
	}

	return hex.EncodeToString(s.digest.Sum(nil)), nil
}

// Abandon closes the staging handle, keeping the partial file on disk
// so a later invocation can resume it
func (s *WriteSession) Abandon() error {
	return s.staging.Close()
}

// Discard closes and deletes the staging file
func (s *WriteSession) Discard() error {
	return s.staging.Discard()
}
