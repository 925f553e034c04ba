package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quaffio/quaff/internal/port"
)

// StagingSuffix is appended to a destination path to form its staging
// sibling. The derivation is fixed so a later run targeting the same
// destination finds the partial file and resumes it.
const StagingSuffix = ".partial"

// Manager handles destination-side filesystem operations
type Manager struct{}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager() *Manager {
	return &Manager{}
}

// StagingPath returns the staging sibling for a destination path
func (m *Manager) StagingPath(finalPath string) string {
	return finalPath + StagingSuffix
}

// EnsureDir creates the directory and any missing parents
func (m *Manager) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// OpenStaging opens the staging file for finalPath positioned at offset.
// Offset zero truncates any previous content. A positive offset appends
// and fails if the existing staging size differs, so a stale partial
// never silently corrupts a resume.
func (m *Manager) OpenStaging(finalPath string, offset int64) (port.StagingWriter, error) {
	if err := m.EnsureDir(filepath.Dir(finalPath)); err != nil {
		return nil, fmt.Errorf("failed to create parent dir: %w", err)
	}

	stagingPath := m.StagingPath(finalPath)

	var f *os.File
	var err error

	if offset == 0 {
		f, err = os.Create(stagingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create staging file: %w", err)
		}
	} else {
		info, statErr := os.Stat(stagingPath)
		if statErr != nil {
			return nil, fmt.Errorf("staging file missing for resume: %w", statErr)
		}
		if info.Size() != offset {
			return nil, fmt.Errorf("staging size %d does not match resume offset %d", info.Size(), offset)
		}
		f, err = os.OpenFile(stagingPath, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open staging file for resume: %w", err)
		}
	}

	return &stagingFile{
		f:           f,
		stagingPath: stagingPath,
		finalPath:   finalPath,
		offset:      offset,
	}, nil
}

// StagingInfo returns size and modification time of the staging file.
// Returns (0, zero time, nil) if none exists.
func (m *Manager) StagingInfo(finalPath string) (int64, time.Time, error) {
	info, err := os.Stat(m.StagingPath(finalPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime(), nil
}

// DiscardStaging removes the staging file for finalPath, if any
func (m *Manager) DiscardStaging(finalPath string) error {
	if err := os.Remove(m.StagingPath(finalPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete staging file: %w", err)
	}
	return nil
}

// OpenStagingRead opens the existing staging content for reading
func (m *Manager) OpenStagingRead(finalPath string) (io.ReadCloser, error) {
	f, err := os.Open(m.StagingPath(finalPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open staging file: %w", err)
	}
	return f, nil
}

// FileExists checks if a file exists at the given path
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of the file at the given path
func (m *Manager) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the file at the given path
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CopyFile copies src to dst through a staging sibling of dst so the
// destination appears atomically
func (m *Manager) CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	w, err := m.OpenStaging(dst, 0)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(w, in)
	if err != nil {
		w.Discard()
		return 0, fmt.Errorf("failed to copy: %w", err)
	}

	if err := w.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// SweepStaging removes staging files under dir older than the given age
func (m *Manager) SweepStaging(dir string, olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, StagingSuffix) {
			if info.ModTime().Before(threshold) {
				if removeErr := os.Remove(path); removeErr == nil {
					count++
				}
			}
		}
		return nil
	})
	return count, err
}

// stagingFile is an open staging file accumulating one transfer
type stagingFile struct {
	f           *os.File
	stagingPath string
	finalPath   string
	offset      int64
	closed      bool
}

// Write appends p to the staging file
func (s *stagingFile) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.offset += int64(n)
	return n, err
}

// Offset returns the absolute byte offset the next Write lands at
func (s *stagingFile) Offset() int64 {
	return s.offset
}

// Commit flushes pending writes and atomically renames the staging file
// onto the final destination
func (s *stagingFile) Commit() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	s.closed = true
	if err := os.Rename(s.stagingPath, s.finalPath); err != nil {
		return fmt.Errorf("failed to promote staging file: %w", err)
	}
	return nil
}

// Discard closes and deletes the staging file
func (s *stagingFile) Discard() error {
	if !s.closed {
		s.f.Close()
		s.closed = true
	}
	if err := os.Remove(s.stagingPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete staging file: %w", err)
	}
	return nil
}

// Close closes the staging file, keeping it on disk for resume
func (s *stagingFile) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
