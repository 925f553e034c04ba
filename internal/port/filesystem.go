package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// StagingWriter is an open staging file. Bytes are appended until Commit
// promotes the staged content to the final destination or Close leaves it
// behind for a later resume.
type StagingWriter interface {
	io.Writer

	// Offset returns the absolute byte offset the next Write lands at.
	Offset() int64

	// Commit flushes pending writes and atomically renames the staging
	// file onto the final destination. The destination never observes a
	// partial file.
	Commit() error

	// Discard closes and deletes the staging file.
	Discard() error

	// Close closes the staging file, keeping it on disk for resume.
	// Safe to call after Commit or Discard.
	Close() error
}

// FileSystem defines the interface for destination-side filesystem
// operations. Staging paths derive predictably from the destination so a
// later invocation targeting the same destination can find and resume
// the partial file.
type FileSystem interface {
	// StagingPath returns the staging sibling for a destination path.
	StagingPath(finalPath string) string

	// OpenStaging opens the staging file for finalPath positioned at
	// offset. Offset zero truncates any previous content; a positive
	// offset appends and fails if the existing staging size differs.
	OpenStaging(finalPath string, offset int64) (StagingWriter, error)

	// StagingInfo returns size and modification time of the staging file
	// for finalPath. Returns (0, zero time, nil) if none exists.
	StagingInfo(finalPath string) (int64, time.Time, error)

	// DiscardStaging removes the staging file for finalPath, if any.
	DiscardStaging(finalPath string) error

	// OpenStagingRead opens the existing staging content for reading,
	// used to rebuild a running checksum before a resumed attempt.
	OpenStagingRead(finalPath string) (io.ReadCloser, error)

	// FileExists checks if a file exists at the given path
	FileExists(path string) bool

	// FileSize returns the size of the file at the given path
	FileSize(path string) (int64, error)

	// Remove deletes the file at the given path
	Remove(path string) error

	// CopyFile copies src to dst through a staging sibling of dst, so
	// dst appears atomically. Returns bytes copied.
	CopyFile(src, dst string) (int64, error)

	// EnsureDir creates the directory and any missing parents.
	EnsureDir(dir string) error

	// DiskUsage returns usage statistics for the volume holding path.
	DiskUsage(path string) (*DiskUsage, error)

	// SweepStaging removes staging files under dir older than the given
	// age. Returns the number of files deleted.
	SweepStaging(dir string, olderThan time.Duration) (int, error)
}
