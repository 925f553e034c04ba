package domain

import "time"

// Outcome status constants
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Outcome reports how a download ended. Cancellation is a first-class
// status rather than an error: a cancelled transfer keeps its staging
// file and reports the bytes it managed to persist.
type Outcome struct {
	Status string

	// Path is the final destination path, set only on completion.
	Path string

	// Filename is the resolved name, present whenever resolution
	// succeeded, including failed and cancelled transfers.
	Filename string

	// BytesWritten counts bytes persisted to disk, staging included.
	BytesWritten int64

	// TotalSize is the announced size, SizeUnknown when never announced.
	TotalSize int64

	// Attempts counts streaming attempts, resumed retries included.
	Attempts int

	// Checksum is the hex SHA-256 of the delivered file, set only on
	// completion.
	Checksum string

	// Resumed is true when at least one attempt continued from a
	// partial staging file.
	Resumed bool

	// FromCache is true when the file was served from the local
	// download cache without touching the network.
	FromCache bool

	// Elapsed is the wall time from first probe to terminal state.
	Elapsed time.Duration

	// Err is the terminal error, set only on failure.
	Err error
}

// Completed returns true when the file reached its destination
func (o *Outcome) Completed() bool {
	return o.Status == StatusCompleted
}

// Cancelled returns true when the transfer stopped on caller request
func (o *Outcome) Cancelled() bool {
	return o.Status == StatusCancelled
}

// Failed returns true when the transfer ended with a terminal error
func (o *Outcome) Failed() bool {
	return o.Status == StatusFailed
}
