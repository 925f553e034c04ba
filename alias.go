package quaff

import (
	"github.com/quaffio/quaff/internal/domain"
)

// SizeUnknown marks a total size the server never announced.
const SizeUnknown = domain.SizeUnknown

// Outcome status values, see Outcome.Status.
const (
	StatusCompleted = domain.StatusCompleted
	StatusFailed    = domain.StatusFailed
	StatusCancelled = domain.StatusCancelled
)

// Transfer phase values, see ProgressSnapshot.Phase.
const (
	PhaseResolving  = domain.PhaseResolving
	PhaseStreaming  = domain.PhaseStreaming
	PhaseFinalizing = domain.PhaseFinalizing
	PhaseDone       = domain.PhaseDone
	PhaseFailed     = domain.PhaseFailed
	PhaseCancelled  = domain.PhaseCancelled
)

// Re-exported domain types. The library speaks these at its boundary.
type (
	// Outcome reports how a download ended.
	Outcome = domain.Outcome

	// ProgressSnapshot is one observation of a running transfer.
	ProgressSnapshot = domain.ProgressSnapshot

	// CacheStats summarizes the download cache.
	CacheStats = domain.CacheStats

	// UnreachableError means the resource could not be opened at all.
	UnreachableError = domain.UnreachableError

	// TransientError marks a retryable mid-stream failure.
	TransientError = domain.TransientError

	// IncompleteTransferError reports a byte-count mismatch at finalize.
	IncompleteTransferError = domain.IncompleteTransferError

	// DestinationError reports a destination filesystem failure.
	DestinationError = domain.DestinationError

	// ExhaustedError wraps the last failure after the retry budget.
	ExhaustedError = domain.ExhaustedError
)

// Sentinel errors.
var (
	ErrNoFilename = domain.ErrNoFilename
	ErrEmptyURL   = domain.ErrEmptyURL
	ErrCacheMiss  = domain.ErrCacheMiss
)

// IsUnreachable returns true if the resource could not be opened.
func IsUnreachable(err error) bool { return domain.IsUnreachable(err) }

// IsTransient returns true if the error triggered resumed retries.
func IsTransient(err error) bool { return domain.IsTransient(err) }

// IsIncomplete returns true if the transfer ended with a size mismatch.
func IsIncomplete(err error) bool { return domain.IsIncomplete(err) }

// IsDestination returns true for destination filesystem failures.
func IsDestination(err error) bool { return domain.IsDestination(err) }
