package domain

import "time"

// Transfer phase constants
const (
	PhaseResolving  = "resolving"
	PhaseStreaming  = "streaming"
	PhaseFinalizing = "finalizing"
	PhaseDone       = "done"
	PhaseFailed     = "failed"
	PhaseCancelled  = "cancelled"
)

// Transfer tracks a single download through its lifecycle. The phase moves
// resolving -> streaming -> finalizing -> done. Failed and cancelled are
// terminal from any phase. Retries loop inside the streaming phase and
// never revisit resolving.
type Transfer struct {
	URL      string
	Filename string
	Dir      string

	Phase      string
	Attempt    int
	MaxRetries int

	BytesWritten int64
	TotalSize    int64
	ETag         string
	Resumed      bool

	StagingPath string
	FinalPath   string

	StartedAt time.Time
	LastError string
}

// NewTransfer creates a transfer in the resolving phase
func NewTransfer(url string, maxRetries int) *Transfer {
	return &Transfer{
		URL:        url,
		Phase:      PhaseResolving,
		MaxRetries: maxRetries,
		TotalSize:  SizeUnknown,
		StartedAt:  time.Now(),
	}
}

// BeginAttempt moves the transfer into the streaming phase and consumes
// one attempt from the budget
func (t *Transfer) BeginAttempt() {
	t.Phase = PhaseStreaming
	t.Attempt++
}

// CanRetry returns true while retry budget remains. Only transient
// failures consume it.
func (t *Transfer) CanRetry() bool {
	return t.Attempt <= t.MaxRetries
}

// MarkRetry records a transient failure ahead of another streaming attempt
func (t *Transfer) MarkRetry(err error) {
	if err != nil {
		t.LastError = err.Error()
	}
}

// MarkFinalizing moves the transfer into the finalizing phase
func (t *Transfer) MarkFinalizing() {
	t.Phase = PhaseFinalizing
}

// MarkDone marks the transfer as successfully completed
func (t *Transfer) MarkDone() {
	t.Phase = PhaseDone
}

// MarkFailed marks the transfer as terminally failed
func (t *Transfer) MarkFailed(err error) {
	t.Phase = PhaseFailed
	if err != nil {
		t.LastError = err.Error()
	}
}

// MarkCancelled marks the transfer as stopped on caller request. The
// staging file is kept so a later run can resume from it.
func (t *Transfer) MarkCancelled() {
	t.Phase = PhaseCancelled
}

// Terminal returns true once the transfer reached done, failed or cancelled
func (t *Transfer) Terminal() bool {
	switch t.Phase {
	case PhaseDone, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Elapsed returns the wall time since the transfer started
func (t *Transfer) Elapsed() time.Duration {
	return time.Since(t.StartedAt)
}
