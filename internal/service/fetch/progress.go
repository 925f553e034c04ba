package fetch

import (
	"math"
	"sync"
	"time"

	"github.com/quaffio/quaff/internal/domain"
)

// rateTimeConstant controls how quickly the smoothed rate forgets old
// samples. Larger values damp bursts and stalls harder.
const rateTimeConstant = 3 * time.Second

// Tracker is a scoped progress accumulator for a single transfer. Bytes
// only ever accumulate, and the terminal snapshot is flushed to the sink
// exactly once no matter how the transfer ends.
type Tracker struct {
	mu        sync.Mutex
	url       string
	filename  string
	phase     string
	total     int64
	done      int64
	rate      float64
	startedAt time.Time
	lastAt    time.Time
	finished  bool
	sink      func(domain.ProgressSnapshot)
}

// NewTracker creates a tracker for the given URL. The sink receives a
// snapshot after every advance and once more at the terminal flush; a
// nil sink disables reporting.
func NewTracker(url string, sink func(domain.ProgressSnapshot)) *Tracker {
	now := time.Now()
	return &Tracker{
		url:       url,
		phase:     domain.PhaseResolving,
		total:     domain.SizeUnknown,
		startedAt: now,
		lastAt:    now,
		sink:      sink,
	}
}

// SetFilename records the resolved filename for snapshots
func (tk *Tracker) SetFilename(name string) {
	tk.mu.Lock()
	tk.filename = name
	tk.mu.Unlock()
}

// SetTotal records the expected total size. SizeUnknown keeps percent
// and ETA absent.
func (tk *Tracker) SetTotal(total int64) {
	tk.mu.Lock()
	if total >= 0 {
		tk.total = total
	}
	tk.mu.Unlock()
}

// SetPhase records the current transfer phase
func (tk *Tracker) SetPhase(phase string) {
	tk.mu.Lock()
	tk.phase = phase
	tk.mu.Unlock()
}

// SeedBytes counts bytes persisted by an earlier run as already
// transferred, so resumed transfers report truthful totals. It does not
// feed the rate estimate.
func (tk *Tracker) SeedBytes(n int64) {
	if n <= 0 {
		return
	}
	tk.mu.Lock()
	tk.done += n
	tk.mu.Unlock()
}

// Advance adds n transferred bytes and pushes a snapshot to the sink.
// The cumulative count never decreases. Calls after the terminal flush
// are ignored.
func (tk *Tracker) Advance(n int) {
	if n <= 0 {
		return
	}

	tk.mu.Lock()
	if tk.finished {
		tk.mu.Unlock()
		return
	}

	tk.done += int64(n)

	now := time.Now()
	dt := now.Sub(tk.lastAt).Seconds()
	if dt > 0 {
		instant := float64(n) / dt
		if tk.rate == 0 {
			tk.rate = instant
		} else {
			// Irregular-interval exponential smoothing
			alpha := 1 - math.Exp(-dt/rateTimeConstant.Seconds())
			tk.rate += alpha * (instant - tk.rate)
		}
		tk.lastAt = now
	}

	snap := tk.snapshotLocked()
	sink := tk.sink
	tk.mu.Unlock()

	if sink != nil {
		sink(snap)
	}
}

// Snapshot returns the current progress without mutating it
func (tk *Tracker) Snapshot() domain.ProgressSnapshot {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.snapshotLocked()
}

// Finish flushes the terminal snapshot with the given phase. Idempotent:
// only the first call emits.
func (tk *Tracker) Finish(phase string) {
	tk.mu.Lock()
	if tk.finished {
		tk.mu.Unlock()
		return
	}
	tk.finished = true
	tk.phase = phase

	snap := tk.snapshotLocked()
	sink := tk.sink
	tk.mu.Unlock()

	if sink != nil {
		sink(snap)
	}
}

func (tk *Tracker) snapshotLocked() domain.ProgressSnapshot {
	return domain.ProgressSnapshot{
		URL:       tk.url,
		Filename:  tk.filename,
		Phase:     tk.phase,
		BytesDone: tk.done,
		TotalSize: tk.total,
		Rate:      tk.rate,
		Elapsed:   time.Since(tk.startedAt),
		Terminal:  tk.finished,
	}
}
