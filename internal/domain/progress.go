package domain

import "time"

// ProgressSnapshot is an immutable view of one transfer's progress at a
// point in time. Percent and ETA return an ok flag because both are
// undefined while the total size is unknown.
type ProgressSnapshot struct {
	URL       string
	Filename  string
	Phase     string
	BytesDone int64
	TotalSize int64
	Rate      float64
	Elapsed   time.Duration
	Terminal  bool
}

// Percent returns completion in [0,100] and true, or 0 and false while
// the total size is unknown.
func (s ProgressSnapshot) Percent() (float64, bool) {
	if s.TotalSize < 0 {
		return 0, false
	}
	if s.TotalSize == 0 {
		return 100, true
	}
	pct := float64(s.BytesDone) / float64(s.TotalSize) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// ETA returns the estimated remaining time and true, or 0 and false when
// the total size is unknown or the rate has not settled yet.
func (s ProgressSnapshot) ETA() (time.Duration, bool) {
	if s.TotalSize < 0 || s.Rate <= 0 {
		return 0, false
	}
	remaining := s.TotalSize - s.BytesDone
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(float64(remaining) / s.Rate * float64(time.Second)), true
}
