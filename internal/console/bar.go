package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/util/ratelimiter"
)

const (
	barBefore = " |"
	barAfter  = "| "
	barFill   = "█"
	barEmpty  = " "

	hideCursor = "\x1b[?25l"
	showCursor = "\x1b[?25h"
)

// Options configures the progress bar.
type Options struct {
	// Output is where the bar is drawn. Default: os.Stdout.
	Output io.Writer

	// Width is the bar width in characters, rails excluded. Default: 32.
	Width int

	// RepaintInterval throttles redraws. Snapshots arrive once per chunk,
	// far faster than a terminal needs. Default: 100ms.
	RepaintInterval time.Duration

	// NoCursorControl disables the cursor hide/show escapes, for streams
	// that are not terminals.
	NoCursorControl bool
}

// Bar renders transfer progress as a single rewritten terminal line.
// Observe is the snapshot callback; feed it to the fetch progress hook.
// When the total size is unknown the bar area cycles dots instead of
// filling.
type Bar struct {
	opts    Options
	repaint *ratelimiter.Limiter

	mu           sync.Mutex
	lastPhase    string
	lastLen      int
	spin         int
	drew         bool
	cursorHidden bool
	ended        bool
}

// NewBar creates a progress bar.
func NewBar(opts Options) *Bar {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Width <= 0 {
		opts.Width = 32
	}
	if opts.RepaintInterval <= 0 {
		opts.RepaintInterval = 100 * time.Millisecond
	}
	return &Bar{
		opts:    opts,
		repaint: ratelimiter.New(opts.RepaintInterval),
	}
}

// Observe renders a progress snapshot. Terminal snapshots draw a final
// line, append a newline and restore the cursor; anything after that is
// ignored.
func (b *Bar) Observe(snap domain.ProgressSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}

	if snap.Terminal {
		b.draw(snap)
		fmt.Fprintln(b.opts.Output)
		b.restoreCursor()
		b.ended = true
		return
	}

	// Phase transitions repaint immediately, mid-phase chunks are
	// throttled.
	if snap.Phase != b.lastPhase {
		b.lastPhase = snap.Phase
		b.repaint.ForceNext()
	}
	if ok, _ := b.repaint.Allow(); !ok {
		return
	}

	b.draw(snap)
}

// Stop restores the cursor and stops further rendering. Safe to call
// after a terminal snapshot already ended the bar.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}
	if b.drew {
		fmt.Fprintln(b.opts.Output)
	}
	b.restoreCursor()
	b.ended = true
}

func (b *Bar) draw(snap domain.ProgressSnapshot) {
	if !b.opts.NoCursorControl && !b.cursorHidden {
		fmt.Fprint(b.opts.Output, hideCursor)
		b.cursorHidden = true
	}

	line := phaseLabel(snap.Phase) + b.barText(snap) + b.suffixText(snap)

	// Pad over residue from a longer previous line.
	if pad := b.lastLen - len([]rune(line)); pad > 0 {
		line += strings.Repeat(" ", pad)
	} else {
		b.lastLen = len([]rune(line))
	}

	fmt.Fprint(b.opts.Output, "\r"+line)
	b.drew = true
}

func (b *Bar) barText(snap domain.ProgressSnapshot) string {
	pct, ok := snap.Percent()
	if !ok {
		// Unknown total: cycle one to three dots across the bar area.
		b.spin++
		dots := strings.Repeat(".", b.spin%3+1)
		width := len(barBefore) + len(barAfter) + b.opts.Width
		return padRight(" "+dots, width)
	}

	fill := int(pct / 100 * float64(b.opts.Width))
	if fill > b.opts.Width {
		fill = b.opts.Width
	}
	return barBefore +
		strings.Repeat(barFill, fill) +
		strings.Repeat(barEmpty, b.opts.Width-fill) +
		barAfter
}

func (b *Bar) suffixText(snap domain.ProgressSnapshot) string {
	done := humanize.IBytes(uint64(snap.BytesDone))

	var sb strings.Builder
	if snap.TotalSize >= 0 {
		fmt.Fprintf(&sb, "[%s/%s]", done, humanize.IBytes(uint64(snap.TotalSize)))
	} else {
		fmt.Fprintf(&sb, "[%s]", done)
	}

	if snap.Rate > 0 {
		fmt.Fprintf(&sb, " %s/s", humanize.IBytes(uint64(snap.Rate)))
	}

	if snap.Terminal {
		fmt.Fprintf(&sb, " elapsed %s", formatDuration(snap.Elapsed))
		return sb.String()
	}

	if eta, ok := snap.ETA(); ok {
		fmt.Fprintf(&sb, " eta %s", formatDuration(eta))
	}
	return sb.String()
}

func (b *Bar) restoreCursor() {
	if b.cursorHidden {
		fmt.Fprint(b.opts.Output, showCursor)
		b.cursorHidden = false
	}
}

func phaseLabel(phase string) string {
	switch phase {
	case domain.PhaseResolving:
		return "resolving"
	case domain.PhaseStreaming:
		return "downloading"
	case domain.PhaseFinalizing:
		return "finalizing"
	case domain.PhaseDone:
		return "done"
	case domain.PhaseFailed:
		return "failed"
	case domain.PhaseCancelled:
		return "cancelled"
	default:
		return phase
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
