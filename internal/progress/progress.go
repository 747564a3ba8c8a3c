// Package progress renders the single-line terminal progress bar the
// driver drives through its fixed milestone percentages (spec.md §4.5).
package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-colorable"
)

// eighths are the Unicode block glyphs used to render a fractional final
// cell, from empty to full in eighth-of-a-block steps.
var eighths = []rune{' ', '▏', '▎', '▍', '▌', '▋', '▊', '▉', '█'}

const barWidth = 40

// Bar is a one-line terminal progress bar. It is not safe for concurrent
// use; spec.md §5 guarantees the driver is its only caller.
type Bar struct {
	out    io.Writer
	last   int // last rendered permille, used to skip redundant redraws
	silent bool
}

// NewBar wraps stdout in a colorable writer so the carriage-return redraw
// below behaves on Windows consoles too. silent suppresses all output,
// for verbosity 0 being disabled entirely (e.g. non-interactive runs).
func NewBar(silent bool) *Bar {
	return &Bar{out: colorable.NewColorableStdout(), last: -1, silent: silent}
}

// Set redraws the bar for the given percentage in [0,100]. Calls that
// would not visibly move the bar (same permille as last time) are
// skipped, the same memoized-redraw discipline as a spinner that avoids
// flooding a terminal with identical frames.
func (b *Bar) Set(percent float64) {
	if b.silent {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	permille := int(percent * 10)
	if permille == b.last {
		return
	}
	b.last = permille

	filledCells := percent / 100 * float64(barWidth)
	full := int(filledCells)
	frac := filledCells - float64(full)
	eighth := int(frac * 8)

	var sb strings.Builder
	sb.WriteString(strings.Repeat(string(eighths[8]), full))
	if full < barWidth {
		sb.WriteRune(eighths[eighth])
		sb.WriteString(strings.Repeat(" ", barWidth-full-1))
	}

	fmt.Fprintf(b.out, "\r[%s] %5.1f%%", sb.String(), percent)
}

// Finish redraws at 100% and emits the trailing newline that ends the
// bar's line for good.
func (b *Bar) Finish() {
	if b.silent {
		return
	}
	b.Set(100)
	fmt.Fprintln(b.out)
}

// Range returns an interpolator from start to end percent given a
// done/total pair, the same linear scaling fetch_macossdk.c's
// p_start/p_end milestone math does across a stage's sub-progress.
func Range(start, end float64) func(done, total int64) float64 {
	return func(done, total int64) float64 {
		if total <= 0 {
			return start
		}
		frac := float64(done) / float64(total)
		if frac > 1 {
			frac = 1
		}
		return start + frac*(end-start)
	}
}
