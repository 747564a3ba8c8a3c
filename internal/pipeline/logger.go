package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
)

// Logger prints the driver's step/trace/warning/error lines. Verbosity
// follows spec.md §6: 0 shows the progress bar only, 1 adds per-step
// messages, 2 adds per-entry traces. It never buffers or structures its
// output the way a structured-logging library would; like holo-build's
// showError and ShowWarning, it writes colored lines straight to the
// console.
type Logger struct {
	Verbosity int
	out       io.Writer
	errOut    io.Writer
}

// NewLogger wraps stdout/stderr with colorable writers so the ANSI escape
// sequences below render correctly on Windows consoles, the same reason
// rclone pulls in go-colorable for its own terminal output.
func NewLogger(verbosity int) *Logger {
	return &Logger{
		Verbosity: verbosity,
		out:       colorable.NewColorableStdout(),
		errOut:    colorable.NewColorableStderr(),
	}
}

// Step prints a per-step message (verbosity >= 1).
func (l *Logger) Step(format string, args ...interface{}) {
	if l.Verbosity >= 1 {
		fmt.Fprintf(l.out, format+"\n", args...)
	}
}

// Trace prints a per-entry message (verbosity >= 2).
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.Verbosity >= 2 {
		fmt.Fprintf(l.out, "    "+format+"\n", args...)
	}
}

// Warn prints a warning line, regardless of verbosity.
func (l *Logger) Warn(msg string) {
	fmt.Fprintf(l.errOut, "\x1b[33m\x1b[1m>>\x1b[0m %s\n", msg)
}

// ShowError prints a single diagnostic line for a fatal error, in the
// style the driver uses right before exiting with status 1.
func ShowError(err error) {
	fmt.Fprintf(os.Stderr, "\x1b[31m\x1b[1m!!\x1b[0m %s\n", err.Error())
}
