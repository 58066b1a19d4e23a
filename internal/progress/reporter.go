// Package progress reports progress of multi-session batch commands such
// as export --all and process --all.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Reporter receives per-session progress from a batch run.
type Reporter interface {
	Start(total int)
	Update(current int, sessionID string)
	Finish()
}

// NewReporter returns a LineReporter on stderr when running under CI, and
// a TerminalReporter otherwise. label names the batch ("Exporting").
func NewReporter(label string) Reporter {
	if os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" {
		return &LineReporter{Label: label, Out: os.Stderr}
	}
	return &TerminalReporter{Label: label}
}

// TerminalReporter displays a progress bar in the terminal.
type TerminalReporter struct {
	Label string
	bar   *progressbar.ProgressBar
}

func (r *TerminalReporter) Start(total int) {
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(r.Label),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (r *TerminalReporter) Update(current int, sessionID string) {
	if r.bar != nil {
		r.bar.Describe(fmt.Sprintf("%s %s", r.Label, sessionID))
		_ = r.bar.Set(current)
	}
}

func (r *TerminalReporter) Finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

// LineReporter prints one line per session, suitable for CI logs.
type LineReporter struct {
	Label string
	Out   io.Writer
	total int
}

func (r *LineReporter) Start(total int) {
	r.total = total
	fmt.Fprintf(r.Out, "%s %d session(s)\n", r.Label, total)
}

func (r *LineReporter) Update(current int, sessionID string) {
	fmt.Fprintf(r.Out, "[%d/%d] %s\n", current, r.total, sessionID)
}

func (r *LineReporter) Finish() {
	fmt.Fprintf(r.Out, "%s done\n", r.Label)
}

// Nop discards all progress.
type Nop struct{}

func (Nop) Start(int)          {}
func (Nop) Update(int, string) {}
func (Nop) Finish()            {}
