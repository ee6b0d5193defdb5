// Package progress provides a unified interface for progress reporting while
// waiting on knowledge base syncs: progress bars on a terminal, plain lines
// otherwise.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/kbpicker/kb-picker/internal/constants"
)

// Reporter is the interface for reporting progress.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// NewReporter returns a progress bar reporter when out is a terminal and a
// line reporter otherwise.
func NewReporter(out *os.File) Reporter {
	if IsTerminal(out) {
		return NewCLIProgress(out)
	}
	return NewLineProgress(out)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	if out == nil {
		out = os.Stderr
	}
	return &CLIProgress{out: out}
}

// Start initializes the progress bar with total count and description.
func (p *CLIProgress) Start(total int64, description string) {
	out := p.out
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(constants.ProgressUpdateInterval),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// LineProgress prints a line whenever the count changes. Used when output is
// redirected to a file or pipe.
type LineProgress struct {
	out         io.Writer
	description string
	total       int64
	last        int64
	started     bool
}

// NewLineProgress creates a line reporter writing to out.
func NewLineProgress(out io.Writer) *LineProgress {
	if out == nil {
		out = os.Stderr
	}
	return &LineProgress{out: out, last: -1}
}

// Start records the total and prints the initial line.
func (p *LineProgress) Start(total int64, description string) {
	p.total = total
	p.description = description
	p.started = true
	p.last = -1
	p.Update(0)
}

// Update prints the count if it changed.
func (p *LineProgress) Update(current int64) {
	if !p.started || current == p.last {
		return
	}
	p.last = current
	fmt.Fprintf(p.out, "%s %d/%d\n", p.description, current, p.total)
}

// Finish prints the final count.
func (p *LineProgress) Finish() {
	if p.started && p.last != p.total {
		p.Update(p.total)
	}
}

// Error displays an error message.
func (p *LineProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "Error: %v\n", err)
	}
}

// SetDescription changes the line prefix.
func (p *LineProgress) SetDescription(desc string) {
	p.description = desc
}

// NoOpProgress is a progress reporter that does nothing (for --json and quiet output).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(total int64, description string) {}

// Update does nothing.
func (p *NoOpProgress) Update(current int64) {}

// Finish does nothing.
func (p *NoOpProgress) Finish() {}

// Error does nothing.
func (p *NoOpProgress) Error(err error) {}

// SetDescription does nothing.
func (p *NoOpProgress) SetDescription(desc string) {}

// SyncTracker adapts a Reporter to the (synchronized, total) callbacks of a
// sync wait. The reporter is started on the first callback, once the total
// is known.
type SyncTracker struct {
	reporter    Reporter
	description string

	mu      sync.Mutex
	started bool
	total   int
}

// NewSyncTracker creates a tracker reporting through r.
func NewSyncTracker(r Reporter, description string) *SyncTracker {
	return &SyncTracker{reporter: r, description: description}
}

// OnProgress is passed as the sync wait progress callback.
func (t *SyncTracker) OnProgress(synchronized, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || total != t.total {
		t.reporter.Start(int64(total), t.description)
		t.started = true
		t.total = total
	}
	t.reporter.Update(int64(synchronized))
}

// Done finishes the reporter, or prints err.
func (t *SyncTracker) Done(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.reporter.Error(err)
		return
	}
	if t.started {
		t.reporter.Finish()
	}
}
