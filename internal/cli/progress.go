package cli

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// DownloadProgress renders a byte progress bar for one download. With a known
// total it shows a determinate bar, otherwise a spinner with a byte counter.
type DownloadProgress struct {
	label   string
	out     io.Writer
	enabled bool

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewDownloadProgress creates a renderer writing to out. A disabled renderer
// ignores every call.
func NewDownloadProgress(label string, out io.Writer, enabled bool) *DownloadProgress {
	if out == nil {
		out = os.Stderr
	}
	return &DownloadProgress{label: label, out: out, enabled: enabled}
}

// Update moves the bar to done. total is -1 when unknown.
func (p *DownloadProgress) Update(done, total int64) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = newBar(p.label, total, p.out)
	}
	_ = p.bar.Set64(done)
}

// Stop finalizes rendering.
func (p *DownloadProgress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	outputMu.Lock()
	_, _ = io.WriteString(p.out, "\n")
	outputMu.Unlock()
	p.bar = nil
}

func newBar(label string, total int64, out io.Writer) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
	)
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
