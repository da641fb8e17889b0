// Package progress renders download progress to a console-like sink.
// The reporter is a pure observer of fetch events: it never influences
// retries or data flow, and every formatting choice here is cosmetic.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KelceyDrummond/forage/internal/fetch"
)

const (
	// rateWindow is the trailing window used to smooth the transfer rate
	rateWindow = 3 * time.Second
	// redrawInterval throttles in-place line updates
	redrawInterval = 100 * time.Millisecond
)

type sample struct {
	at    time.Time
	bytes int64
}

// Reporter consumes one stream's event channel and renders an updating
// status line.
type Reporter struct {
	label    string
	filename string
	total    int64
	out      io.Writer

	received int64
	samples  []sample
	started  time.Time
	lastDraw time.Time
	done     chan struct{}
}

// NewReporter creates a reporter for one download. Pass total -1 when
// the size is unknown.
func NewReporter(label, filename string, total int64, out io.Writer) *Reporter {
	return &Reporter{
		label:    label,
		filename: filename,
		total:    total,
		out:      out,
		done:     make(chan struct{}),
	}
}

// Run drains the event channel until it closes. It is meant to run in
// its own goroutine; Wait blocks until the final line was printed.
func (r *Reporter) Run(events <-chan fetch.Event) {
	defer close(r.done)
	r.started = time.Now()

	for ev := range events {
		switch ev.Type {
		case fetch.EventChunk:
			r.received += ev.Bytes
			r.recordSample()
			r.redraw(false)

		case fetch.EventRetry:
			// A newline keeps the in-progress bar intact above the notice
			fmt.Fprintf(r.out, "\n[forage] %s: retry %d/%d: %v\n",
				r.label, ev.Attempt, ev.MaxRetries, ev.Err)

		case fetch.EventEnd:
			r.redraw(true)
			fmt.Fprintf(r.out, "\r[forage] %s: %s ✓ %s in %s%s\n",
				r.label, r.filename, formatBytes(r.received),
				formatDuration(time.Since(r.started)), clearTail)

		case fetch.EventError:
			fmt.Fprintf(r.out, "\r[forage] %s: %s ✗ %v%s\n",
				r.label, r.filename, ev.Err, clearTail)
		}
	}
}

// Wait blocks until the event channel closed and the final line was
// written.
func (r *Reporter) Wait() {
	<-r.done
}

// clearTail pads the end of rewritten lines so shorter lines fully
// overwrite longer ones.
const clearTail = "          "

func (r *Reporter) recordSample() {
	now := time.Now()
	r.samples = append(r.samples, sample{at: now, bytes: r.received})

	// Trim samples older than the smoothing window
	cutoff := now.Add(-rateWindow)
	trim := 0
	for trim < len(r.samples)-1 && r.samples[trim].at.Before(cutoff) {
		trim++
	}
	r.samples = r.samples[trim:]
}

func (r *Reporter) redraw(force bool) {
	now := time.Now()
	if !force && now.Sub(r.lastDraw) < redrawInterval {
		return
	}
	r.lastDraw = now

	rate := r.rate()

	var percent, eta string
	if r.total > 0 {
		percent = fmt.Sprintf("%5.1f%%", float64(r.received)/float64(r.total)*100)
		if rate > 0 {
			remaining := float64(r.total-r.received) / rate
			eta = formatDuration(time.Duration(remaining * float64(time.Second)))
		} else {
			eta = "--:--"
		}
	} else {
		// Unknown total: indeterminate percentage and ETA
		percent = "  0.0%"
		eta = "--:--"
	}

	fmt.Fprintf(r.out, "\r[forage] %s: %s  %s  %s  %s/s  ETA %s%s",
		r.label, r.filename, percent, formatBytes(r.received),
		formatBytes(int64(rate)), eta, clearTail)
}

// rate returns the smoothed transfer rate over the trailing window.
func (r *Reporter) rate() float64 {
	if len(r.samples) < 2 {
		return 0
	}
	first, last := r.samples[0], r.samples[len(r.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as mm:ss or hh:mm:ss.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "--:--"
	}
	d = d.Round(time.Second)

	var b strings.Builder
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		fmt.Fprintf(&b, "%02d:", h)
	}
	fmt.Fprintf(&b, "%02d:%02d", m, s)
	return b.String()
}
