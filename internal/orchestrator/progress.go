package orchestrator

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fra-l/verifai/internal/plan"
)

// progressBuffer is the event queue size. Emitters never block on a slow
// consumer; past this depth they drop.
const progressBuffer = 64

// ProgressReporter queues progress events for a single consumer. Emit is
// safe from any goroutine. The reporter carries exactly one event stream:
// Events always returns the same channel, so a second concurrent consumer
// would steal events rather than see a copy.
type ProgressReporter struct {
	ch      chan ProgressEvent
	dropped atomic.Int64
}

// NewProgressReporter creates a reporter with an empty queue.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{ch: make(chan ProgressEvent, progressBuffer)}
}

// Emit queues an event without blocking. When the consumer lags a full
// buffer behind, the event is counted and discarded.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	select {
	case pr.ch <- event:
	default:
		pr.dropped.Add(1)
	}
}

// Events returns the single event stream. Range over it until Close ends it.
func (pr *ProgressReporter) Events() <-chan ProgressEvent {
	return pr.ch
}

// Dropped reports how many events were discarded against a full buffer.
func (pr *ProgressReporter) Dropped() int64 {
	return pr.dropped.Load()
}

// Close ends the event stream. No Emit may follow.
func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// statusGlyph maps a progress status onto its listing glyph.
func statusGlyph(st ProgressStatus) string {
	switch st {
	case ProgressWorking:
		return "●"
	case ProgressComplete:
		return "✓"
	case ProgressFailed:
		return "✗"
	default:
		return "○"
	}
}

// FormatProgress renders one event as a status line, phase first.
func FormatProgress(event ProgressEvent) string {
	line := fmt.Sprintf("  %s [%s] %s", statusGlyph(event.Status), event.Phase, event.Component)
	if event.Message != "" {
		line += ": " + event.Message
	}
	return line
}

// FormatPlan renders the plan tree as an indented listing with one status
// glyph per node, for the plan preview command.
func FormatPlan(t *plan.Tree) string {
	var b strings.Builder
	t.Walk(func(n *plan.Node) {
		indent := strings.Repeat("  ", n.Depth())
		glyph := "○"
		switch {
		case n.Failed:
			glyph = "✗"
		case n.Status == plan.StatusApproved:
			glyph = "✓"
		case n.Status == plan.StatusRejected:
			glyph = "✗"
		case n.Status == plan.StatusSuperseded:
			glyph = "↺"
		}
		fmt.Fprintf(&b, "%s%s %s [%s] (%s)\n", indent, glyph, n.Identity, n.Type, n.VisibleStatus())
	})
	return b.String()
}
