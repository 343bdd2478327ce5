package plan

import "time"

// RetryBudget bounds the two outer repair loops the orchestrator runs after
// plan approval.
type RetryBudget struct {
	// MaxLintRounds bounds lint-fix-relint rounds over the assembled
	// testbench.
	MaxLintRounds int
	// MaxCoverageIterations bounds coverage-directive iterations.
	MaxCoverageIterations int
}

// DefaultRetryBudget mirrors the defaults used when no configuration
// overrides them.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{
		MaxLintRounds:         DefaultMaxLintRounds,
		MaxCoverageIterations: 5,
	}
}

// CoverageSnapshot is one immutable observation of functional coverage.
type CoverageSnapshot struct {
	Timestamp      time.Time
	OverallPercent float64
	PerBin         map[string]bool
}

// Clone returns a deep copy so stored snapshots cannot be mutated by later
// observations.
func (s CoverageSnapshot) Clone() CoverageSnapshot {
	out := s
	if s.PerBin != nil {
		out.PerBin = make(map[string]bool, len(s.PerBin))
		for k, v := range s.PerBin {
			out.PerBin[k] = v
		}
	}
	return out
}

// ProgressTracker watches a sequence of coverage snapshots and decides when
// the closure loop has stopped making progress: fewer than MinDelta percent
// gained over Patience consecutive observations.
type ProgressTracker struct {
	MinDelta float64
	Patience int

	best    float64
	stale   int
	history []CoverageSnapshot
}

// NewProgressTracker creates a tracker. A non-positive patience disables
// stall detection.
func NewProgressTracker(minDelta float64, patience int) *ProgressTracker {
	return &ProgressTracker{MinDelta: minDelta, Patience: patience, best: -1}
}

// Observe records a snapshot and reports whether it improved on the best
// seen so far by at least MinDelta.
func (t *ProgressTracker) Observe(s CoverageSnapshot) bool {
	t.history = append(t.history, s.Clone())
	if t.best < 0 || s.OverallPercent >= t.best+t.MinDelta {
		if s.OverallPercent > t.best {
			t.best = s.OverallPercent
		}
		t.stale = 0
		return true
	}
	if s.OverallPercent > t.best {
		t.best = s.OverallPercent
	}
	t.stale++
	return false
}

// Stalled reports whether Patience consecutive observations failed to
// improve coverage by MinDelta.
func (t *ProgressTracker) Stalled() bool {
	return t.Patience > 0 && t.stale >= t.Patience
}

// Best returns the highest overall percentage observed, or 0 before any
// observation.
func (t *ProgressTracker) Best() float64 {
	if t.best < 0 {
		return 0
	}
	return t.best
}

// History returns a copy of all observations in order.
func (t *ProgressTracker) History() []CoverageSnapshot {
	out := make([]CoverageSnapshot, len(t.history))
	for i, s := range t.history {
		out[i] = s.Clone()
	}
	return out
}
