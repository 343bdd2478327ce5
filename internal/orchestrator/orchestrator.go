// Package orchestrator drives a testbench generation session: it builds the
// plan tree top-down by delegating to the specialist agents over the bus,
// resolves proposal conflicts deterministically, and runs the bounded
// lint-heal and coverage-closure loops. The orchestrator is the plan tree's
// sole writer; agents only ever see envelopes.
package orchestrator

import "fmt"

// Phase identifies a session phase for progress reporting.
type Phase int

const (
	PhasePlan Phase = iota
	PhaseGenerate
	PhaseLint
	PhaseCoverage
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhasePlan:
		return "plan"
	case PhaseGenerate:
		return "generate"
	case PhaseLint:
		return "lint"
	case PhaseCoverage:
		return "coverage"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ProgressStatus is the state of one progress event.
type ProgressStatus string

const (
	ProgressPending  ProgressStatus = "pending"
	ProgressWorking  ProgressStatus = "working"
	ProgressComplete ProgressStatus = "complete"
	ProgressFailed   ProgressStatus = "failed"
)

// ProgressEvent is one observable step of a running session.
type ProgressEvent struct {
	Phase     Phase
	Component string
	Status    ProgressStatus
	Message   string
}

// Result classifies how a session ended.
type Result string

const (
	// ResultSuccess: every node approved, lint clean, coverage target met.
	ResultSuccess Result = "success"
	// ResultLintExhausted: at least one node consumed its lint budget with
	// errors still present. Generation proceeded with the last artifact.
	ResultLintExhausted Result = "lint-exhausted"
	// ResultCoverageNotMet: the closure loop ran out of iterations below
	// the target.
	ResultCoverageNotMet Result = "coverage-not-met"
	// ResultNoProgress: coverage stopped improving within the patience
	// window before reaching the target.
	ResultNoProgress Result = "no-progress"
	// ResultAgentFailure: a plan node became terminal-failed during
	// construction, so no coherent testbench could be assembled.
	ResultAgentFailure Result = "agent-failure"
)

// Outcome is the structured result of a session, distinct from transport or
// input errors: a session that terminates with low coverage still produced
// artifacts and reports how far it got.
type Outcome struct {
	Result             Result
	FinalCoverage      float64
	CoverageIterations int
	LintRounds         int
	FailedComponents   []string
	Files              []string
}

// ExitCode maps the outcome onto the CLI exit code contract.
func (o *Outcome) ExitCode() int {
	switch o.Result {
	case ResultSuccess:
		return 0
	case ResultLintExhausted:
		return 2
	case ResultCoverageNotMet, ResultNoProgress:
		return 3
	case ResultAgentFailure:
		return 4
	default:
		return 1
	}
}

// Succeeded reports whether the session reached its goals in full.
func (o *Outcome) Succeeded() bool { return o.Result == ResultSuccess }
