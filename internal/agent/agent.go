// Package agent hosts the specialist roles that answer orchestrator
// requests over the bus. Each role wraps an injected Proposer, so the same
// runtime serves LLM-backed production agents and deterministic test
// doubles.
package agent

import (
	"context"

	"github.com/fra-l/verifai/internal/comms"
)

// Role identifies a specialist on the bus. The role string doubles as the
// agent's bus address.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleEnvironment  Role = "environment-agent"
	RoleInterface    Role = "interface-agent"
	RoleSequence     Role = "sequence-agent"
	RoleScoreboard   Role = "scoreboard-agent"
)

// SpecialistRoles lists the roles the orchestrator delegates to, in spawn
// order.
var SpecialistRoles = []Role{RoleEnvironment, RoleInterface, RoleSequence, RoleScoreboard}

// Proposal is a Proposer's answer to one plan request.
type Proposal struct {
	Code       string
	Plan       map[string]any
	Notes      []string
	Confidence float64
	// Contract is set by the interface role alongside its code proposal.
	Contract *comms.InterfaceContract
}

// Proposer produces component proposals for a role. Implementations:
// llm.Proposer (production), test stubs.
type Proposer interface {
	// Propose answers an initial plan request.
	Propose(ctx context.Context, role Role, req comms.PlanRequest) (Proposal, error)
	// Revise answers rejection feedback with an improved proposal.
	Revise(ctx context.Context, role Role, fb comms.ReviewFeedback) (Proposal, error)
	// ProposeSequence answers a coverage directive with new stimulus. The
	// contract may be zero-valued when no interface contract was seen yet.
	ProposeSequence(ctx context.Context, directive comms.CoverageDirective, contract comms.InterfaceContract) (comms.SequenceProposal, error)
}
