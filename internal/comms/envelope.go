// Package comms provides the in-process communication substrate for the
// testbench generation agents: a typed publish/subscribe MessageBus and a
// DialogueManager that layers request/response correlation on top of it.
package comms

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of an envelope's payload.
type Kind string

const (
	KindPlanRequest       Kind = "plan-request"
	KindPlanResponse      Kind = "plan-response"
	KindReviewFeedback    Kind = "review-feedback"
	KindInterfaceContract Kind = "interface-contract"
	KindSequenceProposal  Kind = "sequence-proposal"
	KindCoverageReport    Kind = "coverage-report"
	KindCoverageDirective Kind = "coverage-directive"
	KindCodeArtifact      Kind = "code-artifact"
)

// Kinds lists every envelope kind in declaration order.
var Kinds = []Kind{
	KindPlanRequest,
	KindPlanResponse,
	KindReviewFeedback,
	KindInterfaceContract,
	KindSequenceProposal,
	KindCoverageReport,
	KindCoverageDirective,
	KindCodeArtifact,
}

// Broadcast is the special recipient that matches every subscriber.
const Broadcast = "*"

// Envelope is the immutable message unit carried by the bus. Once published,
// an envelope is never mutated; responses are new envelopes that carry the
// request's ID in CorrelationID.
type Envelope struct {
	ID            string
	Kind          Kind
	From          string
	To            string // agent id, or Broadcast
	CorrelationID string // empty for unsolicited messages
	Payload       any    // opaque to the bus and dialogue layers
	CreatedAt     time.Time
}

// NewEnvelope builds an envelope with a fresh ID and timestamp.
func NewEnvelope(kind Kind, from, to string, payload any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		From:      from,
		To:        to,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// IsResponse reports whether the envelope kind answers an outstanding
// request. Only these kinds are matched against pending exchanges;
// interface contracts are excluded because they go out as uncorrelated
// broadcasts, never as the answer to a request.
func (k Kind) IsResponse() bool {
	switch k {
	case KindPlanResponse, KindSequenceProposal:
		return true
	}
	return false
}
