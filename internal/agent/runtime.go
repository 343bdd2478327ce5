package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/comms"
)

// Runtime consumes a role's envelopes from the bus and answers them via the
// injected Proposer. One Runtime per role.
type Runtime struct {
	role     Role
	bus      *comms.MessageBus
	proposer Proposer
	logger   *zap.Logger

	sub *comms.Subscription
	wg  sync.WaitGroup

	mu          sync.Mutex
	contract    comms.InterfaceContract
	hasContract bool
}

// NewRuntime creates a runtime for the given role. A nil logger defaults to
// zap.NewNop().
func NewRuntime(role Role, bus *comms.MessageBus, proposer Proposer, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		role:     role,
		bus:      bus,
		proposer: proposer,
		logger:   logger.With(zap.String("role", string(role))),
	}
}

// Role returns the runtime's role.
func (r *Runtime) Role() Role { return r.role }

// Start subscribes the runtime to its address and begins consuming.
func (r *Runtime) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(comms.Filter{To: string(r.role)})
	if err != nil {
		return fmt.Errorf("agent: subscribe %s: %w", r.role, err)
	}
	r.sub = sub
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop cancels the subscription and waits for the consumer loop to drain.
func (r *Runtime) Stop() {
	if r.sub != nil {
		r.bus.Unsubscribe(r.sub)
	}
	r.wg.Wait()
}

func (r *Runtime) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.sub.Done():
			return
		case env := <-r.sub.C():
			r.handle(ctx, env)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, env comms.Envelope) {
	switch env.Kind {
	case comms.KindPlanRequest:
		req, ok := env.Payload.(comms.PlanRequest)
		if !ok {
			r.dropPayload(env)
			return
		}
		r.answerPlan(ctx, env, req)

	case comms.KindReviewFeedback:
		fb, ok := env.Payload.(comms.ReviewFeedback)
		if !ok {
			r.dropPayload(env)
			return
		}
		if fb.Approved {
			r.logger.Debug("proposal approved", zap.String("component", fb.ComponentName))
			return
		}
		r.answerRevision(ctx, env, fb)

	case comms.KindCoverageDirective:
		dir, ok := env.Payload.(comms.CoverageDirective)
		if !ok {
			r.dropPayload(env)
			return
		}
		r.answerDirective(ctx, env, dir)

	case comms.KindInterfaceContract:
		// Broadcast contracts are remembered so later sequence proposals
		// honor the current transaction shape.
		if c, ok := env.Payload.(comms.InterfaceContract); ok {
			r.mu.Lock()
			r.contract = c
			r.hasContract = true
			r.mu.Unlock()
			r.logger.Debug("recorded interface contract", zap.String("interface", c.InterfaceName))
		}

	default:
		r.logger.Debug("ignoring envelope", zap.String("kind", string(env.Kind)))
	}
}

func (r *Runtime) answerPlan(ctx context.Context, env comms.Envelope, req comms.PlanRequest) {
	prop, err := r.proposer.Propose(ctx, r.role, req)
	if err != nil {
		r.replyFailure(env, req.ComponentName, err)
		return
	}
	r.publishProposal(env, req.ComponentName, prop)
}

func (r *Runtime) answerRevision(ctx context.Context, env comms.Envelope, fb comms.ReviewFeedback) {
	prop, err := r.proposer.Revise(ctx, r.role, fb)
	if err != nil {
		r.replyFailure(env, fb.ComponentName, err)
		return
	}
	r.publishProposal(env, fb.ComponentName, prop)
}

func (r *Runtime) answerDirective(ctx context.Context, env comms.Envelope, dir comms.CoverageDirective) {
	r.mu.Lock()
	contract := r.contract
	r.mu.Unlock()

	seq, err := r.proposer.ProposeSequence(ctx, dir, contract)
	if err != nil {
		r.logger.Warn("sequence proposal failed", zap.Error(err))
		seq = comms.SequenceProposal{TargetScenario: "proposal failed: " + err.Error()}
	}
	r.publish(comms.Reply(env, comms.KindSequenceProposal, string(r.role), seq))
}

// publishProposal sends the plan response and, for the interface role,
// broadcasts the accompanying contract so sequence specialists can track it.
// The contract goes out first: by the time the response resolves the
// requester's exchange, every subscriber queue already holds the broadcast.
func (r *Runtime) publishProposal(env comms.Envelope, component string, prop Proposal) {
	if prop.Contract != nil {
		r.mu.Lock()
		r.contract = *prop.Contract
		r.hasContract = true
		r.mu.Unlock()
		r.publish(comms.NewEnvelope(comms.KindInterfaceContract, string(r.role), comms.Broadcast, *prop.Contract))
	}

	resp := comms.PlanResponse{
		ComponentName: component,
		ProposedCode:  prop.Code,
		ProposedPlan:  prop.Plan,
		Notes:         prop.Notes,
		Confidence:    prop.Confidence,
	}
	r.publish(comms.Reply(env, comms.KindPlanResponse, string(r.role), resp))
}

// replyFailure answers with a zero-confidence response instead of going
// silent, so the requester fails fast rather than timing out.
func (r *Runtime) replyFailure(env comms.Envelope, component string, err error) {
	r.logger.Warn("proposal failed", zap.String("component", component), zap.Error(err))
	r.publish(comms.Reply(env, comms.KindPlanResponse, string(r.role), comms.PlanResponse{
		ComponentName: component,
		Notes:         []string{"proposal failed: " + err.Error()},
		Confidence:    0,
	}))
}

func (r *Runtime) publish(env comms.Envelope) {
	if err := r.bus.Publish(env); err != nil {
		r.logger.Warn("publish failed", zap.String("kind", string(env.Kind)), zap.Error(err))
	}
}

func (r *Runtime) dropPayload(env comms.Envelope) {
	r.logger.Warn("unexpected payload type",
		zap.String("kind", string(env.Kind)),
		zap.String("from", env.From))
}
