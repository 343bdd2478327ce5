package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/codegen"
	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/coverage"
	"github.com/fra-l/verifai/internal/dut"
	"github.com/fra-l/verifai/internal/lint"
	"github.com/fra-l/verifai/internal/plan"
	"github.com/fra-l/verifai/internal/store"
)

// DefaultReviewThreshold is the minimum proposal confidence accepted without
// a revision round.
const DefaultReviewThreshold = 0.3

// Config carries the per-session settings.
type Config struct {
	DUT       *dut.Spec
	OutputDir string
	Simulator string
	// TestName overrides the generated top-level test name. Empty selects
	// "<dut>_test".
	TestName string

	CoverageTarget   float64
	Budget           plan.RetryBudget
	ProgressMinDelta float64
	ProgressPatience int

	// DialogueTimeout bounds each request/response exchange.
	DialogueTimeout time.Duration
	// ReviewThreshold is the minimum confidence for first-pass approval.
	ReviewThreshold float64
}

func (c *Config) applyDefaults() {
	if c.TestName == "" && c.DUT != nil {
		c.TestName = c.DUT.Name + "_test"
	}
	if c.CoverageTarget <= 0 {
		c.CoverageTarget = 95.0
	}
	if c.Budget.MaxLintRounds <= 0 || c.Budget.MaxCoverageIterations <= 0 {
		def := plan.DefaultRetryBudget()
		if c.Budget.MaxLintRounds <= 0 {
			c.Budget.MaxLintRounds = def.MaxLintRounds
		}
		if c.Budget.MaxCoverageIterations <= 0 {
			c.Budget.MaxCoverageIterations = def.MaxCoverageIterations
		}
	}
	if c.ProgressMinDelta <= 0 {
		c.ProgressMinDelta = 1.0
	}
	if c.ProgressPatience <= 0 {
		c.ProgressPatience = 2
	}
	if c.DialogueTimeout <= 0 {
		c.DialogueTimeout = 2 * time.Minute
	}
	if c.ReviewThreshold <= 0 {
		c.ReviewThreshold = DefaultReviewThreshold
	}
}

// Deps are the session's collaborators. Bus is required; the agent runtimes
// must be spawned on the same bus by the caller. Linter and Coverage are
// optional: a nil linter skips the heal loop and a nil provider skips
// coverage closure. A nil store defaults to an in-memory audit.
type Deps struct {
	Bus      *comms.MessageBus
	Linter   lint.Linter
	Coverage coverage.Provider
	Store    store.Store
	Logger   *zap.Logger
}

// Session is one testbench generation run. It owns the plan tree and is its
// sole writer; every mutation happens on the session goroutine in reaction
// to a resolved exchange.
type Session struct {
	cfg      Config
	bus      *comms.MessageBus
	dialogue *comms.DialogueManager
	emitter  *codegen.Emitter
	project  *codegen.ProjectManager
	linter   lint.Linter
	coverage coverage.Provider
	store    store.Store
	progress *ProgressReporter
	logger   *zap.Logger

	tree *plan.Tree

	// Latest interface contract seen on the bus, revisioned so stale
	// sequence proposals can be detected. Written only by the session
	// goroutine via drainContracts.
	contractSub *comms.Subscription
	contract    comms.InterfaceContract
	contractRev int

	lintRounds    int
	coverageIters int
	finalCoverage float64
}

// NewSession validates the configuration and wires a session.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if cfg.DUT == nil {
		return nil, fmt.Errorf("orchestrator: DUT spec is required")
	}
	if err := cfg.DUT.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid DUT spec: %w", err)
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("orchestrator: bus is required")
	}
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := deps.Store
	if st == nil {
		st = store.NewMemStore()
	}
	emitter, err := codegen.NewEmitter()
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		bus:      deps.Bus,
		dialogue: comms.NewDialogueManager(deps.Bus, string(agent.RoleOrchestrator), logger),
		emitter:  emitter,
		project:  codegen.NewProjectManager(cfg.OutputDir, logger),
		linter:   deps.Linter,
		coverage: deps.Coverage,
		store:    st,
		progress: NewProgressReporter(),
		logger:   logger.With(zap.String("dut", cfg.DUT.Name)),
	}, nil
}

// Progress returns the session's single progress stream; Run closes it on
// the way out, ending the consumer's range loop.
func (s *Session) Progress() <-chan ProgressEvent {
	return s.progress.Events()
}

// Tree returns the plan tree, nil before Plan or Run.
func (s *Session) Tree() *plan.Tree { return s.tree }

// Dialogue exposes the exchange history for the audit trail.
func (s *Session) Dialogue() *comms.DialogueManager { return s.dialogue }

// Plan builds the plan tree from the DUT spec without contacting any agent:
// one environment root, one interface node per protocol group (or a single
// default group), one sequence node per interface, and one scoreboard.
func (s *Session) Plan() (*plan.Tree, error) {
	spec := s.cfg.DUT

	root := plan.NewNode(plan.ComponentEnvironment, spec.Name+"_env")
	root.Budget = s.cfg.Budget.MaxLintRounds
	tree := plan.NewTree(root)

	protocols := spec.Protocols
	if len(protocols) == 0 {
		protocols = []dut.Protocol{{Name: spec.Name}}
	}
	for _, proto := range protocols {
		iface := plan.NewNode(plan.ComponentInterface, proto.Name+"_if")
		iface.Budget = root.Budget
		if err := tree.Attach(root, iface); err != nil {
			return nil, err
		}
		seq := plan.NewNode(plan.ComponentSequence, proto.Name+"_base_seq")
		seq.Budget = root.Budget
		if err := tree.Attach(iface, seq); err != nil {
			return nil, err
		}
	}

	sb := plan.NewNode(plan.ComponentScoreboard, spec.Name+"_scoreboard")
	sb.Budget = root.Budget
	if err := tree.Attach(root, sb); err != nil {
		return nil, err
	}

	s.tree = tree
	return tree, nil
}

// Run executes the full session: plan construction, assembly, lint-heal, and
// coverage closure. The returned Outcome classifies partial results; a
// non-nil error means the session itself could not run (bad input, transport
// breakdown, cancellation).
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	if _, err := s.Plan(); err != nil {
		return nil, err
	}

	if err := s.dialogue.Start(); err != nil {
		return nil, err
	}
	defer s.dialogue.Close()
	// No events are emitted after Run returns; closing lets consumers of
	// Progress() terminate their range loops.
	defer s.progress.Close()

	sub, err := s.bus.Subscribe(comms.Filter{Kinds: []comms.Kind{comms.KindInterfaceContract}})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: subscribe contracts: %w", err)
	}
	s.contractSub = sub
	defer s.bus.Unsubscribe(sub)

	// Audit what happened even when the run is cancelled part way.
	defer s.persistAudit(context.WithoutCancel(ctx))

	if err := s.constructPlan(ctx); err != nil {
		return nil, err
	}
	if failed := s.failedIdentities(); len(failed) > 0 {
		return &Outcome{Result: ResultAgentFailure, FailedComponents: failed}, nil
	}

	s.assemble()

	if err := s.lintHeal(ctx); err != nil {
		return nil, err
	}
	// A revised interface may have changed the transaction contract; any
	// sequence that consumed the old revision is re-requested before the
	// closure loop starts exercising it.
	if err := s.resolveContractConflicts(ctx); err != nil {
		return nil, err
	}

	covResult, err := s.coverageClosure(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.finalizeProject(); err != nil {
		return nil, err
	}
	files, err := s.project.WriteAll()
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Result:             covResult,
		FinalCoverage:      s.finalCoverage,
		CoverageIterations: s.coverageIters,
		LintRounds:         s.lintRounds,
		FailedComponents:   s.failedIdentities(),
		Files:              files,
	}
	if len(out.FailedComponents) > 0 {
		// Lint exhaustion outranks the coverage verdict: it is the
		// earlier root cause and the artifacts are known-dirty.
		out.Result = ResultLintExhausted
	}
	return out, nil
}

// constructPlan delegates every plan depth to the specialist roles, siblings
// concurrently, depths in order.
func (s *Session) constructPlan(ctx context.Context) error {
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		nodes := s.tree.AtDepth(depth)
		if len(nodes) == 0 {
			return nil
		}
		if err := s.delegate(ctx, nodes); err != nil {
			return err
		}
		if err := s.resolveContractConflicts(ctx); err != nil {
			return err
		}
	}
}

// delegateResult is what one fan-out task brings back. Tree mutation is
// deferred to apply, on the session goroutine.
type delegateResult struct {
	artifact    *comms.CodeArtifact
	producer    string
	rejects     int
	contractRev int
	lastIssue   string
}

// delegate issues the requests for one set of sibling nodes concurrently and
// waits for all of them to resolve, success or not, before mutating the
// tree. Only cancellation aborts the joint wait.
func (s *Session) delegate(ctx context.Context, nodes []*plan.Node) error {
	results := make([]delegateResult, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		s.progress.Emit(ProgressEvent{Phase: PhasePlan, Component: n.Identity, Status: ProgressWorking})
		g.Go(func() error {
			res, err := s.propose(gctx, n)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, n := range nodes {
		s.apply(n, results[i])
	}
	return nil
}

// propose runs the request/review/revise loop for one node against its
// role, bounded by the node's retry budget. A transport timeout or an agent
// failure counts as a rejection; only context cancellation is returned as an
// error.
func (s *Session) propose(ctx context.Context, n *plan.Node) (delegateResult, error) {
	res := delegateResult{contractRev: s.contractRev}
	role := roleFor(n.Type)

	req := comms.NewEnvelope(comms.KindPlanRequest, string(agent.RoleOrchestrator), string(role), s.planRequest(n))
	resp, err := s.dialogue.SendRequest(ctx, req, s.cfg.DialogueTimeout)

	for {
		var issues []string
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return res, fmt.Errorf("orchestrator: %s: %w", n.Identity, ctx.Err())
			}
			issues = []string{err.Error()}
		default:
			pr, ok := resp.Payload.(comms.PlanResponse)
			if !ok {
				issues = []string{fmt.Sprintf("unexpected payload %T", resp.Payload)}
				break
			}
			issues = s.review(pr)
			if len(issues) == 0 {
				res.artifact = &comms.CodeArtifact{
					Filename:      n.Identity + ".sv",
					Content:       pr.ProposedCode,
					Language:      "systemverilog",
					ComponentType: string(n.Type),
				}
				res.producer = resp.From
				s.notifyApproved(n, resp.From)
				return res, nil
			}
		}

		res.rejects++
		res.lastIssue = issues[len(issues)-1]
		if res.rejects >= n.Budget {
			return res, nil
		}

		fb := comms.NewEnvelope(comms.KindReviewFeedback, string(agent.RoleOrchestrator), string(role), comms.ReviewFeedback{
			ComponentName: n.Identity,
			Approved:      false,
			Issues:        issues,
		})
		resp, err = s.dialogue.SendRequest(ctx, fb, s.cfg.DialogueTimeout)
	}
}

// review checks a proposal against the acceptance bar. An empty slice means
// approved.
func (s *Session) review(pr comms.PlanResponse) []string {
	var issues []string
	if pr.ProposedCode == "" {
		issues = append(issues, "proposal carries no code")
		issues = append(issues, pr.Notes...)
	}
	if pr.Confidence < s.cfg.ReviewThreshold {
		issues = append(issues, fmt.Sprintf("confidence %.2f below threshold %.2f", pr.Confidence, s.cfg.ReviewThreshold))
	}
	return issues
}

// notifyApproved tells the producing role its proposal was accepted. Fire
// and forget, no response expected.
func (s *Session) notifyApproved(n *plan.Node, producer string) {
	env := comms.NewEnvelope(comms.KindReviewFeedback, string(agent.RoleOrchestrator), producer, comms.ReviewFeedback{
		ComponentName: n.Identity,
		Approved:      true,
	})
	if err := s.bus.Publish(env); err != nil {
		s.logger.Warn("approval notification failed", zap.String("component", n.Identity), zap.Error(err))
	}
}

// apply lands one delegate result on the tree, replaying the rejections
// through the node state machine so retry accounting stays in one place.
func (s *Session) apply(n *plan.Node, res delegateResult) {
	for i := 0; i < res.rejects; i++ {
		n.Reject()
	}
	if res.artifact == nil {
		s.progress.Emit(ProgressEvent{Phase: PhasePlan, Component: n.Identity, Status: ProgressFailed, Message: res.lastIssue})
		s.logger.Warn("component failed",
			zap.String("component", n.Identity),
			zap.Int("rejects", res.rejects),
			zap.String("issue", res.lastIssue))
		return
	}
	if err := n.Approve(res.artifact, res.producer); err != nil {
		s.logger.Error("approve failed", zap.String("component", n.Identity), zap.Error(err))
		return
	}
	n.ContractRev = res.contractRev
	s.progress.Emit(ProgressEvent{Phase: PhasePlan, Component: n.Identity, Status: ProgressComplete})
}

// planRequest builds the request payload for a node. Sequence requests carry
// the current interface contract so stimulus honors the transaction shape.
func (s *Session) planRequest(n *plan.Node) comms.PlanRequest {
	reqCtx := map[string]any{
		"package":   s.cfg.DUT.Name + "_pkg",
		"interface": s.interfaceName(),
	}
	if n.Type == plan.ComponentSequence && s.contractRev > 0 {
		reqCtx["contract"] = s.contract
	}
	return comms.PlanRequest{
		ComponentName: n.Identity,
		Spec:          specAsMap(s.cfg.DUT),
		Instructions:  instructionsFor(n.Type),
		Context:       reqCtx,
	}
}

// drainContracts consumes any interface contract broadcasts that arrived
// since the last call and reports whether the contract revision advanced.
func (s *Session) drainContracts() bool {
	advanced := false
	for {
		select {
		case env := <-s.contractSub.C():
			c, ok := env.Payload.(comms.InterfaceContract)
			if !ok {
				continue
			}
			if s.contractRev > 0 && reflect.DeepEqual(c, s.contract) {
				continue
			}
			s.contract = c
			s.contractRev++
			advanced = true
			s.logger.Info("interface contract updated",
				zap.String("interface", c.InterfaceName),
				zap.Int("revision", s.contractRev))
		default:
			return advanced
		}
	}
}

// resolveContractConflicts supersedes and re-requests every sequence node
// whose proposal consumed a stale contract revision. Proposals are never
// merged; the stale one is discarded wholesale.
func (s *Session) resolveContractConflicts(ctx context.Context) error {
	s.drainContracts()
	for _, n := range s.tree.ByType(plan.ComponentSequence) {
		if n.Failed || n.Artifact == nil || n.ContractRev >= s.contractRev {
			continue
		}
		s.logger.Info("superseding stale sequence",
			zap.String("component", n.Identity),
			zap.Int("consumed_revision", n.ContractRev),
			zap.Int("current_revision", s.contractRev))
		n.Supersede()
		res, err := s.propose(ctx, n)
		if err != nil {
			return err
		}
		s.apply(n, res)
	}
	return nil
}

func (s *Session) failedIdentities() []string {
	var out []string
	s.tree.Walk(func(n *plan.Node) {
		if n.Failed {
			out = append(out, n.Identity)
		}
	})
	return out
}

func (s *Session) interfaceName() string {
	ifaces := s.tree.ByType(plan.ComponentInterface)
	if len(ifaces) > 0 {
		return ifaces[0].Identity
	}
	return s.cfg.DUT.Name + "_if"
}

func roleFor(t plan.ComponentType) agent.Role {
	switch t {
	case plan.ComponentInterface:
		return agent.RoleInterface
	case plan.ComponentSequence:
		return agent.RoleSequence
	case plan.ComponentScoreboard:
		return agent.RoleScoreboard
	default:
		return agent.RoleEnvironment
	}
}

func instructionsFor(t plan.ComponentType) string {
	switch t {
	case plan.ComponentInterface:
		return "Generate the SystemVerilog interface with clocking blocks for driver and monitor, and define the transaction contract."
	case plan.ComponentSequence:
		return "Generate a UVM base sequence exercising the interface transaction contract."
	case plan.ComponentScoreboard:
		return "Generate a UVM scoreboard checking DUT outputs against a reference model."
	default:
		return "Generate the UVM environment class wiring agents, scoreboard, and coverage."
	}
}

// specAsMap flattens the DUT spec into the envelope's opaque map shape.
func specAsMap(spec *dut.Spec) map[string]any {
	data, err := json.Marshal(spec)
	if err != nil {
		return map[string]any{"name": spec.Name}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"name": spec.Name}
	}
	return m
}
