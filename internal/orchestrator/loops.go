package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/codegen"
	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/coverage"
	"github.com/fra-l/verifai/internal/lint"
	"github.com/fra-l/verifai/internal/plan"
	"github.com/fra-l/verifai/internal/store"
)

// assemble lands every approved artifact in the project tree.
func (s *Session) assemble() {
	s.tree.Walk(func(n *plan.Node) {
		if n.Status != plan.StatusApproved || n.Artifact == nil {
			return
		}
		s.project.AddFile(n.Artifact.Filename, n.Artifact.Content)
		s.progress.Emit(ProgressEvent{Phase: PhaseGenerate, Component: n.Artifact.Filename, Status: ProgressComplete})
	})
}

// lintHeal runs the bounded lint-fix-relint loop over every approved
// artifact. A node that still produces findings once its retry budget is
// consumed becomes terminal-failed; its last artifact stays in the project
// so the caller gets a complete, if dirty, testbench.
func (s *Session) lintHeal(ctx context.Context) error {
	if s.linter == nil {
		return nil
	}

	var active []*plan.Node
	s.tree.Walk(func(n *plan.Node) {
		if n.Status == plan.StatusApproved && n.Artifact != nil {
			active = append(active, n)
		}
	})

	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.lintRounds++

		var next []*plan.Node
		for _, n := range active {
			issues, err := s.linter.Lint(ctx, n.Artifact.Filename, n.Artifact.Content)
			if err != nil {
				return fmt.Errorf("orchestrator: lint %s: %w", n.Artifact.Filename, err)
			}
			if len(issues) == 0 {
				s.progress.Emit(ProgressEvent{Phase: PhaseLint, Component: n.Identity, Status: ProgressComplete})
				continue
			}
			if n.RetryCount >= s.cfg.Budget.MaxLintRounds {
				n.Failed = true
				s.progress.Emit(ProgressEvent{Phase: PhaseLint, Component: n.Identity, Status: ProgressFailed,
					Message: fmt.Sprintf("%d issues after %d rounds", len(issues), n.RetryCount)})
				s.logger.Warn("lint budget exhausted",
					zap.String("component", n.Identity),
					zap.Int("issues", len(issues)))
				continue
			}

			// A failed exchange or an empty revision consumes a round
			// like a rejection; the node stays in the loop until its
			// budget runs out.
			revised, err := s.requestLintFix(ctx, n, issues)
			n.RetryCount++
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				s.logger.Warn("lint heal exchange failed", zap.String("component", n.Identity), zap.Error(err))
				next = append(next, n)
				continue
			}
			if revised == "" {
				s.logger.Warn("lint heal returned no code", zap.String("component", n.Identity))
				next = append(next, n)
				continue
			}

			n.Artifact.Content = revised
			s.project.AddFile(n.Artifact.Filename, revised)
			s.progress.Emit(ProgressEvent{Phase: PhaseLint, Component: n.Identity, Status: ProgressWorking,
				Message: fmt.Sprintf("round %d, %d issues", n.RetryCount, len(issues))})
			next = append(next, n)
		}
		active = next
	}
	return nil
}

// requestLintFix sends the findings to the node's producer and returns the
// revised source.
func (s *Session) requestLintFix(ctx context.Context, n *plan.Node, issues []lint.Issue) (string, error) {
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.String()
	}
	fb := comms.NewEnvelope(comms.KindReviewFeedback, string(agent.RoleOrchestrator), n.Producer, comms.ReviewFeedback{
		ComponentName: n.Identity,
		Approved:      false,
		Issues:        msgs,
	})
	resp, err := s.dialogue.SendRequest(ctx, fb, s.cfg.DialogueTimeout)
	if err != nil {
		return "", err
	}
	pr, ok := resp.Payload.(comms.PlanResponse)
	if !ok {
		return "", fmt.Errorf("orchestrator: unexpected lint fix payload %T", resp.Payload)
	}
	return pr.ProposedCode, nil
}

// coverageClosure iterates measure-direct-apply until the target is met, the
// iteration budget runs out, or coverage stops improving. The three endings
// are reported as distinct results, none of them errors.
func (s *Session) coverageClosure(ctx context.Context) (Result, error) {
	if s.coverage == nil {
		return ResultSuccess, nil
	}

	tracker := plan.NewProgressTracker(s.cfg.ProgressMinDelta, s.cfg.ProgressPatience)
	max := s.cfg.Budget.MaxCoverageIterations

	for iter := 1; iter <= max; iter++ {
		report, err := s.coverage.Measure(ctx)
		if err != nil {
			return "", err
		}
		s.coverageIters = iter
		s.finalCoverage = report.OverallPercent
		tracker.Observe(plan.CoverageSnapshot{
			Timestamp:      time.Now().UTC(),
			OverallPercent: report.OverallPercent,
			PerBin:         report.Bins,
		})
		s.progress.Emit(ProgressEvent{Phase: PhaseCoverage, Component: s.cfg.DUT.Name, Status: ProgressWorking,
			Message: fmt.Sprintf("iteration %d: %.1f%%", iter, report.OverallPercent)})

		if report.OverallPercent >= s.cfg.CoverageTarget {
			s.progress.Emit(ProgressEvent{Phase: PhaseCoverage, Component: s.cfg.DUT.Name, Status: ProgressComplete,
				Message: fmt.Sprintf("%.1f%% >= %.1f%%", report.OverallPercent, s.cfg.CoverageTarget)})
			return ResultSuccess, nil
		}
		if tracker.Stalled() {
			s.progress.Emit(ProgressEvent{Phase: PhaseCoverage, Component: s.cfg.DUT.Name, Status: ProgressFailed,
				Message: fmt.Sprintf("no progress, best %.1f%%", tracker.Best())})
			return ResultNoProgress, nil
		}
		if iter == max {
			break
		}
		if err := s.directSequences(ctx, report); err != nil {
			return "", err
		}
	}

	s.progress.Emit(ProgressEvent{Phase: PhaseCoverage, Component: s.cfg.DUT.Name, Status: ProgressFailed,
		Message: fmt.Sprintf("iteration budget exhausted at %.1f%%", s.finalCoverage)})
	return ResultCoverageNotMet, nil
}

// directSequences asks the sequence role for fresh stimulus targeting the
// uncovered bins. A failed or empty proposal is not fatal; the next
// measurement decides whether the loop is still progressing.
func (s *Session) directSequences(ctx context.Context, report coverage.Report) error {
	dir := comms.CoverageDirective{TargetBins: report.UncoveredBins()}
	env := comms.NewEnvelope(comms.KindCoverageDirective, string(agent.RoleOrchestrator), string(agent.RoleSequence), dir)
	resp, err := s.dialogue.SendRequest(ctx, env, s.cfg.DialogueTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.logger.Warn("coverage directive failed", zap.Error(err))
		return nil
	}
	sp, ok := resp.Payload.(comms.SequenceProposal)
	if !ok || sp.SequenceCode == "" {
		s.logger.Warn("empty sequence proposal", zap.String("scenario", sp.TargetScenario))
		return nil
	}
	s.addSequence(sp)
	return nil
}

// addSequence lands an accepted coverage sequence as a new approved plan
// node under the interface it stimulates.
func (s *Session) addSequence(sp comms.SequenceProposal) {
	name := sp.SequenceName
	if name == "" {
		name = fmt.Sprintf("%s_cov_seq_%d", s.cfg.DUT.Name, s.coverageIters)
	}
	if s.tree.Find(name) != nil {
		name = fmt.Sprintf("%s_i%d", name, s.coverageIters)
	}

	parent := s.tree.Root()
	if ifaces := s.tree.ByType(plan.ComponentInterface); len(ifaces) > 0 {
		parent = ifaces[0]
	}

	n := plan.NewNode(plan.ComponentSequence, name)
	n.Budget = s.cfg.Budget.MaxLintRounds
	n.ContractRev = s.contractRev
	if err := s.tree.Attach(parent, n); err != nil {
		s.logger.Warn("could not attach coverage sequence", zap.String("sequence", name), zap.Error(err))
		return
	}
	art := &comms.CodeArtifact{
		Filename:      name + ".sv",
		Content:       sp.SequenceCode,
		Language:      "systemverilog",
		ComponentType: string(plan.ComponentSequence),
	}
	if err := n.Approve(art, string(agent.RoleSequence)); err != nil {
		s.logger.Warn("could not approve coverage sequence", zap.String("sequence", name), zap.Error(err))
		return
	}
	s.project.AddFile(art.Filename, art.Content)
	s.progress.Emit(ProgressEvent{Phase: PhaseCoverage, Component: name, Status: ProgressComplete,
		Message: sp.TargetScenario})
}

// finalizeProject renders the deterministic scaffolds around the agent
// artifacts: the test class, the package, the testbench top, the filelist,
// and the Makefile.
func (s *Session) finalizeProject() error {
	name := s.cfg.DUT.Name
	pkg := name + "_pkg"
	iface := s.interfaceName()
	testFile := s.cfg.TestName + ".sv"

	// Package include order mirrors compile dependencies: sequences and
	// checkers before the environment, the test last.
	var includes []string
	for _, typ := range []plan.ComponentType{plan.ComponentSequence, plan.ComponentScoreboard, plan.ComponentEnvironment} {
		for _, n := range s.tree.ByType(typ) {
			if n.Artifact != nil {
				includes = append(includes, n.Artifact.Filename)
			}
		}
	}
	includes = append(includes, testFile)

	testCode, err := s.emitter.Render(codegen.TemplateTest, codegen.ComponentData{
		Name:          s.cfg.TestName,
		PackageName:   pkg,
		InterfaceName: iface,
		Children:      []string{s.tree.Root().Identity},
	})
	if err != nil {
		return err
	}
	s.project.AddFile(testFile, testCode)

	pkgCode, err := s.emitter.Render(codegen.TemplatePackage, codegen.PackageData{Name: pkg, Includes: includes})
	if err != nil {
		return err
	}
	s.project.AddFile(pkg+".sv", pkgCode)

	topCode, err := s.emitter.RenderTop(s.cfg.DUT, iface, pkg, s.cfg.TestName)
	if err != nil {
		return err
	}
	s.project.AddFile("tb_top.sv", topCode)

	s.project.GenerateFilelist()
	s.project.GenerateMakefile(s.cfg.Simulator)
	return nil
}

// persistAudit writes the exchange history and the plan tree to the session
// store. Audit failures are logged, never fatal.
func (s *Session) persistAudit(ctx context.Context) {
	if err := s.store.InitSchema(ctx); err != nil {
		s.logger.Warn("audit schema init failed", zap.Error(err))
		return
	}

	requests := make(map[string]string) // correlation id -> request message id
	for _, env := range s.dialogue.Snapshot() {
		rec := store.MessageRecord{
			ID:            env.ID,
			Kind:          string(env.Kind),
			From:          env.From,
			To:            env.To,
			CorrelationID: env.CorrelationID,
			CreatedAt:     env.CreatedAt,
		}
		if err := s.store.RecordMessage(ctx, rec); err != nil {
			s.logger.Warn("audit message failed", zap.String("id", env.ID), zap.Error(err))
			return
		}
		if env.Kind.IsResponse() {
			if reqID, ok := requests[env.CorrelationID]; ok {
				if err := s.store.LinkCorrelated(ctx, reqID, env.ID); err != nil {
					s.logger.Warn("audit link failed", zap.Error(err))
				}
			}
		} else if env.CorrelationID != "" {
			requests[env.CorrelationID] = env.ID
		}
	}

	if s.tree == nil {
		return
	}
	s.tree.Walk(func(n *plan.Node) {
		rec := store.PlanRecord{
			Identity:   n.Identity,
			Type:       string(n.Type),
			Status:     n.VisibleStatus(),
			RetryCount: n.RetryCount,
		}
		if n.Artifact != nil {
			rec.ArtifactFile = n.Artifact.Filename
		}
		if err := s.store.RecordPlanNode(ctx, rec); err != nil {
			s.logger.Warn("audit plan node failed", zap.String("identity", n.Identity), zap.Error(err))
			return
		}
		if p := n.Parent(); p != nil {
			if err := s.store.LinkChild(ctx, p.Identity, n.Identity); err != nil {
				s.logger.Warn("audit child link failed", zap.Error(err))
			}
		}
	})
}
