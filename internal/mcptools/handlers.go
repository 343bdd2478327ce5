package mcptools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/config"
	"github.com/fra-l/verifai/internal/coverage"
	"github.com/fra-l/verifai/internal/dut"
	"github.com/fra-l/verifai/internal/lint"
	"github.com/fra-l/verifai/internal/llm"
	"github.com/fra-l/verifai/internal/orchestrator"
	"github.com/fra-l/verifai/internal/plan"
	"github.com/fra-l/verifai/internal/store"
)

// PreviewPlanInput selects the DUT specification to plan for.
type PreviewPlanInput struct {
	SpecPath string `json:"specPath" jsonschema:"path to the DUT specification file (JSON or YAML)"`
}

// PlanNodeSummary is one planned component.
type PlanNodeSummary struct {
	Identity string `json:"identity"`
	Type     string `json:"type"`
	Parent   string `json:"parent,omitempty"`
}

// PreviewPlanOutput is the planned component hierarchy.
type PreviewPlanOutput struct {
	DUT     string            `json:"dut"`
	Nodes   []PlanNodeSummary `json:"nodes"`
	Listing string            `json:"listing"`
}

// GenerateInput configures one full generation session.
type GenerateInput struct {
	SpecPath       string  `json:"specPath" jsonschema:"path to the DUT specification file (JSON or YAML)"`
	OutputDir      string  `json:"outputDir,omitempty" jsonschema:"directory to write the testbench into (default from project config)"`
	Simulator      string  `json:"simulator,omitempty" jsonschema:"target simulator: xcelium, vcs, or generic"`
	CoverageTarget float64 `json:"coverageTarget,omitempty" jsonschema:"functional coverage percentage to close on (default from project config)"`
	CoverageFile   string  `json:"coverageFile,omitempty" jsonschema:"path to a JSON coverage summary re-read each closure iteration; omit to skip the coverage loop"`
	LintCommand    string  `json:"lintCommand,omitempty" jsonschema:"lint command to run on each generated file; omit to skip the lint-heal loop"`
}

// GenerateOutput reports how the session ended.
type GenerateOutput struct {
	Result             string   `json:"result"`
	ExitCode           int      `json:"exitCode"`
	FinalCoverage      float64  `json:"finalCoverage"`
	CoverageIterations int      `json:"coverageIterations"`
	LintRounds         int      `json:"lintRounds"`
	FailedComponents   []string `json:"failedComponents,omitempty"`
	Files              []string `json:"files,omitempty"`
}

// GetSessionStatsInput optionally narrows the query to one message kind.
type GetSessionStatsInput struct {
	Kind  string `json:"kind,omitempty" jsonschema:"message kind to list, e.g. plan-request, plan-response, review-feedback"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum messages to return (default: 20)"`
}

// MessageSummary is one audited bus message.
type MessageSummary struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	From          string `json:"from"`
	To            string `json:"to"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// GetSessionStatsOutput summarizes the audit trail.
type GetSessionStatsOutput struct {
	MessageCount     int              `json:"messageCount"`
	PlanNodeCount    int              `json:"planNodeCount"`
	CorrelationCount int              `json:"correlationCount"`
	ChildEdgeCount   int              `json:"childEdgeCount"`
	Messages         []MessageSummary `json:"messages,omitempty"`
}

// Service handles the verifai MCP tool calls. One service serves many
// sequential sessions; the audit store of the most recent session stays
// queryable until the next run replaces it.
type Service struct {
	cfg    *config.ProjectConfig
	logger *zap.Logger

	// factory and provider are injectable for tests; nil selects the
	// LLM-backed proposers and the input's file provider.
	factory  agent.ProposerFactory
	provider coverage.Provider

	mu        sync.Mutex
	lastStore store.Store
}

// NewService creates a Service over the given project configuration.
func NewService(cfg *config.ProjectConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, logger: logger}
}

// SetProposerFactory overrides the LLM proposer factory, for tests and
// offline runs.
func (s *Service) SetProposerFactory(f agent.ProposerFactory) { s.factory = f }

// SetCoverageProvider overrides the coverage source.
func (s *Service) SetCoverageProvider(p coverage.Provider) { s.provider = p }

// PreviewPlan builds the plan tree for a spec without contacting any agent.
func (s *Service) PreviewPlan(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input PreviewPlanInput,
) (*mcp.CallToolResult, PreviewPlanOutput, error) {
	if input.SpecPath == "" {
		return nil, PreviewPlanOutput{}, fmt.Errorf("specPath is required")
	}
	spec, err := dut.Load(input.SpecPath)
	if err != nil {
		return nil, PreviewPlanOutput{}, err
	}

	bus := comms.NewMessageBus(comms.DefaultQueueDepth, s.logger)
	defer bus.Close()
	sess, err := orchestrator.NewSession(s.sessionConfig(spec, GenerateInput{}), orchestrator.Deps{Bus: bus, Logger: s.logger})
	if err != nil {
		return nil, PreviewPlanOutput{}, err
	}
	tree, err := sess.Plan()
	if err != nil {
		return nil, PreviewPlanOutput{}, err
	}

	out := PreviewPlanOutput{DUT: spec.Name, Listing: orchestrator.FormatPlan(tree)}
	tree.Walk(func(n *plan.Node) {
		summary := PlanNodeSummary{Identity: n.Identity, Type: string(n.Type)}
		if p := n.Parent(); p != nil {
			summary.Parent = p.Identity
		}
		out.Nodes = append(out.Nodes, summary)
	})
	return nil, out, nil
}

// GenerateTestbench runs a full session and reports the structured outcome.
// A session that ends below target is a tool success with a non-zero
// exitCode, not a tool error.
func (s *Service) GenerateTestbench(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GenerateInput,
) (*mcp.CallToolResult, GenerateOutput, error) {
	if input.SpecPath == "" {
		return nil, GenerateOutput{}, fmt.Errorf("specPath is required")
	}
	spec, err := dut.Load(input.SpecPath)
	if err != nil {
		return nil, GenerateOutput{}, err
	}

	factory := s.factory
	if factory == nil {
		if s.cfg.APIKey == "" {
			return nil, GenerateOutput{}, fmt.Errorf("no API credential configured; set ANTHROPIC_API_KEY")
		}
		proposer := llm.NewProposer(s.cfg.APIKey, s.cfg.Model, s.logger)
		factory = func(agent.Role) agent.Proposer { return proposer }
	}

	var linter lint.Linter
	if input.LintCommand != "" {
		fields := strings.Fields(input.LintCommand)
		linter = lint.NewExecLinter(fields[0], fields[1:], s.logger)
	}
	provider := s.provider
	if provider == nil && input.CoverageFile != "" {
		provider = coverage.NewFileProvider(input.CoverageFile)
	}

	bus := comms.NewMessageBus(comms.DefaultQueueDepth, s.logger)
	defer bus.Close()
	registry := agent.NewRegistry(bus, factory, s.logger)
	if _, err := registry.SpawnAll(ctx); err != nil {
		return nil, GenerateOutput{}, err
	}
	defer registry.StopAll()

	auditStore := store.NewMemStore()
	sess, err := orchestrator.NewSession(s.sessionConfig(spec, input), orchestrator.Deps{
		Bus:      bus,
		Linter:   linter,
		Coverage: provider,
		Store:    auditStore,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, GenerateOutput{}, err
	}

	outcome, err := sess.Run(ctx)
	if err != nil {
		return nil, GenerateOutput{}, err
	}

	s.mu.Lock()
	s.lastStore = auditStore
	s.mu.Unlock()

	return nil, GenerateOutput{
		Result:             string(outcome.Result),
		ExitCode:           outcome.ExitCode(),
		FinalCoverage:      outcome.FinalCoverage,
		CoverageIterations: outcome.CoverageIterations,
		LintRounds:         outcome.LintRounds,
		FailedComponents:   outcome.FailedComponents,
		Files:              outcome.Files,
	}, nil
}

// GetSessionStats queries the audit store left by the last generation run.
func (s *Service) GetSessionStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetSessionStatsInput,
) (*mcp.CallToolResult, GetSessionStatsOutput, error) {
	s.mu.Lock()
	st := s.lastStore
	s.mu.Unlock()
	if st == nil {
		return nil, GetSessionStatsOutput{}, fmt.Errorf("no session has run yet")
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, GetSessionStatsOutput{}, err
	}
	out := GetSessionStatsOutput{
		MessageCount:     stats.MessageCount,
		PlanNodeCount:    stats.PlanNodeCount,
		CorrelationCount: stats.CorrelationCount,
		ChildEdgeCount:   stats.ChildEdgeCount,
	}

	if input.Kind != "" {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		msgs, err := st.MessagesByKind(ctx, input.Kind, limit)
		if err != nil {
			return nil, GetSessionStatsOutput{}, err
		}
		for _, m := range msgs {
			out.Messages = append(out.Messages, MessageSummary{
				ID:            m.ID,
				Kind:          m.Kind,
				From:          m.From,
				To:            m.To,
				CorrelationID: m.CorrelationID,
			})
		}
	}
	return nil, out, nil
}

// sessionConfig folds the project configuration and the per-call overrides
// into the orchestrator's config.
func (s *Service) sessionConfig(spec *dut.Spec, input GenerateInput) orchestrator.Config {
	cfg := orchestrator.Config{
		DUT:            spec,
		OutputDir:      s.cfg.OutputDir,
		Simulator:      s.cfg.Simulator,
		CoverageTarget: s.cfg.CoverageTarget,
		Budget: plan.RetryBudget{
			MaxLintRounds:         s.cfg.MaxLintRounds,
			MaxCoverageIterations: s.cfg.MaxCoverage,
		},
		ProgressMinDelta: s.cfg.ProgressMinDelta,
		ProgressPatience: s.cfg.ProgressPatience,
		DialogueTimeout:  time.Duration(s.cfg.DialogueTimeoutSec) * time.Second,
	}
	if input.OutputDir != "" {
		cfg.OutputDir = input.OutputDir
	}
	if input.Simulator != "" {
		cfg.Simulator = input.Simulator
	}
	if input.CoverageTarget > 0 {
		cfg.CoverageTarget = input.CoverageTarget
	}
	return cfg
}
