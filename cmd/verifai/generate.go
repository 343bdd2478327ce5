package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/config"
	"github.com/fra-l/verifai/internal/coverage"
	"github.com/fra-l/verifai/internal/dut"
	"github.com/fra-l/verifai/internal/export"
	"github.com/fra-l/verifai/internal/lint"
	"github.com/fra-l/verifai/internal/llm"
	"github.com/fra-l/verifai/internal/orchestrator"
	"github.com/fra-l/verifai/internal/plan"
	"github.com/fra-l/verifai/internal/store"
)

// runGenerate executes a full generation session and maps its outcome onto
// the exit code contract.
func runGenerate(ctx context.Context, cfg *config.ProjectConfig, flags cliFlags, specPath string, logger *zap.Logger) (int, error) {
	if specPath == "" {
		return 1, fmt.Errorf("generate requires a spec file argument")
	}
	if cfg.APIKey == "" {
		return 1, fmt.Errorf("no API credential configured; set ANTHROPIC_API_KEY")
	}
	spec, err := dut.Load(specPath)
	if err != nil {
		return 1, err
	}

	proposer := llm.NewProposer(cfg.APIKey, cfg.Model, logger)
	bus := comms.NewMessageBus(comms.DefaultQueueDepth, logger)
	defer bus.Close()

	registry := agent.NewRegistry(bus, func(agent.Role) agent.Proposer { return proposer }, logger)
	if _, err := registry.SpawnAll(ctx); err != nil {
		return 1, err
	}
	defer registry.StopAll()

	var linter lint.Linter
	if flags.LintCommand != "" {
		fields := strings.Fields(flags.LintCommand)
		linter = lint.NewExecLinter(fields[0], fields[1:], logger)
	}
	var provider coverage.Provider
	if flags.CoverageFile != "" {
		provider = coverage.NewFileProvider(flags.CoverageFile)
	}
	var auditStore store.Store
	if flags.AuditDB != "" {
		auditStore, err = store.NewKuzuFileStore(flags.AuditDB)
		if err != nil {
			return 1, fmt.Errorf("open audit db: %w", err)
		}
		defer auditStore.Close()
	}

	sess, err := orchestrator.NewSession(sessionConfig(cfg, spec), orchestrator.Deps{
		Bus:      bus,
		Linter:   linter,
		Coverage: provider,
		Store:    auditStore,
		Logger:   logger,
	})
	if err != nil {
		return 1, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sess.Progress() {
			fmt.Println(orchestrator.FormatProgress(ev))
		}
	}()

	outcome, err := sess.Run(ctx)
	<-done
	if err != nil {
		return 1, err
	}

	printOutcome(outcome)
	if flags.ExportPath != "" {
		exp := export.BuildExport(spec.Name, sess.Tree(), outcome)
		if err := export.WriteJSON(flags.ExportPath, exp); err != nil {
			return outcome.ExitCode(), err
		}
		fmt.Printf("Exported session to %s\n", flags.ExportPath)
	}
	return outcome.ExitCode(), nil
}

func printOutcome(out *orchestrator.Outcome) {
	fmt.Printf("\nResult: %s\n", out.Result)
	if out.CoverageIterations > 0 {
		fmt.Printf("Coverage: %.1f%% after %d iteration(s)\n", out.FinalCoverage, out.CoverageIterations)
	}
	if out.LintRounds > 0 {
		fmt.Printf("Lint rounds: %d\n", out.LintRounds)
	}
	for _, c := range out.FailedComponents {
		fmt.Printf("  failed: %s\n", c)
	}
	if len(out.Files) > 0 {
		fmt.Printf("Wrote %d file(s):\n", len(out.Files))
		for _, f := range out.Files {
			fmt.Printf("  %s\n", f)
		}
	}
}

// runAgents lists the specialist roles and their bus addresses.
func runAgents() (int, error) {
	fmt.Println("Specialist agents (spawn order):")
	for _, role := range agent.SpecialistRoles {
		fmt.Printf("  %s\n", role)
	}
	return 0, nil
}

// sessionConfig folds the project configuration into the orchestrator's.
func sessionConfig(cfg *config.ProjectConfig, spec *dut.Spec) orchestrator.Config {
	return orchestrator.Config{
		DUT:            spec,
		OutputDir:      cfg.OutputDir,
		Simulator:      cfg.Simulator,
		CoverageTarget: cfg.CoverageTarget,
		Budget: plan.RetryBudget{
			MaxLintRounds:         cfg.MaxLintRounds,
			MaxCoverageIterations: cfg.MaxCoverage,
		},
		ProgressMinDelta: cfg.ProgressMinDelta,
		ProgressPatience: cfg.ProgressPatience,
		DialogueTimeout:  time.Duration(cfg.DialogueTimeoutSec) * time.Second,
	}
}
