// Command verifai generates UVM testbenches from DUT specifications using a
// team of LLM-backed specialist agents coordinated over an in-process bus.
//
// Usage:
//
//	verifai [flags] plan <spec-file>
//	verifai [flags] generate <spec-file>
//	verifai [flags] status [<dir>]
//	verifai [flags] agents
//
// Exit codes: 0 full success, 2 lint budget exhausted, 3 coverage target not
// met (including no-progress), 4 fatal agent failure, 1 any other error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fra-l/verifai/internal/config"
)

// CLI flags parsed from the command line.
type cliFlags struct {
	ConfigDir      string
	OutputDir      string
	Simulator      string
	CoverageTarget float64
	CoverageFile   string
	LintCommand    string
	AuditDB        string
	Format         string
	ExportPath     string
	Verbose        bool
	ServeMCP       bool
	MCPAddr        string
	Version        bool
}

// version is set by the linker at build time.
var version = "dev"

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	var flags cliFlags

	fs := flag.NewFlagSet("verifai", flag.ContinueOnError)
	fs.StringVar(&flags.ConfigDir, "config", ".", "directory containing verifai.yml")
	fs.StringVar(&flags.OutputDir, "output", "", "output directory for the generated testbench")
	fs.StringVar(&flags.Simulator, "simulator", "", "target simulator: xcelium, vcs, or generic")
	fs.Float64Var(&flags.CoverageTarget, "coverage-target", 0, "functional coverage percentage to close on")
	fs.StringVar(&flags.CoverageFile, "coverage-file", "", "JSON coverage summary re-read each closure iteration")
	fs.StringVar(&flags.LintCommand, "lint-command", "", "lint command run on each generated file")
	fs.StringVar(&flags.AuditDB, "audit-db", "", "persist the session audit to a KuzuDB at this path")
	fs.StringVar(&flags.Format, "format", "text", "plan output format: text, mermaid, or json")
	fs.StringVar(&flags.ExportPath, "export", "", "write a JSON session export to this path after generate")
	fs.BoolVar(&flags.Verbose, "verbose", false, "enable verbose output")
	fs.BoolVar(&flags.ServeMCP, "serve-mcp", false, "run as an MCP server instead of a one-shot command")
	fs.StringVar(&flags.MCPAddr, "mcp-addr", "", "serve MCP over HTTP on this address instead of stdio")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if flags.Version {
		fmt.Println(version)
		return 0, nil
	}

	cfg, err := config.Load(flags.ConfigDir)
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cfg, flags)

	logger, err := newLogger(flags.Verbose)
	if err != nil {
		return 1, err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.ServeMCP {
		return runServeMCP(ctx, cfg, flags, logger)
	}

	switch fs.Arg(0) {
	case "plan":
		return runPlan(cfg, flags, fs.Arg(1))
	case "generate":
		return runGenerate(ctx, cfg, flags, fs.Arg(1), logger)
	case "status":
		return runStatus(cfg, fs.Arg(1))
	case "agents":
		return runAgents()
	case "":
		fs.Usage()
		return 1, fmt.Errorf("a command is required: plan, generate, status, or agents")
	default:
		return 1, fmt.Errorf("unknown command %q", fs.Arg(0))
	}
}

func applyFlagOverrides(cfg *config.ProjectConfig, flags cliFlags) {
	if flags.OutputDir != "" {
		cfg.OutputDir = flags.OutputDir
	}
	if flags.Simulator != "" {
		cfg.Simulator = flags.Simulator
	}
	if flags.CoverageTarget > 0 {
		cfg.CoverageTarget = flags.CoverageTarget
	}
	if flags.Verbose {
		cfg.Verbose = true
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}
