package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/config"
	"github.com/fra-l/verifai/internal/dut"
	"github.com/fra-l/verifai/internal/export"
	"github.com/fra-l/verifai/internal/orchestrator"
)

// runPlan previews the plan tree for a spec without contacting any agent.
func runPlan(cfg *config.ProjectConfig, flags cliFlags, specPath string) (int, error) {
	if specPath == "" {
		return 1, fmt.Errorf("plan requires a spec file argument")
	}
	spec, err := dut.Load(specPath)
	if err != nil {
		return 1, err
	}

	bus := comms.NewMessageBus(comms.DefaultQueueDepth, nil)
	defer bus.Close()
	sess, err := orchestrator.NewSession(sessionConfig(cfg, spec), orchestrator.Deps{Bus: bus})
	if err != nil {
		return 1, err
	}
	tree, err := sess.Plan()
	if err != nil {
		return 1, err
	}

	switch flags.Format {
	case "", "text":
		fmt.Printf("Plan for %s (%d components):\n\n", spec.Name, tree.Len())
		fmt.Print(orchestrator.FormatPlan(tree))
	case "mermaid":
		fmt.Print(export.GenerateMermaid(tree))
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(export.BuildExport(spec.Name, tree, nil)); err != nil {
			return 1, err
		}
	default:
		return 1, fmt.Errorf("unknown format %q: want text, mermaid, or json", flags.Format)
	}
	return 0, nil
}
