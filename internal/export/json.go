package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fra-l/verifai/internal/orchestrator"
	"github.com/fra-l/verifai/internal/plan"
)

// SessionExport is the top-level JSON export structure.
type SessionExport struct {
	DUT        string        `json:"dut"`
	ExportedAt string        `json:"exportedAt"`
	Nodes      []NodeExport  `json:"nodes"`
	Outcome    *ResultExport `json:"outcome,omitempty"`
}

// NodeExport describes one plan tree node.
type NodeExport struct {
	Identity     string `json:"identity"`
	Type         string `json:"type"`
	Parent       string `json:"parent,omitempty"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retryCount,omitempty"`
	Producer     string `json:"producer,omitempty"`
	ArtifactFile string `json:"artifactFile,omitempty"`
}

// ResultExport describes how the session ended.
type ResultExport struct {
	Result             string   `json:"result"`
	ExitCode           int      `json:"exitCode"`
	FinalCoverage      float64  `json:"finalCoverage,omitempty"`
	CoverageIterations int      `json:"coverageIterations,omitempty"`
	LintRounds         int      `json:"lintRounds,omitempty"`
	FailedComponents   []string `json:"failedComponents,omitempty"`
	Files              []string `json:"files,omitempty"`
}

// BuildExport flattens the plan tree and the outcome into the export shape.
// outcome may be nil for plan previews.
func BuildExport(dutName string, tree *plan.Tree, outcome *orchestrator.Outcome) SessionExport {
	exp := SessionExport{
		DUT:        dutName,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}
	tree.Walk(func(n *plan.Node) {
		node := NodeExport{
			Identity:   n.Identity,
			Type:       string(n.Type),
			Status:     n.VisibleStatus(),
			RetryCount: n.RetryCount,
			Producer:   n.Producer,
		}
		if p := n.Parent(); p != nil {
			node.Parent = p.Identity
		}
		if n.Artifact != nil {
			node.ArtifactFile = n.Artifact.Filename
		}
		exp.Nodes = append(exp.Nodes, node)
	})
	if outcome != nil {
		exp.Outcome = &ResultExport{
			Result:             string(outcome.Result),
			ExitCode:           outcome.ExitCode(),
			FinalCoverage:      outcome.FinalCoverage,
			CoverageIterations: outcome.CoverageIterations,
			LintRounds:         outcome.LintRounds,
			FailedComponents:   outcome.FailedComponents,
			Files:              outcome.Files,
		}
	}
	return exp
}

// WriteJSON writes the export as indented JSON to path.
func WriteJSON(path string, exp SessionExport) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}
