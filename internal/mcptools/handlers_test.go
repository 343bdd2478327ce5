package mcptools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type cannedProposer struct{}

func (cannedProposer) Propose(_ context.Context, _ agent.Role, req comms.PlanRequest) (agent.Proposal, error) {
	return agent.Proposal{
		Code:       fmt.Sprintf("class %s; endclass", req.ComponentName),
		Confidence: 0.9,
	}, nil
}

func (cannedProposer) Revise(_ context.Context, _ agent.Role, fb comms.ReviewFeedback) (agent.Proposal, error) {
	return agent.Proposal{
		Code:       fmt.Sprintf("class %s; endclass // revised", fb.ComponentName),
		Confidence: 0.8,
	}, nil
}

func (cannedProposer) ProposeSequence(_ context.Context, dir comms.CoverageDirective, _ comms.InterfaceContract) (comms.SequenceProposal, error) {
	return comms.SequenceProposal{
		SequenceName: "cov_seq",
		SequenceCode: "class cov_seq; endclass",
	}, nil
}

const specJSON = `{
  "name": "alu",
  "ports": [
    {"name": "clk", "direction": "input", "width": 1, "is_clock": true},
    {"name": "rst_n", "direction": "input", "width": 1, "is_reset": true},
    {"name": "op", "direction": "input", "width": 4},
    {"name": "a", "direction": "input", "width": 32},
    {"name": "b", "direction": "input", "width": 32},
    {"name": "result", "direction": "output", "width": 32}
  ]
}`

func writeSpec(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alu.json")
	require.NoError(t, os.WriteFile(path, []byte(specJSON), 0o644))
	return path
}

func testService(t *testing.T) *Service {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.OutputDir = t.TempDir()
	svc := NewService(cfg, nil)
	svc.SetProposerFactory(func(agent.Role) agent.Proposer { return cannedProposer{} })
	return svc
}

func TestPreviewPlan(t *testing.T) {
	svc := testService(t)

	_, out, err := svc.PreviewPlan(context.Background(), nil, PreviewPlanInput{SpecPath: writeSpec(t)})
	require.NoError(t, err)

	assert.Equal(t, "alu", out.DUT)
	require.Len(t, out.Nodes, 4)
	assert.Equal(t, "alu_env", out.Nodes[0].Identity)
	assert.Empty(t, out.Nodes[0].Parent)
	assert.Contains(t, out.Listing, "alu_base_seq")
}

func TestPreviewPlan_RequiresSpecPath(t *testing.T) {
	svc := testService(t)
	_, _, err := svc.PreviewPlan(context.Background(), nil, PreviewPlanInput{})
	require.ErrorContains(t, err, "specPath")
}

func TestGenerateTestbench(t *testing.T) {
	svc := testService(t)
	outDir := t.TempDir()

	_, out, err := svc.GenerateTestbench(context.Background(), nil, GenerateInput{
		SpecPath:  writeSpec(t),
		OutputDir: outDir,
		Simulator: "vcs",
	})
	require.NoError(t, err)

	assert.Equal(t, "success", out.Result)
	assert.Zero(t, out.ExitCode)
	assert.NotEmpty(t, out.Files)
	assert.Empty(t, out.FailedComponents)

	_, statErr := os.Stat(filepath.Join(outDir, "alu_env.sv"))
	assert.NoError(t, statErr)
}

func TestGenerateTestbench_NoCredentialWithoutFactory(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.APIKey = ""
	svc := NewService(cfg, nil)

	_, _, err = svc.GenerateTestbench(context.Background(), nil, GenerateInput{SpecPath: writeSpec(t)})
	require.ErrorContains(t, err, "API credential")
}

func TestGetSessionStats(t *testing.T) {
	svc := testService(t)

	_, _, err := svc.GetSessionStats(context.Background(), nil, GetSessionStatsInput{})
	require.ErrorContains(t, err, "no session")

	_, _, err = svc.GenerateTestbench(context.Background(), nil, GenerateInput{
		SpecPath:  writeSpec(t),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	_, stats, err := svc.GetSessionStats(context.Background(), nil, GetSessionStatsInput{Kind: "plan-request"})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.PlanNodeCount)
	assert.GreaterOrEqual(t, stats.MessageCount, 8)
	assert.NotEmpty(t, stats.Messages)
	for _, m := range stats.Messages {
		assert.Equal(t, "plan-request", m.Kind)
	}
}
