package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/coverage"
	"github.com/fra-l/verifai/internal/dut"
	"github.com/fra-l/verifai/internal/lint"
	"github.com/fra-l/verifai/internal/plan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubAgents backs every specialist role with deterministic proposals and
// counts what each role was asked.
type stubAgents struct {
	mu        sync.Mutex
	proposals map[agent.Role]int
	revisions map[agent.Role]int
	sequences int

	failRoles map[agent.Role]bool
	// failRevise breaks only the revision path for a role, leaving its
	// initial proposal healthy.
	failRevise map[agent.Role]bool
	// reviseContract, when set, is broadcast by the interface role's first
	// revision, simulating a contract change mid-session.
	reviseContract *comms.InterfaceContract
}

func newStubAgents() *stubAgents {
	return &stubAgents{
		proposals:  make(map[agent.Role]int),
		revisions:  make(map[agent.Role]int),
		failRoles:  make(map[agent.Role]bool),
		failRevise: make(map[agent.Role]bool),
	}
}

func (s *stubAgents) factory(role agent.Role) agent.Proposer {
	return &roleStub{role: role, parent: s}
}

func (s *stubAgents) proposed(role agent.Role) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proposals[role]
}

type roleStub struct {
	role   agent.Role
	parent *stubAgents
}

func (r *roleStub) Propose(_ context.Context, role agent.Role, req comms.PlanRequest) (agent.Proposal, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()
	if r.parent.failRoles[role] {
		return agent.Proposal{}, fmt.Errorf("stub %s is down", role)
	}
	r.parent.proposals[role]++
	prop := agent.Proposal{
		Code:       fmt.Sprintf("class %s; endclass", req.ComponentName),
		Confidence: 0.9,
	}
	if role == agent.RoleInterface {
		prop.Contract = &comms.InterfaceContract{
			InterfaceName:   req.ComponentName,
			TransactionType: "fifo_item",
			Fields: []comms.ContractField{
				{Name: "data", Type: "logic", Width: 8, Rand: true},
			},
		}
	}
	return prop, nil
}

func (r *roleStub) Revise(_ context.Context, role agent.Role, fb comms.ReviewFeedback) (agent.Proposal, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()
	if r.parent.failRoles[role] || r.parent.failRevise[role] {
		return agent.Proposal{}, fmt.Errorf("stub %s is down", role)
	}
	r.parent.revisions[role]++
	prop := agent.Proposal{
		Code:       fmt.Sprintf("class %s; endclass // revised", fb.ComponentName),
		Confidence: 0.85,
	}
	if role == agent.RoleInterface && r.parent.reviseContract != nil {
		prop.Contract = r.parent.reviseContract
	}
	return prop, nil
}

func (r *roleStub) ProposeSequence(_ context.Context, dir comms.CoverageDirective, _ comms.InterfaceContract) (comms.SequenceProposal, error) {
	r.parent.mu.Lock()
	defer r.parent.mu.Unlock()
	r.parent.sequences++
	name := fmt.Sprintf("fifo_cov_seq_%d", r.parent.sequences)
	return comms.SequenceProposal{
		SequenceName:           name,
		TargetScenario:         fmt.Sprintf("target %d bins", len(dir.TargetBins)),
		SequenceCode:           fmt.Sprintf("class %s; endclass", name),
		ExpectedCoverageImpact: dir.TargetBins,
	}, nil
}

// scriptLinter replays canned findings per file, one entry per call, then
// reports the file clean (or repeats the last entry when repeatLast is set).
type scriptLinter struct {
	mu         sync.Mutex
	issues     map[string][][]lint.Issue
	calls      map[string]int
	repeatLast bool
}

func (l *scriptLinter) Lint(_ context.Context, filename, _ string) ([]lint.Issue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	seq := l.issues[filename]
	i := l.calls[filename]
	l.calls[filename]++
	if i < len(seq) {
		return seq[i], nil
	}
	if l.repeatLast && len(seq) > 0 {
		return seq[len(seq)-1], nil
	}
	return nil, nil
}

func fifoSpec() *dut.Spec {
	spec := &dut.Spec{
		Name: "fifo",
		Ports: []dut.Port{
			{Name: "clk", Direction: dut.DirInput, Width: 1, IsClock: true},
			{Name: "rst_n", Direction: dut.DirInput, Width: 1, IsReset: true},
			{Name: "wr_en", Direction: dut.DirInput, Width: 1},
			{Name: "rd_en", Direction: dut.DirInput, Width: 1},
			{Name: "data_in", Direction: dut.DirInput, Width: 8},
			{Name: "data_out", Direction: dut.DirOutput, Width: 8},
			{Name: "full", Direction: dut.DirOutput, Width: 1},
			{Name: "empty", Direction: dut.DirOutput, Width: 1},
			{Name: "count", Direction: dut.DirOutput, Width: 4},
		},
		Protocols: []dut.Protocol{{
			Name:         "fifo",
			PortNames:    []string{"wr_en", "rd_en", "data_in", "data_out", "full", "empty", "count"},
			ProtocolType: "custom",
		}},
	}
	spec.ApplyDefaults()
	return spec
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DUT:             fifoSpec(),
		OutputDir:       t.TempDir(),
		Simulator:       "generic",
		CoverageTarget:  95,
		DialogueTimeout: 5 * time.Second,
	}
}

// sessionFixture wires a bus, spawns stub specialists on it, and builds a
// session around them.
func sessionFixture(t *testing.T, cfg Config, stub *stubAgents, linter lint.Linter, prov coverage.Provider) *Session {
	t.Helper()
	bus := comms.NewMessageBus(comms.DefaultQueueDepth, nil)
	reg := agent.NewRegistry(bus, stub.factory, nil)
	_, err := reg.SpawnAll(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		reg.StopAll()
		bus.Close()
	})

	sess, err := NewSession(cfg, Deps{Bus: bus, Linter: linter, Coverage: prov})
	require.NoError(t, err)
	return sess
}

func TestNewSession_RequiresSpecAndBus(t *testing.T) {
	_, err := NewSession(Config{}, Deps{Bus: comms.NewMessageBus(0, nil)})
	require.ErrorContains(t, err, "DUT spec")

	_, err = NewSession(Config{DUT: fifoSpec()}, Deps{})
	require.ErrorContains(t, err, "bus")
}

func TestSession_PlanShape(t *testing.T) {
	bus := comms.NewMessageBus(0, nil)
	t.Cleanup(bus.Close)
	sess, err := NewSession(testConfig(t), Deps{Bus: bus})
	require.NoError(t, err)

	tree, err := sess.Plan()
	require.NoError(t, err)

	assert.Equal(t, 4, tree.Len())
	assert.Len(t, tree.ByType(plan.ComponentEnvironment), 1)
	assert.Len(t, tree.ByType(plan.ComponentInterface), 1)
	assert.Len(t, tree.ByType(plan.ComponentSequence), 1)
	assert.Len(t, tree.ByType(plan.ComponentScoreboard), 1)

	require.NotNil(t, tree.Find("fifo_base_seq"))
	assert.Equal(t, "fifo_if", tree.Find("fifo_base_seq").Parent().Identity)

	listing := FormatPlan(tree)
	assert.Contains(t, listing, "fifo_env")
	assert.Contains(t, listing, "fifo_scoreboard")
}

func TestSession_RunAllApprovedFirstAttempt(t *testing.T) {
	stub := newStubAgents()
	cfg := testConfig(t)
	sess := sessionFixture(t, cfg, stub, nil,
		&coverage.StaticProvider{Reports: []coverage.Report{{OverallPercent: 96}}})

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, 0, out.ExitCode())
	assert.Empty(t, out.FailedComponents)
	assert.InDelta(t, 96.0, out.FinalCoverage, 0.01)

	sess.Tree().Walk(func(n *plan.Node) {
		assert.Equal(t, plan.StatusApproved, n.Status, n.Identity)
		assert.Zero(t, n.RetryCount, n.Identity)
	})

	for _, rel := range []string{"fifo_env.sv", "fifo_if.sv", "fifo_base_seq.sv", "fifo_scoreboard.sv", "fifo_pkg.sv", "fifo_test.sv", "tb_top.sv", "filelist.f", "Makefile"} {
		_, statErr := os.Stat(filepath.Join(cfg.OutputDir, rel))
		assert.NoError(t, statErr, rel)
	}
}

func TestSession_LintHealChargesOneRetry(t *testing.T) {
	stub := newStubAgents()
	linter := &scriptLinter{issues: map[string][][]lint.Issue{
		"fifo_env.sv": {{
			{File: "fifo_env.sv", Line: 3, Message: "undeclared identifier"},
			{File: "fifo_env.sv", Line: 9, Message: "missing semicolon"},
		}},
	}}
	cfg := testConfig(t)
	sess := sessionFixture(t, cfg, stub, linter, nil)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, out.Result)

	env := sess.Tree().Find("fifo_env")
	require.NotNil(t, env)
	assert.Equal(t, 1, env.RetryCount)
	assert.False(t, env.Failed)
	assert.Contains(t, env.Artifact.Content, "revised")

	data, readErr := os.ReadFile(filepath.Join(cfg.OutputDir, "fifo_env.sv"))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "revised")
}

func TestSession_LintExhaustionIsTerminal(t *testing.T) {
	stub := newStubAgents()
	linter := &scriptLinter{
		issues: map[string][][]lint.Issue{
			"fifo_scoreboard.sv": {{{File: "fifo_scoreboard.sv", Line: 1, Message: "stubborn warning"}}},
		},
		repeatLast: true,
	}
	cfg := testConfig(t)
	sess := sessionFixture(t, cfg, stub, linter, nil)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultLintExhausted, out.Result)
	assert.Equal(t, 2, out.ExitCode())
	assert.Equal(t, []string{"fifo_scoreboard"}, out.FailedComponents)

	sb := sess.Tree().Find("fifo_scoreboard")
	assert.True(t, sb.Failed)
	assert.Equal(t, plan.DefaultMaxLintRounds, sb.RetryCount)
	assert.Equal(t, "failed", sb.VisibleStatus())

	// The last artifact is still shipped.
	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, "fifo_scoreboard.sv"))
	assert.NoError(t, statErr)
}

func TestSession_BrokenReviserConsumesFullLintBudget(t *testing.T) {
	stub := newStubAgents()
	stub.failRevise[agent.RoleEnvironment] = true
	linter := &scriptLinter{
		issues: map[string][][]lint.Issue{
			"fifo_env.sv": {{{File: "fifo_env.sv", Line: 2, Message: "latch inferred"}}},
		},
		repeatLast: true,
	}
	sess := sessionFixture(t, testConfig(t), stub, linter, nil)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultLintExhausted, out.Result)
	assert.Equal(t, []string{"fifo_env"}, out.FailedComponents)

	// Each broken exchange counts like a rejected revision; the node only
	// becomes terminal once the whole budget is spent.
	env := sess.Tree().Find("fifo_env")
	assert.True(t, env.Failed)
	assert.Equal(t, plan.DefaultMaxLintRounds, env.RetryCount)
	assert.Equal(t, plan.DefaultMaxLintRounds+1, out.LintRounds)
}

func TestSession_AgentFailureAfterBudget(t *testing.T) {
	stub := newStubAgents()
	stub.failRoles[agent.RoleEnvironment] = true
	cfg := testConfig(t)
	sess := sessionFixture(t, cfg, stub, nil, nil)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultAgentFailure, out.Result)
	assert.Equal(t, 4, out.ExitCode())
	assert.Contains(t, out.FailedComponents, "fifo_env")
	assert.Empty(t, out.Files)

	env := sess.Tree().Find("fifo_env")
	assert.True(t, env.Failed)
	assert.Equal(t, env.Budget, env.RetryCount)
}

func TestSession_CoverageTargetMet(t *testing.T) {
	stub := newStubAgents()
	prov := &coverage.StaticProvider{Reports: []coverage.Report{
		{OverallPercent: 60, Bins: map[string]bool{"wr_full": false, "rd_empty": false}},
		{OverallPercent: 80, Bins: map[string]bool{"wr_full": true, "rd_empty": false}},
		{OverallPercent: 96},
	}}
	sess := sessionFixture(t, testConfig(t), stub, nil, prov)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultSuccess, out.Result)
	assert.Equal(t, 3, out.CoverageIterations)
	assert.InDelta(t, 96.0, out.FinalCoverage, 0.01)

	// Two directives were issued, each landing one approved sequence.
	assert.Len(t, sess.Tree().ByType(plan.ComponentSequence), 3)
	require.NotNil(t, sess.Tree().Find("fifo_cov_seq_1"))
	assert.Equal(t, plan.StatusApproved, sess.Tree().Find("fifo_cov_seq_1").Status)
}

func TestSession_CoverageNoProgress(t *testing.T) {
	stub := newStubAgents()
	prov := &coverage.StaticProvider{Reports: []coverage.Report{
		{OverallPercent: 60},
		{OverallPercent: 70},
		{OverallPercent: 70},
		{OverallPercent: 70},
	}}
	cfg := testConfig(t)
	cfg.ProgressMinDelta = 1.0
	cfg.ProgressPatience = 2
	sess := sessionFixture(t, cfg, stub, nil, prov)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultNoProgress, out.Result)
	assert.Equal(t, 3, out.ExitCode())
	assert.Equal(t, 4, out.CoverageIterations)
	assert.InDelta(t, 70.0, out.FinalCoverage, 0.01)
}

func TestSession_CoverageMaxIterations(t *testing.T) {
	stub := newStubAgents()
	prov := &coverage.StaticProvider{Reports: []coverage.Report{
		{OverallPercent: 10},
		{OverallPercent: 20},
		{OverallPercent: 30},
		{OverallPercent: 40},
		{OverallPercent: 50},
	}}
	cfg := testConfig(t)
	cfg.Budget = plan.RetryBudget{MaxLintRounds: 3, MaxCoverageIterations: 5}
	sess := sessionFixture(t, cfg, stub, nil, prov)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultCoverageNotMet, out.Result)
	assert.Equal(t, 3, out.ExitCode())
	assert.Equal(t, 5, out.CoverageIterations)
	assert.InDelta(t, 50.0, out.FinalCoverage, 0.01)
}

func TestSession_ContractChangeSupersedesSequence(t *testing.T) {
	stub := newStubAgents()
	stub.reviseContract = &comms.InterfaceContract{
		InterfaceName:   "fifo_if",
		TransactionType: "fifo_item",
		Fields: []comms.ContractField{
			{Name: "data", Type: "logic", Width: 8, Rand: true},
			{Name: "parity", Type: "logic", Width: 1, Rand: true},
		},
	}
	// One lint round against the interface forces a revision, which
	// broadcasts the changed contract.
	linter := &scriptLinter{issues: map[string][][]lint.Issue{
		"fifo_if.sv": {{{File: "fifo_if.sv", Line: 5, Message: "signal width mismatch"}}},
	}}
	sess := sessionFixture(t, testConfig(t), stub, linter, nil)

	out, err := sess.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, out.Result)

	seq := sess.Tree().Find("fifo_base_seq")
	require.NotNil(t, seq)
	assert.Equal(t, plan.StatusApproved, seq.Status)
	// Initial proposal consumed contract revision 1; the re-request after
	// the interface revision consumed revision 2.
	assert.Equal(t, 2, seq.ContractRev)
	assert.Equal(t, 2, stub.proposed(agent.RoleSequence))
}

func TestSession_RunDeterministicApprovals(t *testing.T) {
	// Identical inputs resolve to the identical approved set.
	var first, second []string
	for run := 0; run < 2; run++ {
		stub := newStubAgents()
		sess := sessionFixture(t, testConfig(t), stub, nil, nil)
		out, err := sess.Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, ResultSuccess, out.Result)

		var approved []string
		sess.Tree().Walk(func(n *plan.Node) {
			if n.Status == plan.StatusApproved {
				approved = append(approved, n.Identity)
			}
		})
		if run == 0 {
			first = approved
		} else {
			second = approved
		}
	}
	assert.Equal(t, first, second)
}

func TestSession_CancellationStopsRun(t *testing.T) {
	stub := newStubAgents()
	sess := sessionFixture(t, testConfig(t), stub, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sess.Run(ctx)
	require.Error(t, err)
}
