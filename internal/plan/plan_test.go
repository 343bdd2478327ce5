package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fra-l/verifai/internal/comms"
)

func fifoTree(t *testing.T) *Tree {
	t.Helper()
	root := NewNode(ComponentEnvironment, "fifo_env")
	tree := NewTree(root)

	iface := NewNode(ComponentInterface, "fifo_if")
	seq := NewNode(ComponentSequence, "fifo_base_seq")
	sb := NewNode(ComponentScoreboard, "fifo_scoreboard")
	require.NoError(t, tree.Attach(root, iface))
	require.NoError(t, tree.Attach(iface, seq))
	require.NoError(t, tree.Attach(root, sb))
	return tree
}

func TestTree_AttachAndFind(t *testing.T) {
	tree := fifoTree(t)

	assert.Equal(t, 4, tree.Len())
	assert.Equal(t, "fifo_env", tree.Root().Identity)

	seq := tree.Find("fifo_base_seq")
	require.NotNil(t, seq)
	assert.Equal(t, 2, seq.Depth())
	assert.Equal(t, "fifo_if", seq.Parent().Identity)

	assert.Nil(t, tree.Find("nonexistent"))
}

func TestTree_AttachRejectsDuplicatesAndCycles(t *testing.T) {
	tree := fifoTree(t)
	root := tree.Root()
	iface := tree.Find("fifo_if")

	dup := NewNode(ComponentSequence, "fifo_if")
	assert.Error(t, tree.Attach(root, dup))

	// Re-attaching an existing node anywhere would create a cycle or a
	// second parent; both are refused.
	assert.Error(t, tree.Attach(iface, root))
	assert.Error(t, tree.Attach(root, iface))

	orphanParent := NewNode(ComponentSequence, "not_in_tree")
	assert.Error(t, tree.Attach(orphanParent, NewNode(ComponentSequence, "child")))

	assert.Equal(t, 4, tree.Len())
}

func TestTree_WalkOrderAndSelectors(t *testing.T) {
	tree := fifoTree(t)

	var order []string
	tree.Walk(func(n *Node) { order = append(order, n.Identity) })
	assert.Equal(t, []string{"fifo_env", "fifo_if", "fifo_base_seq", "fifo_scoreboard"}, order)

	depth1 := tree.AtDepth(1)
	require.Len(t, depth1, 2)
	assert.Equal(t, "fifo_if", depth1[0].Identity)
	assert.Equal(t, "fifo_scoreboard", depth1[1].Identity)

	seqs := tree.ByType(ComponentSequence)
	require.Len(t, seqs, 1)
	assert.Equal(t, "fifo_base_seq", seqs[0].Identity)
}

func TestNode_ApproveRequiresArtifact(t *testing.T) {
	n := NewNode(ComponentInterface, "fifo_if")
	assert.Error(t, n.Approve(nil, "interface-agent"))
	assert.Equal(t, StatusProposed, n.Status)

	art := &comms.CodeArtifact{Filename: "fifo_if.sv", Content: "interface fifo_if;\nendinterface\n"}
	require.NoError(t, n.Approve(art, "interface-agent"))
	assert.Equal(t, StatusApproved, n.Status)
	assert.Equal(t, "interface-agent", n.Producer)
	assert.False(t, n.Failed)
}

func TestNode_RejectExhaustsBudget(t *testing.T) {
	n := NewNode(ComponentSequence, "fifo_base_seq")
	require.Equal(t, DefaultMaxLintRounds, n.Budget)

	assert.True(t, n.Reject())
	assert.True(t, n.Reject())
	assert.Equal(t, 2, n.RetryCount)
	assert.False(t, n.Failed)

	assert.False(t, n.Reject())
	assert.True(t, n.Failed)
	assert.Equal(t, "failed", n.VisibleStatus())

	// Approval after a late successful revision clears the flag.
	require.NoError(t, n.Approve(&comms.CodeArtifact{Filename: "seq.sv", Content: "x"}, "sequence-agent"))
	assert.False(t, n.Failed)
	assert.Equal(t, "approved", n.VisibleStatus())
}

func TestTree_ByArtifactFile(t *testing.T) {
	tree := fifoTree(t)
	iface := tree.Find("fifo_if")
	require.NoError(t, iface.Approve(&comms.CodeArtifact{Filename: "fifo_if.sv", Content: "i"}, "interface-agent"))

	assert.Same(t, iface, tree.ByArtifactFile("fifo_if.sv"))
	assert.Nil(t, tree.ByArtifactFile("missing.sv"))
}

func TestProgressTracker_StallsAfterPatienceWindow(t *testing.T) {
	tr := NewProgressTracker(1.0, 2)

	assert.True(t, tr.Observe(CoverageSnapshot{OverallPercent: 60}))
	assert.True(t, tr.Observe(CoverageSnapshot{OverallPercent: 70}))
	assert.False(t, tr.Stalled())

	assert.False(t, tr.Observe(CoverageSnapshot{OverallPercent: 70}))
	assert.False(t, tr.Stalled())
	assert.False(t, tr.Observe(CoverageSnapshot{OverallPercent: 70}))
	assert.True(t, tr.Stalled())

	assert.Equal(t, 70.0, tr.Best())
	assert.Len(t, tr.History(), 4)
}

func TestProgressTracker_SmallGainsResetNothing(t *testing.T) {
	tr := NewProgressTracker(2.0, 2)

	tr.Observe(CoverageSnapshot{OverallPercent: 50})
	assert.False(t, tr.Observe(CoverageSnapshot{OverallPercent: 51}))
	// Best still advances even when the gain is below the threshold.
	assert.Equal(t, 51.0, tr.Best())
	assert.False(t, tr.Observe(CoverageSnapshot{OverallPercent: 51.5}))
	assert.True(t, tr.Stalled())
}

func TestCoverageSnapshot_CloneIsDeep(t *testing.T) {
	s := CoverageSnapshot{OverallPercent: 80, PerBin: map[string]bool{"wr_full": true}}
	c := s.Clone()
	c.PerBin["wr_full"] = false
	assert.True(t, s.PerBin["wr_full"])
}
