// Package plan holds the testbench plan tree: the hierarchical record of
// components to be produced and their approval status. The tree is owned and
// mutated exclusively by the orchestrator task; agents only see envelopes.
package plan

import (
	"fmt"

	"github.com/fra-l/verifai/internal/comms"
)

// ComponentType identifies what kind of testbench component a node plans.
type ComponentType string

const (
	ComponentEnvironment ComponentType = "environment"
	ComponentInterface   ComponentType = "interface"
	ComponentSequence    ComponentType = "sequence"
	ComponentScoreboard  ComponentType = "scoreboard"
)

// Status is a plan node's position in the approval state machine:
// Proposed -> (Approved | Rejected) -> Superseded.
type Status string

const (
	StatusProposed   Status = "proposed"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// DefaultMaxLintRounds bounds lint-heal rounds per node unless configured
// otherwise.
const DefaultMaxLintRounds = 3

// Node is one planned component. Parent is a back-reference only; children
// are owned in declaration order.
type Node struct {
	Type     ComponentType
	Identity string

	parent   *Node
	children []*Node

	Status Status
	// Failed is sticky: set when the retry budget is exhausted without
	// the node reaching Approved (terminal-failed).
	Failed bool

	Artifact *comms.CodeArtifact
	Producer string // agent id that produced the artifact

	RetryCount int
	Budget     int

	// ContractRev records which revision of the upstream interface
	// contract this node's proposal consumed. Conflict resolution
	// re-requests nodes whose consumed revision is stale.
	ContractRev int
}

// NewNode creates a node in Proposed state with the default lint budget.
func NewNode(typ ComponentType, identity string) *Node {
	return &Node{
		Type:     typ,
		Identity: identity,
		Status:   StatusProposed,
		Budget:   DefaultMaxLintRounds,
	}
}

// Parent returns the node's parent, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children in attach order.
func (n *Node) Children() []*Node { return n.children }

// Depth returns the node's distance from the root.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Approve transitions the node to Approved. An approved node always carries
// an artifact.
func (n *Node) Approve(artifact *comms.CodeArtifact, producer string) error {
	if artifact == nil {
		return fmt.Errorf("plan: approve %s without artifact", n.Identity)
	}
	n.Artifact = artifact
	n.Producer = producer
	n.Status = StatusApproved
	n.Failed = false
	return nil
}

// Reject transitions the node to Rejected and charges one retry against its
// budget. It reports whether the node still has budget for a re-request;
// when it does not, the node is marked terminal-failed.
func (n *Node) Reject() bool {
	n.Status = StatusRejected
	n.RetryCount++
	if n.RetryCount >= n.Budget {
		n.Failed = true
		return false
	}
	return true
}

// Supersede marks the node's current proposal as replaced by a newer one.
func (n *Node) Supersede() {
	n.Status = StatusSuperseded
}

// VisibleStatus folds the terminal-failed flag into a display string.
func (n *Node) VisibleStatus() string {
	if n.Failed {
		return "failed"
	}
	return string(n.Status)
}

// Tree is the plan tree: acyclic, rooted at exactly one top node, indexed
// by component identity. Not safe for concurrent mutation; the orchestrator
// is the sole writer.
type Tree struct {
	root  *Node
	index map[string]*Node
}

// NewTree creates a tree rooted at root.
func NewTree(root *Node) *Tree {
	t := &Tree{
		root:  root,
		index: map[string]*Node{root.Identity: root},
	}
	return t
}

// Root returns the tree's single top node.
func (t *Tree) Root() *Node { return t.root }

// Attach adds child under parent. Identities are unique tree-wide and a
// node is attached at most once, which keeps the tree acyclic.
func (t *Tree) Attach(parent, child *Node) error {
	if _, ok := t.index[parent.Identity]; !ok {
		return fmt.Errorf("plan: parent %q not in tree", parent.Identity)
	}
	if _, ok := t.index[child.Identity]; ok {
		return fmt.Errorf("plan: node %q already in tree", child.Identity)
	}
	if child.parent != nil {
		return fmt.Errorf("plan: node %q already attached", child.Identity)
	}
	child.parent = parent
	parent.children = append(parent.children, child)
	t.index[child.Identity] = child
	return nil
}

// Find returns the node with the given identity, or nil.
func (t *Tree) Find(identity string) *Node {
	return t.index[identity]
}

// Walk visits every node depth-first in attach order.
func (t *Tree) Walk(fn func(*Node)) {
	var visit func(*Node)
	visit = func(n *Node) {
		fn(n)
		for _, c := range n.children {
			visit(c)
		}
	}
	visit(t.root)
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.index) }

// AtDepth returns the nodes at the given depth in attach order.
func (t *Tree) AtDepth(depth int) []*Node {
	var out []*Node
	t.Walk(func(n *Node) {
		if n.Depth() == depth {
			out = append(out, n)
		}
	})
	return out
}

// ByType returns the nodes of the given component type in attach order.
func (t *Tree) ByType(typ ComponentType) []*Node {
	var out []*Node
	t.Walk(func(n *Node) {
		if n.Type == typ {
			out = append(out, n)
		}
	})
	return out
}

// ByArtifactFile returns the first node whose artifact filename matches, or
// nil. The lint-heal loop uses it to map lint findings back to their
// originating node.
func (t *Tree) ByArtifactFile(filename string) *Node {
	var found *Node
	t.Walk(func(n *Node) {
		if found == nil && n.Artifact != nil && n.Artifact.Filename == filename {
			found = n
		}
	})
	return found
}
