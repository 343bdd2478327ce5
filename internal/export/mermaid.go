// Package export renders a session's plan tree and outcome into shareable
// formats: a Mermaid diagram for documentation and a JSON dump for tooling.
package export

import (
	"fmt"
	"strings"

	"github.com/fra-l/verifai/internal/plan"
)

// GenerateMermaid produces a Mermaid graph TD diagram of the plan tree.
// Parent/child edges become arrows; node style reflects approval status.
func GenerateMermaid(tree *plan.Tree) string {
	// Node → ID mapping for Mermaid (alphanumeric only).
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(identity string) string {
		if id, ok := nodeIDs[identity]; ok {
			return id
		}
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[identity] = id
		return id
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	tree.Walk(func(n *plan.Node) {
		sb.WriteString(fmt.Sprintf("  %s[\"%s<br/>(%s)\"]\n", getID(n.Identity), n.Identity, n.Type))
	})
	tree.Walk(func(n *plan.Node) {
		for _, c := range n.Children() {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", getID(n.Identity), getID(c.Identity)))
		}
	})

	sb.WriteString("  classDef approved fill:#e6ffe6,stroke:#2e7d32\n")
	sb.WriteString("  classDef failed fill:#ffe6e6,stroke:#c62828\n")
	sb.WriteString("  classDef pending fill:#fffde6,stroke:#9e9d24\n")
	tree.Walk(func(n *plan.Node) {
		class := "pending"
		switch {
		case n.Failed:
			class = "failed"
		case n.Status == plan.StatusApproved:
			class = "approved"
		}
		sb.WriteString(fmt.Sprintf("  class %s %s\n", getID(n.Identity), class))
	})

	return sb.String()
}
