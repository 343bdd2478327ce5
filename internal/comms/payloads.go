package comms

// Payload structs for the eight envelope kinds. The bus and dialogue layers
// never inspect these; they exist so that agents and the orchestrator agree
// on a wire shape. All fields are value types so an envelope can be shared
// between goroutines without aliasing surprises.

// PlanRequest asks a role to generate a component or plan.
type PlanRequest struct {
	ComponentName string
	Spec          map[string]any
	Instructions  string
	Context       map[string]any
}

// PlanResponse carries a role's proposed code or structured plan.
type PlanResponse struct {
	ComponentName string
	ProposedCode  string
	ProposedPlan  map[string]any
	Notes         []string
	Confidence    float64 // 0.0 - 1.0
}

// ReviewFeedback tells a role whether its proposal was accepted, and why not.
type ReviewFeedback struct {
	ComponentName string
	Approved      bool
	Issues        []string
	Suggestions   []string
	RevisedSpec   map[string]any
}

// InterfaceContract describes the transaction fields and constraints a
// sequence role must honor when generating stimulus for an interface.
type InterfaceContract struct {
	InterfaceName   string
	TransactionType string
	Fields          []ContractField
	Constraints     []string
	ProtocolNotes   string
}

// ContractField is one transaction field in an InterfaceContract.
type ContractField struct {
	Name  string
	Type  string
	Width int
	Rand  bool
}

// SequenceProposal offers a new stimulus sequence.
type SequenceProposal struct {
	SequenceName           string
	TargetScenario         string
	SequenceCode           string
	ExpectedCoverageImpact []string
}

// CoverageReport summarizes a coverage measurement.
type CoverageReport struct {
	OverallPercent float64
	Bins           map[string]bool // bin id -> covered
	UncoveredBins  []string
	Suggestions    []string
}

// CoverageDirective names the coverage holes a sequence role should target.
type CoverageDirective struct {
	TargetBins      []string
	TargetScenarios []string
	Constraints     []string
}

// CodeArtifact is a generated source file emitted by any role.
type CodeArtifact struct {
	Filename      string
	Content       string
	Language      string
	ComponentType string
}
