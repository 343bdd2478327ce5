// Package llm implements the Claude-backed Proposer that answers plan
// requests, revisions, and coverage directives for the specialist roles.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/fra-l/verifai/internal/agent"
	"github.com/fra-l/verifai/internal/comms"
)

// Compile-time assertion: *Proposer satisfies agent.Proposer.
var _ agent.Proposer = (*Proposer)(nil)

const defaultMaxTokens = 8192

// Proposer calls the Anthropic Messages API with a role-specific system
// prompt and parses the structured answer.
type Proposer struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// NewProposer creates a Proposer using the given credentials and model. A
// nil logger defaults to zap.NewNop().
func NewProposer(apiKey, model string, logger *zap.Logger) *Proposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proposer{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logger,
	}
}

// proposalEnvelope is the JSON shape the system prompts instruct the model
// to answer with.
type proposalEnvelope struct {
	Code       string         `json:"code"`
	Plan       map[string]any `json:"plan,omitempty"`
	Notes      []string       `json:"notes,omitempty"`
	Confidence float64        `json:"confidence"`
	Contract   *struct {
		InterfaceName   string `json:"interface_name"`
		TransactionType string `json:"transaction_type"`
		Fields          []struct {
			Name  string `json:"name"`
			Type  string `json:"type"`
			Width int    `json:"width"`
			Rand  bool   `json:"rand"`
		} `json:"fields"`
		Constraints   []string `json:"constraints,omitempty"`
		ProtocolNotes string   `json:"protocol_notes,omitempty"`
	} `json:"contract,omitempty"`
}

type sequenceEnvelope struct {
	SequenceName           string   `json:"sequence_name"`
	TargetScenario         string   `json:"target_scenario"`
	SequenceCode           string   `json:"sequence_code"`
	ExpectedCoverageImpact []string `json:"expected_coverage_impact,omitempty"`
}

// Propose answers an initial plan request.
func (p *Proposer) Propose(ctx context.Context, role agent.Role, req comms.PlanRequest) (agent.Proposal, error) {
	prompt := buildPlanPrompt(req)
	text, err := p.complete(ctx, systemPrompt(role), prompt)
	if err != nil {
		return agent.Proposal{}, err
	}
	return p.parseProposal(role, text)
}

// Revise answers rejection feedback with an improved proposal.
func (p *Proposer) Revise(ctx context.Context, role agent.Role, fb comms.ReviewFeedback) (agent.Proposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous proposal for component %q was rejected.\n", fb.ComponentName)
	if len(fb.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range fb.Issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if len(fb.Suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		for _, s := range fb.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(fb.RevisedSpec) > 0 {
		spec, _ := json.MarshalIndent(fb.RevisedSpec, "", "  ")
		fmt.Fprintf(&b, "Revised specification:\n%s\n", spec)
	}
	b.WriteString("\nProduce a corrected proposal in the same JSON format as before.")

	text, err := p.complete(ctx, systemPrompt(role), b.String())
	if err != nil {
		return agent.Proposal{}, err
	}
	return p.parseProposal(role, text)
}

// ProposeSequence answers a coverage directive with new stimulus.
func (p *Proposer) ProposeSequence(ctx context.Context, dir comms.CoverageDirective, contract comms.InterfaceContract) (comms.SequenceProposal, error) {
	var b strings.Builder
	b.WriteString("Coverage closure is stalled. Write one new UVM sequence targeting these holes.\n")
	if len(dir.TargetBins) > 0 {
		fmt.Fprintf(&b, "Uncovered bins: %s\n", strings.Join(dir.TargetBins, ", "))
	}
	if len(dir.TargetScenarios) > 0 {
		fmt.Fprintf(&b, "Target scenarios: %s\n", strings.Join(dir.TargetScenarios, ", "))
	}
	if len(dir.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints to honor: %s\n", strings.Join(dir.Constraints, ", "))
	}
	if contract.TransactionType != "" {
		spec, _ := json.MarshalIndent(contract, "", "  ")
		fmt.Fprintf(&b, "Interface contract:\n%s\n", spec)
	}
	b.WriteString("\nAnswer with JSON: {\"sequence_name\", \"target_scenario\", \"sequence_code\", \"expected_coverage_impact\"}.")

	text, err := p.complete(ctx, systemPrompt(agent.RoleSequence), b.String())
	if err != nil {
		return comms.SequenceProposal{}, err
	}

	var env sequenceEnvelope
	if raw := ExtractJSON(text); raw != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			p.logger.Debug("sequence answer not valid JSON", zap.Error(err))
		}
	}
	if env.SequenceCode == "" {
		env.SequenceCode = ExtractCode(text, "systemverilog")
	}
	if env.SequenceName == "" {
		env.SequenceName = "coverage_seq"
	}
	return comms.SequenceProposal{
		SequenceName:           env.SequenceName,
		TargetScenario:         env.TargetScenario,
		SequenceCode:           env.SequenceCode,
		ExpectedCoverageImpact: env.ExpectedCoverageImpact,
	}, nil
}

func (p *Proposer) complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: messages: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("llm: empty completion")
	}
	p.logger.Debug("completion received", zap.Int("chars", len(out)))
	return out, nil
}

func (p *Proposer) parseProposal(role agent.Role, text string) (agent.Proposal, error) {
	var env proposalEnvelope
	if raw := ExtractJSON(text); raw != "" {
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			p.logger.Debug("proposal answer not valid JSON", zap.Error(err))
		}
	}
	if env.Code == "" {
		env.Code = ExtractCode(text, "systemverilog")
	}
	if env.Code == "" {
		return agent.Proposal{}, fmt.Errorf("llm: %s answer carried no code", role)
	}
	if env.Confidence == 0 {
		env.Confidence = 0.5
	}

	prop := agent.Proposal{
		Code:       env.Code,
		Plan:       env.Plan,
		Notes:      env.Notes,
		Confidence: env.Confidence,
	}
	if env.Contract != nil {
		fields := make([]comms.ContractField, 0, len(env.Contract.Fields))
		for _, f := range env.Contract.Fields {
			fields = append(fields, comms.ContractField{
				Name:  f.Name,
				Type:  f.Type,
				Width: f.Width,
				Rand:  f.Rand,
			})
		}
		prop.Contract = &comms.InterfaceContract{
			InterfaceName:   env.Contract.InterfaceName,
			TransactionType: env.Contract.TransactionType,
			Fields:          fields,
			Constraints:     env.Contract.Constraints,
			ProtocolNotes:   env.Contract.ProtocolNotes,
		}
	}
	return prop, nil
}

func buildPlanPrompt(req comms.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate the %q component.\n", req.ComponentName)
	if len(req.Spec) > 0 {
		spec, _ := json.MarshalIndent(req.Spec, "", "  ")
		fmt.Fprintf(&b, "DUT specification:\n%s\n", spec)
	}
	if req.Instructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", req.Instructions)
	}
	if len(req.Context) > 0 {
		ctx, _ := json.MarshalIndent(req.Context, "", "  ")
		fmt.Fprintf(&b, "Additional context:\n%s\n", ctx)
	}
	return b.String()
}
