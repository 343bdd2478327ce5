// Package config loads project settings from verifai.yml plus credentials
// from the environment.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the config file omits a value.
const (
	DefaultModel              = "claude-sonnet-4-20250514"
	DefaultCoverageTarget     = 95.0
	DefaultMaxLintRounds      = 3
	DefaultMaxCoverageIters   = 5
	DefaultProgressMinDelta   = 1.0
	DefaultProgressPatience   = 2
	DefaultDialogueTimeoutSec = 120
)

// ProjectConfig holds project-level settings loaded from verifai.yml.
type ProjectConfig struct {
	OutputDir      string  `yaml:"outputDir,omitempty"`
	Simulator      string  `yaml:"simulator,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	CoverageTarget float64 `yaml:"coverageTarget,omitempty"`
	MaxLintRounds  int     `yaml:"maxLintRounds,omitempty"`
	MaxCoverage    int     `yaml:"maxCoverageIterations,omitempty"`
	// ProgressMinDelta and ProgressPatience tune no-progress detection in
	// the coverage-closure loop.
	ProgressMinDelta float64 `yaml:"progressMinDelta,omitempty"`
	ProgressPatience int     `yaml:"progressPatience,omitempty"`
	// DialogueTimeoutSec bounds each request/response exchange.
	DialogueTimeoutSec int  `yaml:"dialogueTimeoutSec,omitempty"`
	Verbose            bool `yaml:"verbose,omitempty"`

	// APIKey is never read from the file; it comes from the environment.
	APIKey string `yaml:"-"`
}

// Load attempts to read verifai.yml or verifai.yaml from the given
// directory. Returns a defaulted config (not an error) if no config file
// exists. Credentials come from ANTHROPIC_API_KEY, falling back to
// ANTHROPIC_AUTH_TOKEN.
func Load(dir string) (*ProjectConfig, error) {
	cfg := &ProjectConfig{}
	for _, name := range []string{"verifai.yml", "verifai.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		break
	}
	cfg.applyDefaults()
	cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_AUTH_TOKEN")
	}
	return cfg, nil
}

func (c *ProjectConfig) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "tb"
	}
	if c.Simulator == "" {
		c.Simulator = "generic"
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.CoverageTarget <= 0 {
		c.CoverageTarget = DefaultCoverageTarget
	}
	if c.MaxLintRounds <= 0 {
		c.MaxLintRounds = DefaultMaxLintRounds
	}
	if c.MaxCoverage <= 0 {
		c.MaxCoverage = DefaultMaxCoverageIters
	}
	if c.ProgressMinDelta <= 0 {
		c.ProgressMinDelta = DefaultProgressMinDelta
	}
	if c.ProgressPatience <= 0 {
		c.ProgressPatience = DefaultProgressPatience
	}
	if c.DialogueTimeoutSec <= 0 {
		c.DialogueTimeoutSec = DefaultDialogueTimeoutSec
	}
}
