// Package dut models the Design Under Test specification consumed by plan
// construction: ports, parameters, and protocol groupings.
package dut

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Direction is a port direction.
type Direction string

const (
	DirInput  Direction = "input"
	DirOutput Direction = "output"
	DirInout  Direction = "inout"
)

// Port describes a single DUT port.
type Port struct {
	Name        string    `json:"name" yaml:"name"`
	Direction   Direction `json:"direction" yaml:"direction"`
	Width       int       `json:"width" yaml:"width"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	IsClock     bool      `json:"is_clock,omitempty" yaml:"is_clock,omitempty"`
	IsReset     bool      `json:"is_reset,omitempty" yaml:"is_reset,omitempty"`
}

// SVType returns the SystemVerilog type declaration for the port.
func (p Port) SVType() string {
	if p.Width <= 1 {
		return "logic"
	}
	return fmt.Sprintf("logic [%d:0]", p.Width-1)
}

// Parameter describes a DUT module parameter.
type Parameter struct {
	Name         string `json:"name" yaml:"name"`
	Datatype     string `json:"datatype,omitempty" yaml:"datatype,omitempty"`
	DefaultValue string `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Protocol groups a named set of ports into one interface with a protocol
// type (e.g. "AXI4", "APB", "custom").
type Protocol struct {
	Name         string   `json:"name" yaml:"name"`
	PortNames    []string `json:"port_names" yaml:"port_names"`
	ProtocolType string   `json:"protocol_type,omitempty" yaml:"protocol_type,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Spec is the complete specification of a Design Under Test.
type Spec struct {
	Name           string      `json:"name" yaml:"name"`
	ModuleName     string      `json:"module_name,omitempty" yaml:"module_name,omitempty"`
	Ports          []Port      `json:"ports" yaml:"ports"`
	Parameters     []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Protocols      []Protocol  `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	ClockName      string      `json:"clock_name,omitempty" yaml:"clock_name,omitempty"`
	ResetName      string      `json:"reset_name,omitempty" yaml:"reset_name,omitempty"`
	ResetActiveLow bool        `json:"reset_active_low,omitempty" yaml:"reset_active_low,omitempty"`
}

// Load reads a spec from a JSON or YAML file, applies defaults, and
// validates it. A malformed spec is a fatal input error.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dut: read spec %s: %w", path, err)
	}

	var spec Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &spec)
	default:
		err = json.Unmarshal(data, &spec)
	}
	if err != nil {
		return nil, fmt.Errorf("dut: parse spec %s: %w", path, err)
	}

	spec.ApplyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("dut: invalid spec %s: %w", path, err)
	}
	return &spec, nil
}

// ApplyDefaults fills the conventional defaults the original spec format
// leaves implicit.
func (s *Spec) ApplyDefaults() {
	if s.ModuleName == "" {
		s.ModuleName = s.Name
	}
	if s.ClockName == "" {
		s.ClockName = "clk"
	}
	if s.ResetName == "" {
		s.ResetName = "rst_n"
	}
	for i := range s.Ports {
		if s.Ports[i].Width == 0 {
			s.Ports[i].Width = 1
		}
	}
}

// Validate checks the structural invariants plan construction relies on.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Ports) == 0 {
		return fmt.Errorf("at least one port is required")
	}

	names := make(map[string]bool, len(s.Ports))
	for _, p := range s.Ports {
		if p.Name == "" {
			return fmt.Errorf("port with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate port %q", p.Name)
		}
		names[p.Name] = true

		switch p.Direction {
		case DirInput, DirOutput, DirInout:
		default:
			return fmt.Errorf("port %q: invalid direction %q", p.Name, p.Direction)
		}
		if p.Width < 1 {
			return fmt.Errorf("port %q: width must be positive, got %d", p.Name, p.Width)
		}
	}

	for _, proto := range s.Protocols {
		if proto.Name == "" {
			return fmt.Errorf("protocol with empty name")
		}
		for _, pn := range proto.PortNames {
			if !names[pn] {
				return fmt.Errorf("protocol %q references unknown port %q", proto.Name, pn)
			}
		}
	}
	return nil
}

// ClockPort returns the first port flagged as a clock, or nil.
func (s *Spec) ClockPort() *Port {
	for i := range s.Ports {
		if s.Ports[i].IsClock {
			return &s.Ports[i]
		}
	}
	return nil
}

// ResetPort returns the first port flagged as a reset, or nil.
func (s *Spec) ResetPort() *Port {
	for i := range s.Ports {
		if s.Ports[i].IsReset {
			return &s.Ports[i]
		}
	}
	return nil
}

// SignalPorts returns the ports that are neither clock nor reset.
func (s *Spec) SignalPorts() []Port {
	var out []Port
	for _, p := range s.Ports {
		if !p.IsClock && !p.IsReset {
			out = append(out, p)
		}
	}
	return out
}

// InputPorts returns the input-direction ports.
func (s *Spec) InputPorts() []Port {
	var out []Port
	for _, p := range s.Ports {
		if p.Direction == DirInput {
			out = append(out, p)
		}
	}
	return out
}

// ProtocolPorts returns the signal ports belonging to the named protocol,
// in declaration order.
func (s *Spec) ProtocolPorts(proto Protocol) []Port {
	member := make(map[string]bool, len(proto.PortNames))
	for _, n := range proto.PortNames {
		member[n] = true
	}
	var out []Port
	for _, p := range s.SignalPorts() {
		if member[p.Name] {
			out = append(out, p)
		}
	}
	return out
}
