// Package codegen renders SystemVerilog/UVM testbench files from embedded
// templates and manages the generated project tree.
package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/fra-l/verifai/internal/comms"
	"github.com/fra-l/verifai/internal/dut"
)

//go:embed templates/*.sv.tmpl
var templateFS embed.FS

// Component template names, keyed by the suffix of the generated class.
const (
	TemplateSequenceItem = "sequence_item"
	TemplateDriver       = "driver"
	TemplateMonitor      = "monitor"
	TemplateSequencer    = "sequencer"
	TemplateSequence     = "sequence"
	TemplateAgent        = "agent"
	TemplateScoreboard   = "scoreboard"
	TemplateEnv          = "env"
	TemplateTest         = "test"
	TemplateInterface    = "interface"
	TemplateTop          = "tb_top"
	TemplatePackage      = "package"
)

// Emitter renders UVM component scaffolds from the embedded template set.
type Emitter struct {
	tmpl *template.Template
}

// NewEmitter parses all embedded templates.
func NewEmitter() (*Emitter, error) {
	funcs := template.FuncMap{
		"dec": func(n int) int { return n - 1 },
	}
	tmpl, err := template.New("codegen").Funcs(funcs).ParseFS(templateFS, "templates/*.sv.tmpl")
	if err != nil {
		return nil, fmt.Errorf("codegen: parse templates: %w", err)
	}
	return &Emitter{tmpl: tmpl}, nil
}

// ComponentData parametrizes the single-class component templates (driver,
// monitor, sequencer, agent, scoreboard, env, test, sequence).
type ComponentData struct {
	Name          string // class name, e.g. fifo_driver
	ItemType      string // transaction class, e.g. fifo_item
	InterfaceName string // virtual interface type, e.g. fifo_if
	PackageName   string // enclosing package, e.g. fifo_pkg
	// Children lists sub-component class names for container templates
	// (agent members for env, env name for test).
	Children []string
}

// ItemData parametrizes the sequence_item template.
type ItemData struct {
	Name   string
	Fields []comms.ContractField
}

// InterfaceData parametrizes the interface template.
type InterfaceData struct {
	Name      string
	ClockName string
	ResetName string
	Signals   []dut.Port
}

// TopData parametrizes the tb_top template.
type TopData struct {
	ModuleName    string // DUT module to instantiate
	InterfaceName string
	PackageName   string
	TestName      string
	ClockName     string
	ResetName     string
	ClockPeriodNs int
	Ports         []dut.Port
}

// PackageData parametrizes the package template.
type PackageData struct {
	Name     string
	Includes []string // files in compile order
}

// Render executes the named template with the given data.
func (e *Emitter) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.ExecuteTemplate(&buf, name+".sv.tmpl", data); err != nil {
		return "", fmt.Errorf("codegen: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// HasTemplate reports whether a template with the given name is embedded.
func (e *Emitter) HasTemplate(name string) bool {
	return e.tmpl.Lookup(name+".sv.tmpl") != nil
}

// RenderInterface renders the SystemVerilog interface for a DUT spec's
// signal ports.
func (e *Emitter) RenderInterface(name string, spec *dut.Spec) (string, error) {
	data := InterfaceData{
		Name:      name,
		ClockName: "clk",
		ResetName: "rst_n",
		Signals:   spec.SignalPorts(),
	}
	if p := spec.ClockPort(); p != nil {
		data.ClockName = p.Name
	}
	if p := spec.ResetPort(); p != nil {
		data.ResetName = p.Name
	}
	return e.Render(TemplateInterface, data)
}

// RenderTop renders the testbench top module for a DUT spec.
func (e *Emitter) RenderTop(spec *dut.Spec, ifaceName, pkgName, testName string) (string, error) {
	data := TopData{
		ModuleName:    spec.ModuleName,
		InterfaceName: ifaceName,
		PackageName:   pkgName,
		TestName:      testName,
		ClockName:     "clk",
		ResetName:     "rst_n",
		ClockPeriodNs: 10,
		Ports:         spec.SignalPorts(),
	}
	if p := spec.ClockPort(); p != nil {
		data.ClockName = p.Name
	}
	if p := spec.ResetPort(); p != nil {
		data.ResetName = p.Name
	}
	return e.Render(TemplateTop, data)
}
