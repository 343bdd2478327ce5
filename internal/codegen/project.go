package codegen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ProjectManager accumulates generated files and writes them out as one
// project tree, including the filelist and Makefile build artifacts.
type ProjectManager struct {
	outputDir string
	files     map[string]string // relative path -> content
	logger    *zap.Logger
}

// NewProjectManager creates a manager rooted at outputDir. A nil logger
// defaults to zap.NewNop().
func NewProjectManager(outputDir string, logger *zap.Logger) *ProjectManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectManager{
		outputDir: outputDir,
		files:     make(map[string]string),
		logger:    logger,
	}
}

// OutputDir returns the root of the generated tree.
func (p *ProjectManager) OutputDir() string { return p.outputDir }

// AddFile registers a file to be written. Re-adding a path replaces its
// content, which is how lint-heal revisions land.
func (p *ProjectManager) AddFile(relPath, content string) {
	p.files[relPath] = content
	p.logger.Debug("registered file", zap.String("path", relPath))
}

// File returns the registered content for a path and whether it exists.
func (p *ProjectManager) File(relPath string) (string, bool) {
	c, ok := p.files[relPath]
	return c, ok
}

// Files returns a copy of all registered files.
func (p *ProjectManager) Files() map[string]string {
	out := make(map[string]string, len(p.files))
	for k, v := range p.files {
		out[k] = v
	}
	return out
}

// WriteAll writes every registered file under the output directory and
// returns the written paths in sorted order.
func (p *ProjectManager) WriteAll() ([]string, error) {
	paths := make([]string, 0, len(p.files))
	for rel := range p.files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	written := make([]string, 0, len(paths))
	for _, rel := range paths {
		full := filepath.Join(p.outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return written, fmt.Errorf("codegen: create %s: %w", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, []byte(p.files[rel]), 0o644); err != nil {
			return written, fmt.Errorf("codegen: write %s: %w", full, err)
		}
		written = append(written, full)
		p.logger.Info("wrote file", zap.String("path", full))
	}
	return written, nil
}

// GenerateFilelist builds filelist.f in compile order: packages first, then
// interfaces, then components, then tops. The filelist registers itself.
func (p *ProjectManager) GenerateFilelist() string {
	var pkgs, intfs, tops, others []string
	for rel := range p.files {
		lower := strings.ToLower(rel)
		switch {
		case strings.HasSuffix(rel, "_pkg.sv"):
			pkgs = append(pkgs, rel)
		case strings.Contains(rel, "_if.") || strings.Contains(lower, "interface"):
			intfs = append(intfs, rel)
		case strings.Contains(lower, "top"):
			tops = append(tops, rel)
		default:
			others = append(others, rel)
		}
	}

	lines := []string{
		"// Auto-generated filelist for UVM testbench",
		"// Compile order matters: packages first, then components",
		"",
	}
	for _, group := range [][]string{pkgs, intfs, others, tops} {
		sort.Strings(group)
		lines = append(lines, group...)
	}
	content := strings.Join(lines, "\n") + "\n"
	p.AddFile("filelist.f", content)
	return content
}

// GenerateMakefile builds the simulator Makefile, defaulting to the generic
// flavor for unknown simulators. The Makefile registers itself.
func (p *ProjectManager) GenerateMakefile(simulator string) string {
	var content string
	switch simulator {
	case "xcelium":
		content = xceliumMakefile
	case "vcs":
		content = vcsMakefile
	default:
		content = genericMakefile
	}
	p.AddFile("Makefile", content)
	return content
}

const xceliumMakefile = `# Auto-generated Makefile for UVM testbench (Xcelium)
TOOL    = xrun
UVM_VER = 1.2
SIM_OPTS = -uvm -uvmhome CDNS-$(UVM_VER) -access +rwc
FILES   = -f filelist.f

.PHONY: compile sim clean

compile:
	$(TOOL) -compile $(SIM_OPTS) $(FILES)

sim:
	$(TOOL) $(SIM_OPTS) $(FILES) +UVM_TESTNAME=$(TEST)

clean:
	rm -rf xcelium.d waves.shm *.log *.key
`

const vcsMakefile = `# Auto-generated Makefile for UVM testbench (VCS)
TOOL    = vcs
SIM_OPTS = -sverilog -ntb_opts uvm-1.2 -debug_access+all
FILES   = -f filelist.f

.PHONY: compile sim clean

compile:
	$(TOOL) $(SIM_OPTS) $(FILES) -o simv

sim:
	./simv +UVM_TESTNAME=$(TEST)

clean:
	rm -rf simv simv.daidir csrc *.log *.vpd
`

const genericMakefile = `# Auto-generated Makefile for UVM testbench
# Adjust SIM_TOOL and SIM_OPTS for your simulator
SIM_TOOL = xrun
SIM_OPTS = -uvm
FILES    = -f filelist.f

.PHONY: sim clean

sim:
	$(SIM_TOOL) $(SIM_OPTS) $(FILES) +UVM_TESTNAME=$(TEST)

clean:
	rm -rf *.log
`
