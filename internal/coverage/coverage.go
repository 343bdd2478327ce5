// Package coverage abstracts the functional coverage source feeding the
// closure loop.
package coverage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Report is one coverage measurement.
type Report struct {
	OverallPercent float64         `json:"overall_percent"`
	Bins           map[string]bool `json:"bins,omitempty"`
}

// UncoveredBins returns the names of unhit bins in sorted order.
func (r Report) UncoveredBins() []string {
	var out []string
	for name, hit := range r.Bins {
		if !hit {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Provider measures current functional coverage. Implementations read
// simulator coverage databases or exported summaries.
type Provider interface {
	Measure(ctx context.Context) (Report, error)
}

// Compile-time assertion: *FileProvider satisfies Provider.
var _ Provider = (*FileProvider)(nil)

// FileProvider reads a JSON coverage summary exported by the simulator
// flow. Each Measure re-reads the file, so successive iterations observe
// regenerated results.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider reading the given JSON summary path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Measure parses the summary file.
func (p *FileProvider) Measure(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return Report{}, fmt.Errorf("coverage: read summary: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("coverage: parse summary: %w", err)
	}
	if r.OverallPercent < 0 || r.OverallPercent > 100 {
		return Report{}, fmt.Errorf("coverage: overall percent %v out of range", r.OverallPercent)
	}
	return r, nil
}

// StaticProvider returns a fixed sequence of reports, one per Measure call,
// repeating the last once exhausted. Used for dry runs and tests.
type StaticProvider struct {
	Reports []Report
	next    int
}

var _ Provider = (*StaticProvider)(nil)

// Measure returns the next report in the sequence.
func (p *StaticProvider) Measure(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if len(p.Reports) == 0 {
		return Report{}, fmt.Errorf("coverage: no reports configured")
	}
	r := p.Reports[p.next]
	if p.next < len(p.Reports)-1 {
		p.next++
	}
	return r, nil
}
