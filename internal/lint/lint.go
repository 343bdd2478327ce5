// Package lint wraps an external HDL linter behind a narrow interface so the
// heal loop can run against real tools or test doubles.
package lint

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Issue is one linter finding.
type Issue struct {
	File    string
	Line    int
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s:%d: %s", i.File, i.Line, i.Message)
}

// Linter checks one source file and returns its findings. An empty slice
// means the file is clean; a non-nil error means the linter itself failed.
type Linter interface {
	Lint(ctx context.Context, filename, source string) ([]Issue, error)
}

// Compile-time assertion: *ExecLinter satisfies Linter.
var _ Linter = (*ExecLinter)(nil)

// issueLine matches "file:line: message" output, the common format of
// verilator and verible lint modes.
var issueLine = regexp.MustCompile(`^([^:]+):(\d+):(?:\d+:)?\s*(.+)$`)

// ExecLinter runs an external lint command against a temp copy of the
// source. Findings are parsed from stdout and stderr; a non-zero exit with
// findings is not an error.
type ExecLinter struct {
	command string
	args    []string
	logger  *zap.Logger
}

// NewExecLinter creates a linter invoking the given command. Extra args are
// passed before the file path. A nil logger defaults to zap.NewNop().
func NewExecLinter(command string, args []string, logger *zap.Logger) *ExecLinter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecLinter{command: command, args: args, logger: logger}
}

// Lint writes source to a temp file named after filename and runs the lint
// command on it.
func (l *ExecLinter) Lint(ctx context.Context, filename, source string) ([]Issue, error) {
	dir, err := os.MkdirTemp("", "verifai-lint-")
	if err != nil {
		return nil, fmt.Errorf("lint: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("lint: write source: %w", err)
	}

	args := append(append([]string{}, l.args...), path)
	cmd := exec.CommandContext(ctx, l.command, args...)
	out, err := cmd.CombinedOutput()
	issues := ParseOutput(string(out), filename)
	if err != nil {
		// Linters exit non-zero when they find issues; only surface the
		// error when nothing was parsed.
		if len(issues) == 0 {
			return nil, fmt.Errorf("lint: run %s: %w", l.command, err)
		}
		l.logger.Debug("linter exited non-zero with findings",
			zap.String("command", l.command),
			zap.Int("issues", len(issues)))
	}
	return issues, nil
}

// ParseOutput extracts issues from lint tool output. The reported file is
// rewritten to the caller's filename since the tool saw a temp copy.
func ParseOutput(out, filename string) []Issue {
	var issues []Issue
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		m := issueLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		issues = append(issues, Issue{
			File:    filename,
			Line:    line,
			Message: strings.TrimSpace(m[3]),
		})
	}
	return issues
}
