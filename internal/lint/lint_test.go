package lint

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput(t *testing.T) {
	out := `
/tmp/verifai-lint-123/fifo_driver.sv:14: undeclared identifier 'reqq'
/tmp/verifai-lint-123/fifo_driver.sv:30:8: blocking assignment in always_ff
some unrelated banner line
warning: summary line without location
`
	issues := ParseOutput(out, "fifo_driver.sv")
	require.Len(t, issues, 2)

	assert.Equal(t, "fifo_driver.sv", issues[0].File)
	assert.Equal(t, 14, issues[0].Line)
	assert.Equal(t, "undeclared identifier 'reqq'", issues[0].Message)

	assert.Equal(t, 30, issues[1].Line)
	assert.Equal(t, "blocking assignment in always_ff", issues[1].Message)

	assert.Equal(t, "fifo_driver.sv:14: undeclared identifier 'reqq'", issues[0].String())
}

func TestParseOutput_CleanOutput(t *testing.T) {
	assert.Empty(t, ParseOutput("", "fifo_driver.sv"))
	assert.Empty(t, ParseOutput("lint passed\n", "fifo_driver.sv"))
}

func TestExecLinter_RunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}

	// The fake linter echoes one finding and exits 1, as real linters do.
	l := NewExecLinter("sh", []string{"-c", `echo "$0:3: syntax error"`}, nil)
	issues, err := l.Lint(context.Background(), "fifo_monitor.sv", "module m; endmodule\n")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "fifo_monitor.sv", issues[0].File)
	assert.Equal(t, 3, issues[0].Line)
}

func TestExecLinter_MissingCommand(t *testing.T) {
	l := NewExecLinter("definitely-not-a-linter-binary", nil, nil)
	_, err := l.Lint(context.Background(), "x.sv", "")
	assert.Error(t, err)
}
