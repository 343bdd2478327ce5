package coverage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider_Measure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.json")
	body := `{"overall_percent": 82.5, "bins": {"wr_full": true, "rd_empty": false, "wrap": false}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	p := NewFileProvider(path)
	r, err := p.Measure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 82.5, r.OverallPercent)
	assert.Equal(t, []string{"rd_empty", "wrap"}, r.UncoveredBins())
}

func TestFileProvider_Rereads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"overall_percent": 50}`), 0o644))

	p := NewFileProvider(path)
	r, err := p.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, r.OverallPercent)

	require.NoError(t, os.WriteFile(path, []byte(`{"overall_percent": 75}`), 0o644))
	r, err = p.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75.0, r.OverallPercent)
}

func TestFileProvider_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileProvider(filepath.Join(dir, "missing.json")).Measure(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("not json"), 0o644))
	_, err = NewFileProvider(bad).Measure(context.Background())
	assert.Error(t, err)

	oob := filepath.Join(dir, "oob.json")
	require.NoError(t, os.WriteFile(oob, []byte(`{"overall_percent": 150}`), 0o644))
	_, err = NewFileProvider(oob).Measure(context.Background())
	assert.Error(t, err)
}

func TestStaticProvider_SequenceRepeatsLast(t *testing.T) {
	p := &StaticProvider{Reports: []Report{
		{OverallPercent: 60},
		{OverallPercent: 70},
	}}
	ctx := context.Background()

	r, _ := p.Measure(ctx)
	assert.Equal(t, 60.0, r.OverallPercent)
	r, _ = p.Measure(ctx)
	assert.Equal(t, 70.0, r.OverallPercent)
	r, _ = p.Measure(ctx)
	assert.Equal(t, 70.0, r.OverallPercent)
}
