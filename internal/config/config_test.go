package config

import (
	"os"
	"path/filepath"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	opts := Default()
	assert.True(t, opts.Simplify)
	assert.True(t, opts.ConstrainGuards)
	assert.Equal(t, DefaultPreOptimizeBound, opts.PreOptimizeBound)
	assert.NoError(t, opts.Validate())
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	opts, err := Parse([]byte("simplify: false\nreoptimize: true\n"))
	require.NoError(t, err)

	assert.False(t, opts.Simplify)
	assert.True(t, opts.Reoptimize)
	assert.True(t, opts.ConstrainGuards, "absent keys keep their default")
	assert.Equal(t, DefaultPreOptimizeBound, opts.PreOptimizeBound)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("preoptimize_bound: 0\n"))
	assert.ErrorContains(t, err, "preoptimize_bound")

	_, err = Parse([]byte("simplify: [not, a, bool]\n"))
	assert.ErrorContains(t, err, "parse options")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracejit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verbosity: 2\npreoptimize_bound: 3\n"), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, opts.Verbosity)
	assert.Equal(t, 3, opts.PreOptimizeBound)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(pkgerrors.Cause(err)), "cause should be the file error")
}

func TestMarshalRoundTrip(t *testing.T) {
	want := Default()
	want.Reoptimize = true

	data, err := want.Marshal()
	require.NoError(t, err)
	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
