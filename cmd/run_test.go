package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRequestFlags registers fresh request flags, resetting the shared flag
// variables, and parses args.
func newRequestFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerRequestFlags(f)
	require.NoError(t, f.Parse(args))
	return f
}

func TestBuildRunParams_Flags(t *testing.T) {
	f := newRequestFlags(t,
		"--state", "ks", "--city", "Wichita", "--quantity", "25",
		"--unit-min", "50", "--exclude", "a.com,b.com", "--max-rounds", "4",
	)

	p, err := buildRunParams(f)
	require.NoError(t, err)
	assert.Equal(t, "KS", p.State)
	assert.Equal(t, "Wichita", p.City)
	assert.Equal(t, 25, p.Quantity)
	require.NotNil(t, p.UnitMin)
	assert.Equal(t, 50, *p.UnitMin)
	assert.Nil(t, p.UnitMax)
	assert.Equal(t, []string{"a.com", "b.com"}, p.Exclude)
	assert.Equal(t, 4, p.MaxRounds)
}

func TestBuildRunParams_DefaultQuantity(t *testing.T) {
	p, err := buildRunParams(newRequestFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
}

func TestBuildRunParams_RequestFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state: tx
city: Austin
pms: AppFolio
quantity: 40
unit_min: 100
exclude:
  - competitor.com
requirements: Single-family focus
`), 0o644))

	p, err := buildRunParams(newRequestFlags(t, "--request-file", path, "--quantity", "12"))
	require.NoError(t, err)
	assert.Equal(t, "TX", p.State)
	assert.Equal(t, "Austin", p.City)
	assert.Equal(t, "AppFolio", p.PMS)
	assert.Equal(t, 12, p.Quantity)
	require.NotNil(t, p.UnitMin)
	assert.Equal(t, 100, *p.UnitMin)
	assert.Equal(t, []string{"competitor.com"}, p.Exclude)
	assert.Equal(t, "Single-family focus", p.Requirements)
}

func TestBuildRunParams_Invalid(t *testing.T) {
	_, err := buildRunParams(newRequestFlags(t, "--quantity", "0", "--state", "Kansas"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity must be >= 1")
}

func TestBuildRunParams_MissingRequestFile(t *testing.T) {
	_, err := buildRunParams(newRequestFlags(t, "--request-file", filepath.Join(t.TempDir(), "nope.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read request file")
}

func TestWriteResult_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, writeResult(map[string]int{"returned": 3}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 3, got["returned"])
}
