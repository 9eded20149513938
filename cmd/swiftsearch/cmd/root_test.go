package cmd

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keerthi16/SwiftSearch/pkg/version"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	out, err := execute(t, "", "--help")

	// Then: it lists the subcommands
	require.NoError(t, err)
	for _, sub := range []string{"serve", "doctor", "userconfig", "index", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_NoArgsServesUntilEOF(t *testing.T) {
	// Given: an isolated environment and an empty stdin
	isolate(t)

	// When: executing with no subcommand
	out, err := execute(t, "")

	// Then: the mediator starts, sees EOF and exits without writing to stdout
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRootCmd_BadConfigFlag(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "doctor", "--config", "/does/not/exist.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestVersionCmd_Outputs(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{
			name: "default",
			args: []string{"version"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, version.String(), strings.TrimSpace(out))
			},
		},
		{
			name: "short",
			args: []string{"version", "--short"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, version.Version, strings.TrimSpace(out))
			},
		},
		{
			name: "json",
			args: []string{"version", "--json"},
			check: func(t *testing.T, out string) {
				var info version.BuildInfo
				require.NoError(t, json.Unmarshal([]byte(out), &info))
				assert.Equal(t, version.Version, info.Version)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", tt.args...)
			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestRootCmd_ProfilingFlags(t *testing.T) {
	// Given: an isolated environment
	dir := isolate(t)
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	// When: running a command with profiling enabled
	_, err := execute(t, "", "version", "--profile-cpu", cpu, "--profile-mem", heap)

	// Then: both profiles are written
	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}
