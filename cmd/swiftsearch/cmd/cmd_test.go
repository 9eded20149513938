package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
)

// isolate points every path the CLI touches into a temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("SWIFTSEARCH_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("SWIFTSEARCH_LOG_FILE", filepath.Join(dir, "logs", "mediator.log"))
	t.Setenv("SWIFTSEARCH_LOG_STDERR", "false")
	t.Setenv("SWIFTSEARCH_MIN_FREE_MB", "0")
	return dir
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
