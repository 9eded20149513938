package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserConfigCmd_SetThenGet(t *testing.T) {
	// Given: an isolated environment
	isolate(t)

	// When: setting a user's config and reading it back
	_, err := execute(t, "", "userconfig", "set", "u1", `{"language":"en"}`)
	require.NoError(t, err)
	out, err := execute(t, "", "userconfig", "get", "u1")
	require.NoError(t, err)

	// Then: the entry carries the data and the default index version
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.Equal(t, "en", entry["language"])
	assert.Equal(t, "v1", entry["indexVersion"])
}

func TestUserConfigCmd_GetMissingCreatesEntry(t *testing.T) {
	// Given: no config document
	dir := isolate(t)

	// When: reading an unknown user
	_, err := execute(t, "", "userconfig", "get", "u9")

	// Then: the call fails and an empty entry now exists
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u9")

	raw, readErr := os.ReadFile(filepath.Join(dir, "data", "search_users_config.json"))
	require.NoError(t, readErr)
	assert.JSONEq(t, `{"u9":{}}`, string(raw))
}

func TestUserConfigCmd_SetRejectsBadJSON(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "userconfig", "set", "u1", `not json`)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config JSON")
}
