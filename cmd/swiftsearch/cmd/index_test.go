package cmd

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keerthi16/SwiftSearch/internal/lock"
)

func serveSession(t *testing.T, lines ...string) {
	t.Helper()
	_, err := execute(t, strings.Join(lines, "\n")+"\n", "serve")
	require.NoError(t, err)
}

func TestIndexInfoCmd_ReportsCountsAndSnapshots(t *testing.T) {
	// Given: a user indexed and snapshotted by earlier sessions
	isolate(t)
	serveSession(t,
		`{"method":"initialSearch","message":{"userId":"u1","key":"k1"}}`,
		`{"method":"indexBatch","message":[`+
			`{"messageId":"m1","text":"hello world","ingestionDate":1000},`+
			`{"messageId":"m2","text":"hello again","ingestionDate":2000}],"requestId":1}`,
		`{"method":"realTimeIndex","message":[{"messageId":"m3","text":"live","ingestionDate":3000}]}`,
	)
	serveSession(t,
		`{"method":"initialSearch","message":{"userId":"u1","key":"k1"}}`,
		`{"method":"encryptIndex","message":{"key":"k1"},"requestId":2}`,
	)

	// When: asking for index info as JSON
	out, err := execute(t, "", "index", "info", "u1", "--json")
	require.NoError(t, err)

	// Then: counts, the latest timestamp and the snapshot are reported
	var info IndexInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, uint64(2), info.MainDocs)
	assert.Equal(t, uint64(1), info.RealtimeDocs)
	assert.Equal(t, "2000", info.LatestTimestamp)
	require.Len(t, info.Snapshots, 1)
	assert.Equal(t, "search_index_u1.enc", filepath.Base(info.Snapshots[0].Path))
	assert.Greater(t, info.Snapshots[0].Size, int64(0))
}

func TestIndexInfoCmd_TextOutput(t *testing.T) {
	isolate(t)
	serveSession(t,
		`{"method":"initialSearch","message":{"userId":"u1","key":"k1"}}`,
		`{"method":"indexBatch","message":[{"messageId":"m1","text":"hi","ingestionDate":5}],"requestId":1}`,
	)

	out, err := execute(t, "", "index", "info", "u1")
	require.NoError(t, err)

	assert.Contains(t, out, "User:             u1")
	assert.Contains(t, out, "Main documents:   1")
	assert.Contains(t, out, "Snapshots: none")
}

func TestIndexInfoCmd_UnknownUser(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "index", "info", "nobody")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nobody")
}

func TestIndexInfoCmd_RefusesLockedDataDir(t *testing.T) {
	// Given: an index and a running mediator holding the data directory
	dir := isolate(t)
	serveSession(t, `{"method":"initialSearch","message":{"userId":"u1","key":"k1"}}`)
	held := lock.New(filepath.Join(dir, "data"))
	require.NoError(t, held.Acquire())
	t.Cleanup(func() { _ = held.Release() })

	// When: inspecting the index
	_, err := execute(t, "", "index", "info", "u1")

	// Then: the lock is reported
	require.ErrorIs(t, err, lock.ErrHeld)
}
