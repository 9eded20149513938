package index

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keerthi16/SwiftSearch/internal/engine"
)

func testMessages() []engine.Message {
	return []engine.Message{
		{MessageID: "m1", ThreadID: "t1", SenderID: "alice", Text: "hello world", IngestionDate: 1000},
		{MessageID: "m2", ThreadID: "t1", SenderID: "bob", Text: "hello there", IngestionDate: 2000, Has: []string{"link"}},
		{MessageID: "m3", ThreadID: "t2", SenderID: "carol", Text: "goodbye world", IngestionDate: 3000, Has: []string{"file", "link"}},
		{MessageID: "m4", ThreadID: "t2", SenderID: "alice", Text: "hello again", IngestionDate: 4000},
	}
}

func openMemEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), Options{InMemory: true}, "user-1", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func openDiskEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(context.Background(), diskOptions(dir), "user-1", "secret")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func diskOptions(dir string) Options {
	return Options{
		IndexDir:    filepath.Join(dir, "data", "search_index"),
		RealTimeDir: filepath.Join(dir, "data", "realtime_index"),
		SnapshotDir: dir,
		MetaPath:    filepath.Join(dir, "data", MetaFileName),
	}
}

func ids(res *engine.Results) []string {
	out := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, m.MessageID)
	}
	return out
}

func TestIndexBatch_SkipsMessagesWithoutID(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)

	msgs := append(testMessages(), engine.Message{Text: "no id"})
	status, err := e.IndexBatch(ctx, msgs)
	require.NoError(t, err)
	assert.Equal(t, "indexed 4 messages", status)

	mainDocs, rtDocs, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), mainDocs)
	assert.Equal(t, uint64(0), rtDocs)
}

func TestIndexBatch_Empty(t *testing.T) {
	status, err := openMemEngine(t).IndexBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "indexed 0 messages", status)
}

func TestLatestMessageTimestamp(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)

	// Given nothing indexed
	ts, err := e.LatestMessageTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", ts)

	// When batches arrive out of order
	_, err = e.IndexBatch(ctx, testMessages()[2:])
	require.NoError(t, err)
	_, err = e.IndexBatch(ctx, testMessages()[:2])
	require.NoError(t, err)

	// Then the newest ingestionDate wins
	ts, err = e.LatestMessageTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000", ts)

	// And real-time messages do not move it
	require.NoError(t, e.BatchRealTimeIndexing(ctx, []engine.Message{{MessageID: "r", Text: "x", IngestionDate: 9999}}))
	ts, err = e.LatestMessageTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000", ts)
}

func TestSearch_Filters(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	_, err := e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)

	tests := []struct {
		name  string
		query engine.Query
		want  []string
	}{
		{"text", engine.Query{Q: "hello", SortBy: engine.SortByDate}, []string{"m4", "m2", "m1"}},
		{"text all terms", engine.Query{Q: "hello world"}, []string{"m1"}},
		{"case insensitive", engine.Query{Q: "GOODBYE"}, []string{"m3"}},
		{"match all by date", engine.Query{SortBy: engine.SortByDate}, []string{"m4", "m3", "m2", "m1"}},
		{"sender", engine.Query{SenderIDs: []string{"alice"}, SortBy: engine.SortByDate}, []string{"m4", "m1"}},
		{"sender any of", engine.Query{SenderIDs: []string{"bob", "carol"}, SortBy: engine.SortByDate}, []string{"m3", "m2"}},
		{"thread", engine.Query{Q: "hello", ThreadIDs: []string{"t2"}}, []string{"m4"}},
		{"has", engine.Query{Has: []string{"link"}, SortBy: engine.SortByDate}, []string{"m3", "m2"}},
		{"has all", engine.Query{Has: []string{"link", "file"}}, []string{"m3"}},
		{"date range", engine.Query{StartDate: 2000, EndDate: 3000, SortBy: engine.SortByDate}, []string{"m3", "m2"}},
		{"start only", engine.Query{StartDate: 3500}, []string{"m4"}},
		{"end only", engine.Query{EndDate: 1000}, []string{"m1"}},
		{"no match", engine.Query{Q: "nothing"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res))
			assert.Equal(t, len(tt.want), res.Returned)
			assert.Equal(t, len(tt.want), res.Total)
			assert.False(t, res.More)
		})
	}
}

func TestSearch_ReturnsStoredFields(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	_, err := e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)

	res, err := e.Search(ctx, engine.Query{Q: "goodbye"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	hit := res.Messages[0]
	assert.Equal(t, "t2", hit.ThreadID)
	assert.Equal(t, "carol", hit.SenderID)
	assert.Equal(t, "goodbye world", hit.Text)
	assert.Equal(t, int64(3000), hit.IngestionDate)
	assert.ElementsMatch(t, []string{"file", "link"}, hit.Has)
	assert.Greater(t, hit.Score, 0.0)
}

func TestSearch_Pagination(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	_, err := e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)

	page1, err := e.Search(ctx, engine.Query{Limit: 2, SortBy: engine.SortByDate})
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m3"}, ids(page1))
	assert.Equal(t, 4, page1.Total)
	assert.True(t, page1.More)

	page2, err := e.Search(ctx, engine.Query{Limit: 2, StartingRow: 2, SortBy: engine.SortByDate})
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m1"}, ids(page2))
	assert.False(t, page2.More)

	past, err := e.Search(ctx, engine.Query{Limit: 2, StartingRow: 10})
	require.NoError(t, err)
	assert.Empty(t, past.Messages)
	assert.NotNil(t, past.Messages)
	assert.Equal(t, 0, past.Returned)
}

func TestSearch_StartingRowBounds(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	_, err := e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)

	tests := []struct {
		name        string
		startingRow int
		limit       int
		wantIDs     []string
		wantMore    bool
	}{
		{name: "first row", startingRow: 0, limit: 3, wantIDs: []string{"m4", "m3", "m2"}, wantMore: true},
		{name: "last row", startingRow: 3, limit: 3, wantIDs: []string{"m1"}},
		{name: "exactly hit count", startingRow: 4, limit: 3, wantIDs: []string{}},
		{name: "past hit count", startingRow: 5, limit: 3, wantIDs: []string{}},
		{name: "beyond max window", startingRow: DefaultMaxWindow + 1, limit: 3, wantIDs: []string{}},
		{name: "near max int", startingRow: math.MaxInt - 7, limit: 25, wantIDs: []string{}},
		{name: "max int with max limit", startingRow: math.MaxInt, limit: 500, wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When searching from the given row
			res, err := e.Search(ctx, engine.Query{
				StartingRow: tt.startingRow,
				Limit:       tt.limit,
				SortBy:      engine.SortByDate,
			})

			// Then the page is cut without error and the total is intact
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(res))
			assert.Equal(t, len(tt.wantIDs), res.Returned)
			assert.Equal(t, 4, res.Total)
			assert.Equal(t, tt.wantMore, res.More)
		})
	}
}

func TestRecoverSearch_ConvertsPanicToError(t *testing.T) {
	// Given a search that panics
	fn := recoverSearch("main", func() error {
		panic("makeslice: cap out of range")
	})

	// When it runs
	err := fn()

	// Then the panic is reported as an error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main search panicked")
	assert.Contains(t, err.Error(), "makeslice")
}

func TestSearch_LimitBounds(t *testing.T) {
	ctx := context.Background()
	e, err := Open(ctx, Options{InMemory: true, DefaultLimit: 3, MaxLimit: 2}, "u", "")
	require.NoError(t, err)
	defer e.Close()
	_, err = e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)

	res, err := e.Search(ctx, engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Returned, "default is capped by max")

	res, err = e.Search(ctx, engine.Query{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Returned)
}

func TestSearch_MergesRealTimeIndex(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	_, err := e.IndexBatch(ctx, testMessages()[:2])
	require.NoError(t, err)

	// Given a live message and a live copy of an indexed one
	err = e.BatchRealTimeIndexing(ctx, []engine.Message{
		{MessageID: "live", SenderID: "dave", Text: "hello live", IngestionDate: 5000},
		{MessageID: "m1", SenderID: "alice", Text: "hello edited", IngestionDate: 1000},
	})
	require.NoError(t, err)

	// When searching
	res, err := e.Search(ctx, engine.Query{Q: "hello", SortBy: engine.SortByDate})
	require.NoError(t, err)

	// Then both indexes contribute and the main copy wins the duplicate
	assert.Equal(t, []string{"live", "m2", "m1"}, ids(res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, "hello world", res.Messages[2].Text)
}

func TestDeleteRealTimeFolder(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	require.NoError(t, e.BatchRealTimeIndexing(ctx, []engine.Message{{MessageID: "live", Text: "hello live"}}))

	res, err := e.Search(ctx, engine.Query{Q: "live"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	require.NoError(t, e.DeleteRealTimeFolder(ctx))

	res, err = e.Search(ctx, engine.Query{Q: "live"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total, "cached result must not survive the delete")

	_, rtDocs, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, rtDocs)
}

func TestSearch_CacheInvalidatedByWrites(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	_, err := e.IndexBatch(ctx, testMessages()[:1])
	require.NoError(t, err)

	q := engine.Query{Q: "hello"}
	first, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	// Mutating a returned result does not leak into the cache
	first.Messages[0].Text = "mutated"
	again, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "hello world", again.Messages[0].Text)

	_, err = e.IndexBatch(ctx, testMessages()[1:2])
	require.NoError(t, err)
	after, err := e.Search(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Total)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	e := openMemEngine(t)
	assert.True(t, e.IsLibInit())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.False(t, e.IsLibInit())

	_, err := e.Search(ctx, engine.Query{})
	assert.ErrorIs(t, err, engine.ErrNotInitialized)
	_, err = e.IndexBatch(ctx, testMessages())
	assert.ErrorIs(t, err, engine.ErrNotInitialized)
	assert.ErrorIs(t, e.DeleteRealTimeFolder(ctx), engine.ErrNotInitialized)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e, err := Open(ctx, diskOptions(dir), "user/1", "k")
	require.NoError(t, err)
	_, err = e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	assert.DirExists(t, filepath.Join(dir, "data", "search_index", "user_1"))

	reopened, err := Open(ctx, diskOptions(dir), "user/1", "k")
	require.NoError(t, err)
	defer reopened.Close()

	res, err := reopened.Search(ctx, engine.Query{Q: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)

	ts, err := reopened.LatestMessageTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000", ts)
}

func TestOpen_RecoversCorruptIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := diskOptions(dir)

	// Given a main index directory with an empty meta file
	corrupt := filepath.Join(opts.IndexDir, "user-1")
	require.NoError(t, os.MkdirAll(corrupt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, "index_meta.json"), nil, 0o644))

	// When the engine opens
	e := openDiskEngine(t, dir)

	// Then it starts from an empty, usable index
	status, err := e.IndexBatch(ctx, testMessages()[:1])
	require.NoError(t, err)
	assert.Equal(t, "indexed 1 messages", status)
}

func TestDeleteRealTimeFolder_OnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openDiskEngine(t, dir)

	require.NoError(t, e.BatchRealTimeIndexing(ctx, testMessages()))
	require.NoError(t, e.DeleteRealTimeFolder(ctx))

	_, rtDocs, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, rtDocs)
	assert.DirExists(t, filepath.Join(dir, "data", "realtime_index", "user-1"))
}

func TestEncryptIndex_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openDiskEngine(t, dir)
	_, err := e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)

	// When encrypting with the key given at open
	require.NoError(t, e.EncryptIndex(ctx, ""))

	path := SnapshotPath(dir, "user-1")
	require.FileExists(t, path)

	snaps, err := e.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, path, snaps[0].Path)

	// Then the snapshot decrypts into an index holding the same messages
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	restored := filepath.Join(t.TempDir(), "restored")
	id, err := DecryptSnapshot(f, "secret", restored)
	require.NoError(t, err)
	assert.Equal(t, snaps[0].ID, id.String())

	idx, err := bleve.Open(restored)
	require.NoError(t, err)
	defer idx.Close()
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count)
}

func TestEncryptIndex_WrongKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := openDiskEngine(t, dir)
	_, err := e.IndexBatch(ctx, testMessages())
	require.NoError(t, err)
	require.NoError(t, e.EncryptIndex(ctx, "explicit"))

	f, err := os.Open(SnapshotPath(dir, "user-1"))
	require.NoError(t, err)
	defer f.Close()

	_, err = DecryptSnapshot(f, "secret", t.TempDir())
	assert.Error(t, err)
}

func TestEncryptIndex_Unavailable(t *testing.T) {
	ctx := context.Background()

	mem := openMemEngine(t)
	assert.Error(t, mem.EncryptIndex(ctx, "k"))

	noKey, err := Open(ctx, diskOptions(t.TempDir()), "u", "")
	require.NoError(t, err)
	defer noKey.Close()
	assert.ErrorIs(t, noKey.EncryptIndex(ctx, ""), ErrNoKey)
}

func TestDecryptSnapshot_RejectsGarbage(t *testing.T) {
	_, err := DecryptSnapshot(strings.NewReader("nope"), "k", t.TempDir())
	assert.Error(t, err)
}

func TestNewOpener(t *testing.T) {
	open := NewOpener(Options{InMemory: true})
	e, err := open(context.Background(), "u", "k")
	require.NoError(t, err)
	defer e.Close()
	assert.True(t, e.IsLibInit())
}

func TestPathSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user-1", "user-1"},
		{"a/b", "a_b"},
		{"..", "_.."},
		{"", "_"},
		{"name@host", "name_host"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pathSegment(tt.in), tt.in)
	}
}
