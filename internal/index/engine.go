// Package index is the bleve-backed search engine behind the engine.Engine
// interface.
//
// Each user gets a main index of synced history and a real-time index of
// messages that arrived while the session was live. Searches fan out to both
// and merge. Bookkeeping (latest timestamp, snapshots) lives in a small
// SQLite database shared by all users.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/keerthi16/SwiftSearch/internal/config"
	"github.com/keerthi16/SwiftSearch/internal/engine"
	"github.com/keerthi16/SwiftSearch/internal/metrics"
)

const (
	// DefaultCacheSize is the number of search results kept per engine.
	DefaultCacheSize = 128

	// DefaultMaxWindow is the deepest row a search pages into.
	DefaultMaxWindow = 10000

	// MetaFileName is the metadata database file under the data directory.
	MetaFileName = "search_meta.db"
)

// Options configure an Engine.
type Options struct {
	// IndexDir holds one main index directory per user.
	IndexDir string
	// RealTimeDir holds one real-time index directory per user.
	RealTimeDir string
	// SnapshotDir receives encrypted snapshots.
	SnapshotDir string
	// MetaPath is the SQLite metadata database.
	MetaPath string

	DefaultLimit int
	MaxLimit     int
	CacheSize    int
	// MaxWindow bounds StartingRow+Limit. Pages starting beyond it are
	// empty but still report the match total.
	MaxWindow int

	// InMemory keeps indexes and metadata in memory. EncryptIndex is not
	// available in this mode.
	InMemory bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig derives engine options from the mediator config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IndexDir:     cfg.IndexDir(),
		RealTimeDir:  cfg.RealTimeDir(),
		SnapshotDir:  cfg.DataDir,
		MetaPath:     filepath.Join(cfg.DataDir, "data", MetaFileName),
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxLimit:     cfg.Search.MaxLimit,
		CacheSize:    DefaultCacheSize,
		MaxWindow:    DefaultMaxWindow,
	}
}

func (o Options) withDefaults() Options {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 25
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = 500
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.MaxWindow < o.MaxLimit {
		o.MaxWindow = DefaultMaxWindow
		if o.MaxWindow < o.MaxLimit {
			o.MaxWindow = o.MaxLimit
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Engine is the search engine for one user.
type Engine struct {
	userID string
	key    string
	opts   Options
	logger *slog.Logger

	main     *messageIndex
	realtime *messageIndex
	meta     *metaStore

	cache *lru.Cache[string, *engine.Results]
	// generation advances on every write so a search that raced a write
	// does not cache stale results.
	generation atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

var _ engine.Engine = (*Engine)(nil)

// Open creates the engine for userID, opening or creating its indexes.
func Open(ctx context.Context, opts Options, userID, key string) (*Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	cache, err := lru.New[string, *engine.Results](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}

	e := &Engine{
		userID: userID,
		key:    key,
		opts:   opts,
		logger: opts.Logger.With(slog.String("user_id", userID)),
		cache:  cache,
	}

	mainPath, rtPath, metaPath := "", "", ""
	if !opts.InMemory {
		segment := pathSegment(userID)
		mainPath = filepath.Join(opts.IndexDir, segment)
		rtPath = filepath.Join(opts.RealTimeDir, segment)
		metaPath = opts.MetaPath
	}

	if e.main, err = openMessageIndex("main", mainPath, e.logger); err != nil {
		return nil, err
	}
	if e.realtime, err = openMessageIndex("realtime", rtPath, e.logger); err != nil {
		_ = e.main.close()
		return nil, err
	}
	if e.meta, err = openMetaStore(metaPath); err != nil {
		_ = e.main.close()
		_ = e.realtime.close()
		return nil, err
	}

	e.logger.Info("search_engine_opened",
		slog.String("main", mainPath),
		slog.String("realtime", rtPath),
		slog.Bool("in_memory", opts.InMemory))
	return e, nil
}

// NewOpener returns an engine.Opener that opens engines with opts.
func NewOpener(opts Options) engine.Opener {
	return func(ctx context.Context, userID, key string) (engine.Engine, error) {
		e, err := Open(ctx, opts, userID, key)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// HasIndex reports whether a main index for userID exists on disk.
func HasIndex(opts Options, userID string) bool {
	if opts.InMemory || opts.IndexDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(opts.IndexDir, pathSegment(userID)))
	return err == nil
}

// UserID returns the user the engine was opened for.
func (e *Engine) UserID() string { return e.userID }

// IsLibInit reports whether the engine is open.
func (e *Engine) IsLibInit() bool {
	return e != nil && !e.closed.Load()
}

// IndexBatch indexes msgs into the main index.
func (e *Engine) IndexBatch(ctx context.Context, msgs []engine.Message) (string, error) {
	if !e.IsLibInit() {
		return "", engine.ErrNotInitialized
	}

	n, latest, err := e.main.indexMessages(ctx, msgs)
	if err != nil {
		return "", err
	}
	e.invalidate()
	if n == 0 {
		return "indexed 0 messages", nil
	}

	if err := e.meta.recordBatch(ctx, e.userID, latest, n); err != nil {
		return "", err
	}
	e.opts.Metrics.Indexed("main", n)
	e.logger.Debug("batch_indexed", slog.Int("count", n), slog.Int64("latest", latest))
	return fmt.Sprintf("indexed %d messages", n), nil
}

// LatestMessageTimestamp returns the newest ingestionDate in the main index.
func (e *Engine) LatestMessageTimestamp(ctx context.Context) (string, error) {
	if !e.IsLibInit() {
		return "", engine.ErrNotInitialized
	}
	ts, err := e.meta.latestTimestamp(ctx, e.userID)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(ts, 10), nil
}

// BatchRealTimeIndexing indexes msgs into the real-time index.
func (e *Engine) BatchRealTimeIndexing(ctx context.Context, msgs []engine.Message) error {
	if !e.IsLibInit() {
		return engine.ErrNotInitialized
	}
	n, _, err := e.realtime.indexMessages(ctx, msgs)
	if err != nil {
		return err
	}
	e.invalidate()
	e.opts.Metrics.Indexed("realtime", n)
	return nil
}

// DeleteRealTimeFolder empties the real-time index.
func (e *Engine) DeleteRealTimeFolder(ctx context.Context) error {
	if !e.IsLibInit() {
		return engine.ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.realtime.reset(e.logger); err != nil {
		return err
	}
	e.invalidate()
	e.logger.Info("realtime_index_deleted")
	return nil
}

// Stats reports document counts per index.
func (e *Engine) Stats(ctx context.Context) (mainDocs, realtimeDocs uint64, err error) {
	if !e.IsLibInit() {
		return 0, 0, engine.ErrNotInitialized
	}
	if mainDocs, err = e.main.docCount(); err != nil {
		return 0, 0, err
	}
	if realtimeDocs, err = e.realtime.docCount(); err != nil {
		return 0, 0, err
	}
	return mainDocs, realtimeDocs, ctx.Err()
}

// Close closes the indexes and the metadata database.
func (e *Engine) Close() error {
	var firstErr error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		for _, closeFn := range []func() error{e.main.close, e.realtime.close, e.meta.close} {
			if err := closeFn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		e.cache.Purge()
		e.logger.Info("search_engine_closed")
	})
	return firstErr
}

func (e *Engine) invalidate() {
	e.generation.Add(1)
	e.cache.Purge()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// pathSegment turns a userId into a single safe directory name.
func pathSegment(userID string) string {
	s := unsafePathChars.ReplaceAllString(userID, "_")
	switch s {
	case "", ".", "..":
		return "_" + s
	}
	return s
}
