package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// metaStore keeps per-user engine bookkeeping next to the bleve indexes:
// the newest indexed ingestionDate, a running message count and the
// encrypted snapshots written for the user.
type metaStore struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Snapshot describes one encrypted index snapshot.
type Snapshot struct {
	ID        string
	UserID    string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// openMetaStore opens the metadata database at path. An empty path opens
// an in-memory database.
func openMetaStore(path string) (*metaStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for metadata: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	// Single writer; also keeps one connection alive for :memory:.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &metaStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *metaStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS index_meta (
			user_id          TEXT PRIMARY KEY,
			latest_timestamp INTEGER NOT NULL DEFAULT 0,
			indexed_count    INTEGER NOT NULL DEFAULT 0,
			updated_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			path       TEXT NOT NULL,
			size       INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_user ON snapshots(user_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create metadata schema: %w", err)
	}
	return nil
}

// recordBatch adds n to the user's message count and raises the latest
// timestamp to latest if it is newer.
func (s *metaStore) recordBatch(ctx context.Context, userID string, latest int64, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errIndexClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_meta (user_id, latest_timestamp, indexed_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			latest_timestamp = MAX(latest_timestamp, excluded.latest_timestamp),
			indexed_count    = indexed_count + excluded.indexed_count,
			updated_at       = excluded.updated_at`,
		userID, latest, n, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record batch metadata: %w", err)
	}
	return nil
}

// latestTimestamp returns the newest ingestionDate recorded for the user,
// or 0 if none.
func (s *metaStore) latestTimestamp(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errIndexClosed
	}

	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT latest_timestamp FROM index_meta WHERE user_id = ?`, userID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	return ts, nil
}

// indexedCount returns how many messages were recorded for the user.
func (s *metaStore) indexedCount(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errIndexClosed
	}

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT indexed_count FROM index_meta WHERE user_id = ?`, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read indexed count: %w", err)
	}
	return n, nil
}

// recordSnapshot stores snap.
func (s *metaStore) recordSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errIndexClosed
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, user_id, path, size, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.UserID, snap.Path, snap.Size, snap.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// snapshots lists the user's snapshots, newest first.
func (s *metaStore) snapshots(ctx context.Context, userID string) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errIndexClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, path, size, created_at FROM snapshots
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var created int64
		if err := rows.Scan(&snap.ID, &snap.UserID, &snap.Path, &snap.Size, &created); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.CreatedAt = time.UnixMilli(created)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *metaStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
