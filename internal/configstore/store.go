// Package configstore persists per-user search configuration in a single
// JSON document keyed by userId.
//
// Every call reads the document from disk; there is no cache. A missing
// document or entry is created on the spot and the call still reports
// ErrNotFound, so the next call finds the baseline record. A document that
// cannot be parsed is backed up, reset, and reported as corrupt.
package configstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bridgeerrors "github.com/keerthi16/SwiftSearch/internal/errors"
)

// IndexVersionKey is the field stamped on every updated entry.
const IndexVersionKey = "indexVersion"

// ErrNotFound is returned when the document or the user's entry did not
// exist. The baseline record has been written by the time it is returned.
var ErrNotFound = fmt.Errorf("user config %w", bridgeerrors.ErrNotFound)

// Repair kinds reported to the repair hook.
const (
	RepairMissingFile  = "missing_file"
	RepairMissingEntry = "missing_entry"
	RepairCorrupt      = "corrupt"
)

// UserConfig is one user's entry. Values are whatever the front-end stored;
// numbers decode as json.Number so they round-trip unchanged.
type UserConfig map[string]any

// document maps userId to the raw entry. Entries for other users are kept
// as raw JSON so a write never reinterprets them.
type document map[string]json.RawMessage

// Store reads and writes the user config document.
type Store struct {
	path         string
	indexVersion string

	mu       sync.Mutex
	logger   *slog.Logger
	onRepair func(kind string)
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for repair events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRepairHook registers fn to be called whenever the store creates or
// resets state on disk.
func WithRepairHook(fn func(kind string)) Option {
	return func(s *Store) { s.onRepair = fn }
}

// WithClock overrides the clock used to name corrupt-file backups.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store for the document at path. indexVersion is stamped on
// entries written through Update that do not carry their own.
func New(path, indexVersion string, opts ...Option) *Store {
	s := &Store{
		path:         path,
		indexVersion: indexVersion,
		logger:       slog.Default(),
		onRepair:     func(string) {},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// Get returns the entry for userID.
//
// Outcomes:
//   - document missing: {userID: {}} is written, ErrNotFound.
//   - document unparseable: backed up, reset to {userID: {}}, ERR_206.
//   - entry absent, null or not an object: {} is stored for userID,
//     ErrNotFound.
//   - otherwise the stored entry.
func (s *Store) Get(ctx context.Context, userID string) (UserConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, raw, err := s.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		if werr := s.write(document{userID: emptyEntry()}); werr != nil {
			return nil, werr
		}
		s.repaired(RepairMissingFile, userID)
		return nil, ErrNotFound

	case isParseError(err):
		return nil, s.reset(userID, raw, emptyEntry(), err)

	case err != nil:
		return nil, bridgeerrors.ReadError(fmt.Sprintf("failed to read user config %s", s.path), err)
	}

	entry, ok := doc[userID]
	var cfg UserConfig
	if ok && !isNull(entry) {
		var derr error
		if cfg, derr = decodeEntry(entry); derr != nil {
			s.logger.Warn("config_entry_invalid",
				slog.String("user_id", userID),
				slog.String("path", s.path),
				slog.String("error", derr.Error()))
		}
	}
	if cfg == nil {
		doc[userID] = emptyEntry()
		if werr := s.write(doc); werr != nil {
			return nil, werr
		}
		s.repaired(RepairMissingEntry, userID)
		return nil, ErrNotFound
	}

	return cfg, nil
}

// Update replaces the entry for userID with data, stamping indexVersion when
// data does not carry one. nil data is treated as an empty object.
//
// Outcomes:
//   - document missing: {userID: data} is written, ErrNotFound.
//   - document unparseable: backed up, reset to {userID: data}, ERR_206.
//   - otherwise the entry is replaced and returned.
func (s *Store) Update(ctx context.Context, userID string, data UserConfig) (UserConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := s.stamp(data)
	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, bridgeerrors.ValidationError("user config is not serializable", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, raw, err := s.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		if werr := s.write(document{userID: encoded}); werr != nil {
			return nil, werr
		}
		s.repaired(RepairMissingFile, userID)
		return nil, ErrNotFound

	case isParseError(err):
		return nil, s.reset(userID, raw, encoded, err)

	case err != nil:
		return nil, bridgeerrors.ReadError(fmt.Sprintf("failed to read user config %s", s.path), err)
	}

	doc[userID] = encoded
	if err := s.write(doc); err != nil {
		return nil, err
	}
	return entry, nil
}

// stamp copies data and fills indexVersion if absent or empty.
func (s *Store) stamp(data UserConfig) UserConfig {
	out := make(UserConfig, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	switch v := out[IndexVersionKey].(type) {
	case nil:
		out[IndexVersionKey] = s.indexVersion
	case string:
		if v == "" {
			out[IndexVersionKey] = s.indexVersion
		}
	}
	return out
}

// reset backs up the unparseable bytes, writes {userID: entry} and returns
// the corruption error.
func (s *Store) reset(userID string, raw []byte, entry json.RawMessage, parseErr error) error {
	backup, berr := backupCorrupt(s.path, raw, s.now())
	if berr != nil {
		s.logger.Warn("config_backup_failed", slog.String("path", s.path), slog.String("error", berr.Error()))
	}

	if err := s.write(document{userID: entry}); err != nil {
		return err
	}
	s.repaired(RepairCorrupt, userID)
	s.logger.Warn("config_corrupt_reset",
		slog.String("path", s.path),
		slog.String("backup", backup),
		slog.String("error", parseErr.Error()))

	return bridgeerrors.CorruptError(
		fmt.Sprintf("user config %s was corrupt and has been reset: %v", s.path, parseErr), parseErr).
		WithDetail("path", s.path)
}

func (s *Store) repaired(kind, userID string) {
	s.onRepair(kind)
	s.logger.Debug("config_entry_created", slog.String("kind", kind), slog.String("user_id", userID))
}

// parseError marks a document that exists but is not a JSON object.
type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

func isParseError(err error) bool {
	var pe *parseError
	return errors.As(err, &pe)
}

// read loads the document. The raw bytes are returned alongside a parse
// error so they can be backed up.
func (s *Store) read() (document, []byte, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, err
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, raw, &parseError{err: err}
	}
	if doc == nil {
		// "null" parses but is not a document.
		return nil, raw, &parseError{err: fmt.Errorf("document is null")}
	}
	return doc, raw, nil
}

// write persists doc atomically with one-space indentation.
func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return bridgeerrors.WriteError("failed to encode user config", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return bridgeerrors.WriteError("failed to create user config directory", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return bridgeerrors.WriteError(fmt.Sprintf("failed to write user config %s", s.path), err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return bridgeerrors.WriteError(fmt.Sprintf("failed to save user config %s", s.path), err)
	}
	return nil
}

func decodeEntry(raw json.RawMessage) (UserConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var cfg UserConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func emptyEntry() json.RawMessage { return json.RawMessage(`{}`) }

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
