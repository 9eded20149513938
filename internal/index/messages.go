package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/keerthi16/SwiftSearch/internal/engine"
)

var errIndexClosed = errors.New("index is closed")

// messageIndex wraps one bleve index of chat messages. Searches share the
// read lock; writes and resets take the write lock.
type messageIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	name   string
	closed bool
}

// bleveMessage is the document shape stored in bleve.
type bleveMessage struct {
	MessageID     string   `json:"messageId"`
	ThreadID      string   `json:"threadId"`
	SenderID      string   `json:"senderId"`
	Text          string   `json:"text"`
	IngestionDate int64    `json:"ingestionDate"`
	Has           []string `json:"has,omitempty"`
	ChatType      string   `json:"chatType,omitempty"`
}

// validateIndexIntegrity checks an on-disk index before opening it.
// Returns nil if the index is absent or looks valid.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError reports whether err from bleve.Open means the index
// files are damaged rather than locked or unreadable.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// openMessageIndex opens or creates the index at path. An empty path
// creates an in-memory index. A corrupted index is cleared and recreated;
// its messages must be re-sent by the host.
func openMessageIndex(name, path string, logger *slog.Logger) (*messageIndex, error) {
	m := &messageIndex{path: path, name: name}
	idx, err := m.open(logger)
	if err != nil {
		return nil, err
	}
	m.index = idx
	return m, nil
}

func (m *messageIndex) open(logger *slog.Logger) (bleve.Index, error) {
	indexMapping, err := newMessageMapping()
	if err != nil {
		return nil, err
	}

	if m.path == "" {
		return bleve.NewMemOnly(indexMapping)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s index: %w", m.name, err)
	}

	if validErr := validateIndexIntegrity(m.path); validErr != nil {
		logger.Warn("message_index_corrupted",
			slog.String("index", m.name),
			slog.String("path", m.path),
			slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(m.path); removeErr != nil {
			return nil, fmt.Errorf("%s index corrupted at %s and cannot remove: %w (original error: %v)", m.name, m.path, removeErr, validErr)
		}
	}

	idx, err := bleve.Open(m.path)
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(m.path, indexMapping)
	case isCorruptionError(err):
		logger.Warn("message_index_open_failed",
			slog.String("index", m.name),
			slog.String("path", m.path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(m.path); removeErr != nil {
			return nil, fmt.Errorf("%s index corrupted, cannot clear: %w (original: %v)", m.name, removeErr, err)
		}
		idx, err = bleve.New(m.path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s index at %s: %w", m.name, m.path, err)
	}
	return idx, nil
}

// indexMessages writes msgs in one batch. Messages without an id are
// skipped. Returns how many were written and the newest ingestionDate.
func (m *messageIndex) indexMessages(ctx context.Context, msgs []engine.Message) (int, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, 0, errIndexClosed
	}

	batch := m.index.NewBatch()
	var latest int64
	for _, msg := range msgs {
		if msg.MessageID == "" {
			continue
		}
		doc := bleveMessage{
			MessageID:     msg.MessageID,
			ThreadID:      msg.ThreadID,
			SenderID:      msg.SenderID,
			Text:          msg.Text,
			IngestionDate: msg.IngestionDate,
			Has:           msg.Has,
			ChatType:      msg.ChatType,
		}
		if err := batch.Index(msg.MessageID, doc); err != nil {
			return 0, 0, fmt.Errorf("failed to index message %s: %w", msg.MessageID, err)
		}
		if msg.IngestionDate > latest {
			latest = msg.IngestionDate
		}
	}

	n := batch.Size()
	if n == 0 {
		return 0, 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if err := m.index.Batch(batch); err != nil {
		return 0, 0, fmt.Errorf("failed to execute batch: %w", err)
	}
	return n, latest, nil
}

// search runs req against the index.
func (m *messageIndex) search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errIndexClosed
	}
	res, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", m.name, err)
	}
	return res, nil
}

// reset drops every document by removing and recreating the index.
func (m *messageIndex) reset(logger *slog.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errIndexClosed
	}
	if err := m.index.Close(); err != nil {
		logger.Warn("message_index_close_failed", slog.String("index", m.name), slog.String("error", err.Error()))
	}
	if m.path != "" {
		if err := os.RemoveAll(m.path); err != nil {
			m.closed = true
			return fmt.Errorf("failed to remove %s index: %w", m.name, err)
		}
	}

	idx, err := m.open(logger)
	if err != nil {
		m.closed = true
		return err
	}
	m.index = idx
	return nil
}

// docCount returns the number of indexed messages.
func (m *messageIndex) docCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, errIndexClosed
	}
	return m.index.DocCount()
}

// snapshot closes the index so its files are quiescent, runs fn with the
// index directory, then reopens it. Searches and writes wait meanwhile.
func (m *messageIndex) snapshot(logger *slog.Logger, fn func(dir string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errIndexClosed
	}
	if m.path == "" {
		return fmt.Errorf("cannot snapshot an in-memory %s index", m.name)
	}
	if err := m.index.Close(); err != nil {
		return fmt.Errorf("failed to close %s index for snapshot: %w", m.name, err)
	}

	fnErr := fn(m.path)

	idx, err := m.open(logger)
	if err != nil {
		m.closed = true
		return fmt.Errorf("failed to reopen %s index after snapshot: %w", m.name, err)
	}
	m.index = idx
	return fnErr
}

func (m *messageIndex) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.index.Close()
}
