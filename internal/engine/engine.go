// Package engine defines the capability set the dispatcher drives: the search
// engine handle created by initialSearch, and the message, query and result
// types that cross the channel.
//
// The concrete implementation lives in internal/index. The dispatcher only
// sees the Engine interface, so tests can substitute a fake.
package engine

import (
	"context"
	"errors"
)

// ErrNotInitialized is returned by an engine whose backing library failed to
// come up. The dispatcher treats such a handle as absent.
var ErrNotInitialized = errors.New("search engine is not initialized")

// Engine is the handle created by initialSearch.
//
// Each method corresponds to one command. Methods that the host sees as
// engine-driven callbacks (IndexBatch, LatestMessageTimestamp) return their
// outcome directly; the dispatcher threads the requestId through.
type Engine interface {
	// IsLibInit reports whether the underlying library is ready to serve.
	IsLibInit() bool

	// IndexBatch indexes messages into the main index and returns a short
	// status description.
	IndexBatch(ctx context.Context, messages []Message) (string, error)

	// LatestMessageTimestamp returns the newest ingestionDate indexed into the
	// main index, as a decimal millisecond string ("0" when empty).
	LatestMessageTimestamp(ctx context.Context) (string, error)

	// Search runs q across the main and real-time indexes.
	Search(ctx context.Context, q Query) (*Results, error)

	// BatchRealTimeIndexing indexes messages into the real-time index.
	BatchRealTimeIndexing(ctx context.Context, messages []Message) error

	// DeleteRealTimeFolder drops and recreates the real-time index.
	DeleteRealTimeFolder(ctx context.Context) error

	// EncryptIndex writes an encrypted snapshot of the main index. An empty key
	// uses the key the engine was opened with.
	EncryptIndex(ctx context.Context, key string) error

	// Close releases the indexes. Safe to call more than once.
	Close() error
}

// Opener constructs an Engine scoped to userID and authenticated with key.
type Opener func(ctx context.Context, userID, key string) (Engine, error)
