// Package dispatch routes inbound commands to the config store, the search
// engine and the disk probe, and replies through the bridge.
//
// The dispatcher owns the engine handle. Until initialSearch has produced a
// ready engine, only whitelisted commands run; everything else is dropped
// without a reply. Handlers that reply run on their own goroutines, so
// replies may complete out of order; each carries the requestId it was
// dispatched with.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/keerthi16/SwiftSearch/internal/bridge"
	"github.com/keerthi16/SwiftSearch/internal/configstore"
	"github.com/keerthi16/SwiftSearch/internal/engine"
	bridgeerrors "github.com/keerthi16/SwiftSearch/internal/errors"
	"github.com/keerthi16/SwiftSearch/internal/metrics"
	"github.com/keerthi16/SwiftSearch/internal/protocol"
)

// State is the dispatcher's engine state.
type State int

const (
	// StateUninitialized means no engine exists.
	StateUninitialized State = iota
	// StateInitialized means initialSearch produced an engine.
	StateInitialized
)

func (s State) String() string {
	if s == StateInitialized {
		return "initialized"
	}
	return "uninitialized"
}

// DiskProbe reports whether the data directory has enough free space.
type DiskProbe interface {
	CheckFreeSpace(ctx context.Context) (bool, error)
}

// ConfigStore reads and writes per-user config entries.
type ConfigStore interface {
	Get(ctx context.Context, userID string) (configstore.UserConfig, error)
	Update(ctx context.Context, userID string, data configstore.UserConfig) (configstore.UserConfig, error)
}

// Replier emits one reply frame.
type Replier interface {
	Reply(resp protocol.ResponseEnvelope) error
}

// IndexBatchResponse is the indexBatchCallback body.
type IndexBatchResponse struct {
	Status bool   `json:"status"`
	Data   string `json:"data"`
}

// TimestampResponse is the getLatestTimestampCallback body.
type TimestampResponse struct {
	Status    bool   `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Dispatcher handles inbound envelopes.
type Dispatcher struct {
	open    engine.Opener
	store   ConfigStore
	probe   DiskProbe
	replier Replier
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	engine engine.Engine

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics records command metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher in the Uninitialized state.
func New(open engine.Opener, store ConfigStore, probe DiskProbe, replier Replier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		open:    open,
		store:   store,
		probe:   probe,
		replier: replier,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current engine state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.engine == nil {
		return StateUninitialized
	}
	return StateInitialized
}

// current returns the engine if it exists and reports ready.
func (d *Dispatcher) current() (engine.Engine, bool) {
	d.mu.RLock()
	eng := d.engine
	d.mu.RUnlock()
	if eng == nil || !eng.IsLibInit() {
		return nil, false
	}
	return eng, true
}

// Handle gates, decodes and routes one envelope. It must be called from a
// single goroutine in arrival order; replying handlers are started on their
// own goroutines before it returns.
func (d *Dispatcher) Handle(ctx context.Context, env protocol.Envelope) {
	method := env.Method
	if !method.Known() {
		d.metrics.CommandReceived("unknown")
		d.logger.Debug("command_unknown", slog.String("method", method.String()))
		return
	}
	d.metrics.CommandReceived(method.String())

	eng, ready := d.current()
	if !ready && !method.Whitelisted() {
		d.metrics.CommandDropped(method.String())
		d.logger.Debug("command_dropped",
			slog.String("method", method.String()),
			slog.String("reason", "search engine not initialized"))
		return
	}

	cmd, err := protocol.Decode(env)
	if err != nil {
		d.rejectPayload(env, err)
		return
	}

	switch c := cmd.(type) {
	case protocol.InitialSearch:
		d.initialize(ctx, c)

	case protocol.CheckDiskSpaceCallback:
		d.logger.Debug("command_ignored", slog.String("method", method.String()))

	case protocol.CheckDiskSpace:
		d.reply(ctx, env, bridgeerrors.ErrCodeInternal, func(ctx context.Context) (any, error) {
			return d.probe.CheckFreeSpace(ctx)
		})

	case protocol.GetSearchUserConfig:
		d.reply(ctx, env, bridgeerrors.ErrCodeInternal, func(ctx context.Context) (any, error) {
			return d.store.Get(ctx, c.UserID)
		})

	case protocol.UpdateUserConfig:
		d.reply(ctx, env, bridgeerrors.ErrCodeInternal, func(ctx context.Context) (any, error) {
			return d.store.Update(ctx, c.UserID, c.UserData)
		})

	case protocol.IndexBatch:
		d.reply(ctx, env, bridgeerrors.ErrCodeIndexFailed, func(ctx context.Context) (any, error) {
			status, err := eng.IndexBatch(ctx, c.Messages)
			if err != nil {
				d.logger.Warn("index_batch_failed", slog.String("error", err.Error()))
				return IndexBatchResponse{Status: false, Data: err.Error()}, nil
			}
			return IndexBatchResponse{Status: true, Data: status}, nil
		})

	case protocol.GetLatestTimestamp:
		d.reply(ctx, env, bridgeerrors.ErrCodeInternal, func(ctx context.Context) (any, error) {
			ts, err := eng.LatestMessageTimestamp(ctx)
			if err != nil {
				d.logger.Warn("latest_timestamp_failed", slog.String("error", err.Error()))
				return TimestampResponse{Status: false, Timestamp: "0"}, nil
			}
			return TimestampResponse{Status: true, Timestamp: ts}, nil
		})

	case protocol.Search:
		d.reply(ctx, env, bridgeerrors.ErrCodeSearchFailed, func(ctx context.Context) (any, error) {
			return eng.Search(ctx, c.Query)
		})

	case protocol.EncryptIndex:
		d.reply(ctx, env, bridgeerrors.ErrCodeEncryptFailed, func(ctx context.Context) (any, error) {
			if err := eng.EncryptIndex(ctx, c.Key); err != nil {
				return nil, err
			}
			return true, nil
		})

	case protocol.RealTimeIndex:
		d.fireAndForget(ctx, method, func(ctx context.Context) error {
			return eng.BatchRealTimeIndexing(ctx, c.Messages)
		})

	case protocol.DeleteRealTimeIndex:
		d.fireAndForget(ctx, method, func(ctx context.Context) error {
			return eng.DeleteRealTimeFolder(ctx)
		})
	}
}

// initialize replaces the engine. The previous engine is closed first, since
// a new engine for the same user opens the same index files. Handlers still
// running against it fail with a closed-index error. A failed open leaves
// the dispatcher without an engine.
func (d *Dispatcher) initialize(ctx context.Context, c protocol.InitialSearch) {
	d.mu.Lock()
	prev := d.engine
	d.engine = nil
	d.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			d.logger.Warn("search_engine_close_failed", slog.String("error", err.Error()))
		}
	}

	start := time.Now()
	eng, err := d.open(ctx, c.UserID, c.Key)
	d.metrics.ObserveHandler(protocol.MethodInitialSearch.String(), time.Since(start))
	if err != nil {
		d.logger.Error("search_engine_open_failed",
			slog.String("user_id", c.UserID),
			slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	d.engine = eng
	d.mu.Unlock()
	d.logger.Info("search_engine_initialized", slog.String("user_id", c.UserID))
}

// rejectPayload answers an undecodable payload with ERR_401 when the command
// has a callback, and drops it otherwise.
func (d *Dispatcher) rejectPayload(env protocol.Envelope, err error) {
	d.logger.Warn("payload_invalid",
		slog.String("method", env.Method.String()),
		slog.String("error", err.Error()))

	callback, ok := env.Method.Callback()
	if !ok {
		return
	}
	verr := bridgeerrors.ValidationError(fmt.Sprintf("invalid %s payload: %v", env.Method, err), err)
	d.send(protocol.NewFailure(callback, env.RequestID, bridge.ErrorPayload(verr, bridgeerrors.ErrCodeInvalidInput)))
}

// reply runs fn on its own goroutine and sends exactly one reply with the
// envelope's requestId under the command's callback tag. Errors without a
// code are reported with fallbackCode.
func (d *Dispatcher) reply(ctx context.Context, env protocol.Envelope, fallbackCode string, fn func(context.Context) (any, error)) {
	callback, _ := env.Method.Callback()
	requestID := env.RequestID

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		start := time.Now()

		resp, err := d.run(ctx, env.Method, fn)
		d.metrics.ObserveHandler(env.Method.String(), time.Since(start))

		if err != nil {
			d.send(protocol.NewFailure(callback, requestID, bridge.ErrorPayload(err, fallbackCode)))
			return
		}
		d.send(protocol.NewSuccess(callback, requestID, resp))
	}()
}

// fireAndForget runs fn on its own goroutine and only logs the outcome.
func (d *Dispatcher) fireAndForget(ctx context.Context, method protocol.Method, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		start := time.Now()

		_, err := d.run(ctx, method, func(ctx context.Context) (any, error) {
			return nil, fn(ctx)
		})
		d.metrics.ObserveHandler(method.String(), time.Since(start))

		if err != nil {
			d.logger.Warn("command_failed",
				slog.String("method", method.String()),
				slog.String("error", err.Error()))
		}
	}()
}

// run calls fn, turning a panic into an ERR_501 error.
func (d *Dispatcher) run(ctx context.Context, method protocol.Method, fn func(context.Context) (any, error)) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler_panic",
				slog.String("method", method.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp = nil
			err = bridgeerrors.InternalError(fmt.Sprintf("%s handler panicked: %v", method, r), nil)
		}
	}()
	return fn(ctx)
}

func (d *Dispatcher) send(resp protocol.ResponseEnvelope) {
	if err := d.replier.Reply(resp); err != nil {
		d.logger.Error("reply_failed",
			slog.String("method", resp.Method.String()),
			slog.String("error", err.Error()))
	}
}

// Wait blocks until every handler started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight handlers and closes the engine.
func (d *Dispatcher) Close() error {
	d.wg.Wait()

	d.mu.Lock()
	eng := d.engine
	d.engine = nil
	d.mu.Unlock()

	if eng == nil {
		return nil
	}
	return eng.Close()
}
