// Package bridge connects the dispatcher to the host channel: Transport
// reads newline-delimited command envelopes, and Replier writes correlated
// response frames.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	bridgeerrors "github.com/keerthi16/SwiftSearch/internal/errors"
	"github.com/keerthi16/SwiftSearch/internal/metrics"
	"github.com/keerthi16/SwiftSearch/internal/protocol"
)

// Replier writes response frames. Writes are serialized so frames from
// concurrent handlers never interleave.
type Replier struct {
	mu      sync.Mutex
	enc     *json.Encoder
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ReplierOption configures a Replier.
type ReplierOption func(*Replier)

// WithReplierLogger sets the logger.
func WithReplierLogger(logger *slog.Logger) ReplierOption {
	return func(r *Replier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReplierMetrics records reply counts on m.
func WithReplierMetrics(m *metrics.Metrics) ReplierOption {
	return func(r *Replier) { r.metrics = m }
}

// NewReplier creates a Replier writing to w.
func NewReplier(w io.Writer, opts ...ReplierOption) *Replier {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	r := &Replier{enc: enc, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reply emits exactly one frame carrying resp.
func (r *Replier) Reply(resp protocol.ResponseEnvelope) error {
	outcome := metrics.OutcomeSuccess
	switch {
	case resp.NotFound():
		outcome = metrics.OutcomeNotFound
	case resp.Failed:
		outcome = metrics.OutcomeError
	}

	r.mu.Lock()
	err := r.enc.Encode(protocol.NewFrame(resp))
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("reply_write_failed",
			slog.String("method", resp.Method.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to write reply: %w", err)
	}

	r.metrics.Reply(resp.Method.String(), outcome)
	r.logger.Debug("reply_sent",
		slog.String("method", resp.Method.String()),
		slog.Any("request_id", resp.RequestID),
		slog.String("outcome", outcome))
	return nil
}

// ErrorPayload converts err to its wire form. Returns nil for not-found.
func ErrorPayload(err error, fallbackCode string) *protocol.ErrorPayload {
	if err == nil || bridgeerrors.IsNotFound(err) {
		return nil
	}
	var be *bridgeerrors.BridgeError
	if errors.As(err, &be) {
		return &protocol.ErrorPayload{Code: be.Code, Message: be.Message}
	}
	return &protocol.ErrorPayload{Code: fallbackCode, Message: err.Error()}
}
