package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/keerthi16/SwiftSearch/internal/protocol"
)

// MaxFrameSize bounds one inbound line. Index batches can be large.
const MaxFrameSize = 64 * 1024 * 1024

// Handler receives each decoded envelope in arrival order.
type Handler func(ctx context.Context, env protocol.Envelope)

// Transport reads newline-delimited JSON envelopes.
type Transport struct {
	in     io.Reader
	logger *slog.Logger
}

// NewTransport creates a Transport reading from in.
func NewTransport(in io.Reader, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{in: in, logger: logger}
}

// Run reads envelopes and hands them to handle until the input ends or ctx
// is cancelled. Lines that do not decode are logged and skipped. Returns
// nil on a clean end of input.
func (t *Transport) Run(ctx context.Context, handle Handler) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read channel: %w", err)
					}
				default:
				}
				return nil
			}
			env, err := decodeEnvelope(line)
			if err != nil {
				if !errors.Is(err, errBlankLine) {
					t.logger.Warn("envelope_decode_failed", slog.String("error", err.Error()))
				}
				continue
			}
			handle(ctx, env)
		}
	}
}

var errBlankLine = errors.New("blank line")

func decodeEnvelope(line []byte) (protocol.Envelope, error) {
	var env protocol.Envelope
	if len(bytes.TrimSpace(line)) == 0 {
		return env, errBlankLine
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return env, err
	}
	if env.Method == "" {
		return env, fmt.Errorf("envelope has no method")
	}
	return env, nil
}
