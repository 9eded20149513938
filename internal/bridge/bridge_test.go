package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/keerthi16/SwiftSearch/internal/errors"
	"github.com/keerthi16/SwiftSearch/internal/protocol"
)

func decodeFrames(t *testing.T, out string) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var f protocol.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f), scanner.Text())
		frames = append(frames, f)
	}
	return frames
}

func TestReplier_Success(t *testing.T) {
	var buf bytes.Buffer
	r := NewReplier(&buf)

	require.NoError(t, r.Reply(protocol.NewSuccess(protocol.MethodCheckDiskSpaceCallback, protocol.ID(5), true)))

	assert.JSONEq(t,
		`{"method":"swiftSearch","message":{"method":"checkDiskSpaceCallback","requestId":5,"response":true}}`,
		buf.String())
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestReplier_FailureShapes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "not found is null",
			err:  fmt.Errorf("user config %w", bridgeerrors.ErrNotFound),
			want: `null`,
		},
		{
			name: "bridge error keeps code",
			err:  bridgeerrors.CorruptError("file was corrupt", nil),
			want: `{"code":"ERR_206_FILE_CORRUPT","message":"file was corrupt"}`,
		},
		{
			name: "plain error gets fallback code and verbatim message",
			err:  errors.New("index exploded"),
			want: `{"code":"ERR_503_SEARCH_FAILED","message":"index exploded"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := NewReplier(&buf)

			require.NoError(t, r.Reply(protocol.NewFailure(protocol.MethodSearchCallback, protocol.ID(9), ErrorPayload(tt.err, bridgeerrors.ErrCodeSearchFailed))))

			var frame struct {
				Message map[string]json.RawMessage `json:"message"`
			}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &frame))
			assert.JSONEq(t, tt.want, string(frame.Message["error"]))
			assert.Equal(t, "9", string(frame.Message["requestId"]))
			_, hasResponse := frame.Message["response"]
			assert.False(t, hasResponse)
		})
	}
}

func TestReplier_ConcurrentFramesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	r := NewReplier(&buf)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := map[string]string{"text": strings.Repeat("x", 1000+i)}
			assert.NoError(t, r.Reply(protocol.NewSuccess(protocol.MethodSearchCallback, protocol.ID(int64(i)), payload)))
		}(i)
	}
	wg.Wait()

	frames := decodeFrames(t, buf.String())
	require.Len(t, frames, n)
	seen := map[int64]bool{}
	for _, f := range frames {
		seen[*f.Message.RequestID] = true
	}
	assert.Len(t, seen, n)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestReplier_WriteError(t *testing.T) {
	r := NewReplier(failingWriter{})
	err := r.Reply(protocol.NewSuccess(protocol.MethodSearchCallback, protocol.ID(1), nil))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestTransport_DeliversInOrderAndSkipsGarbage(t *testing.T) {
	input := strings.Join([]string{
		`{"method":"initialSearch","message":{"userId":"u","key":"k"}}`,
		``,
		`not json`,
		`{"message":{}}`,
		`{"method":"search","message":{"q":"a"},"requestId":1}`,
		`{"method":"checkDiskSpace","requestId":2}`,
	}, "\n")

	var got []protocol.Envelope
	tr := NewTransport(strings.NewReader(input), nil)
	err := tr.Run(context.Background(), func(_ context.Context, env protocol.Envelope) {
		got = append(got, env)
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, protocol.MethodInitialSearch, got[0].Method)
	assert.Nil(t, got[0].RequestID)
	assert.Equal(t, protocol.MethodSearch, got[1].Method)
	assert.Equal(t, int64(1), *got[1].RequestID)
	assert.Equal(t, protocol.MethodCheckDiskSpace, got[2].Method)
}

func TestTransport_StopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewTransport(pr, nil).Run(ctx, func(context.Context, protocol.Envelope) {})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop after cancel")
	}
}

func TestTransport_ReadError(t *testing.T) {
	pr, pw := io.Pipe()
	_ = pw.CloseWithError(errors.New("host went away"))

	err := NewTransport(pr, nil).Run(context.Background(), func(context.Context, protocol.Envelope) {})
	assert.ErrorContains(t, err, "host went away")
}
