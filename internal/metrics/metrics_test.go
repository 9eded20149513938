package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandReceived("search")
	m.CommandReceived("search")
	m.CommandDropped("search")
	m.Reply("searchCallback", OutcomeSuccess)
	m.ConfigRepair("corrupt")
	m.Indexed("main", 3)
	m.Indexed("main", 0)
	m.SearchCache(true)
	m.SearchCache(false)
	m.ObserveHandler("search", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repliesTotal.WithLabelValues("searchCallback", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configRepairs.WithLabelValues("corrupt")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.indexedTotal.WithLabelValues("main")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchCache.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.handlerDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommandReceived("x")
		m.CommandDropped("x")
		m.Reply("x", OutcomeError)
		m.ObserveHandler("x", time.Second)
		m.ConfigRepair("x")
		m.Indexed("x", 1)
		m.SearchCache(true)
	})
}

func TestServe_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CommandReceived("checkDiskSpace")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Serve(ctx, addr, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	assert.Contains(t, string(body), `swiftsearch_commands_total{method="checkDiskSpace"} 1`)
}
