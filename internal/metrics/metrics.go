// Package metrics holds the Prometheus metrics of the mediator and the
// optional /metrics HTTP endpoint.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swiftsearch"

// Reply outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
)

// Metrics is the set of mediator metrics.
type Metrics struct {
	commandsTotal   *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	repliesTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	configRepairs   *prometheus.CounterVec
	indexedTotal    *prometheus.CounterVec
	searchCache     *prometheus.CounterVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total commands received from the front-end",
		}, []string{"method"}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands dropped because the search engine was not initialized",
		}, []string{"method"}),

		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies sent to the front-end",
		}, []string{"method", "outcome"}),

		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Command handler duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		configRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_repairs_total",
			Help:      "User config documents or entries created or reset on access",
		}, []string{"kind"}),

		indexedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_messages_total",
			Help:      "Messages written to an index",
		}, []string{"index"}),

		searchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cache_total",
			Help:      "Search result cache hits and misses",
		}, []string{"result"}), // "hit" / "miss"
	}

	reg.MustRegister(
		m.commandsTotal, m.droppedTotal,
		m.repliesTotal, m.handlerDuration,
		m.configRepairs, m.indexedTotal, m.searchCache,
	)
	return m
}

// CommandReceived counts an inbound command.
func (m *Metrics) CommandReceived(method string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(method).Inc()
}

// CommandDropped counts a command rejected by the gate.
func (m *Metrics) CommandDropped(method string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(method).Inc()
}

// Reply counts an outbound reply.
func (m *Metrics) Reply(method, outcome string) {
	if m == nil {
		return
	}
	m.repliesTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveHandler records how long a handler ran.
func (m *Metrics) ObserveHandler(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ConfigRepair counts a config store repair of the given kind.
func (m *Metrics) ConfigRepair(kind string) {
	if m == nil {
		return
	}
	m.configRepairs.WithLabelValues(kind).Inc()
}

// Indexed counts n messages written to the named index.
func (m *Metrics) Indexed(index string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.indexedTotal.WithLabelValues(index).Add(float64(n))
}

// SearchCache counts a cache lookup.
func (m *Metrics) SearchCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.searchCache.WithLabelValues(result).Inc()
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics_server_started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	return srv
}
