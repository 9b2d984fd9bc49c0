// Package metrics exposes Prometheus instrumentation for the engine.
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

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal         prometheus.Counter
	ScanDuration       prometheus.Histogram
	SnapshotSeq        prometheus.Gauge
	OpportunitiesTotal *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
	TipPaid            prometheus.Histogram
	RealizedProfit     prometheus.Counter
	RealizedLoss       prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "scans_total",
			Help:      "Snapshot scans completed.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbot",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one detection pass over a snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapshotSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbot",
			Name:      "snapshot_seq",
			Help:      "Sequence number of the snapshot currently in use.",
		}),
		OpportunitiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "opportunities_total",
			Help:      "Opportunities surviving the liquidity filter, by kind.",
		}, []string{"kind"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "executions_total",
			Help:      "Execution attempts by outcome.",
		}, []string{"outcome"}),
		TipPaid: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbot",
			Name:      "tip_paid",
			Help:      "Tip attached to submitted bundles.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		RealizedProfit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "realized_profit_total",
			Help:      "Cumulative realized profit from successful executions.",
		}),
		RealizedLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbot",
			Name:      "realized_loss_total",
			Help:      "Cumulative realized loss from failed executions.",
		}),
	}
	reg.MustRegister(
		m.ScansTotal, m.ScanDuration, m.SnapshotSeq,
		m.OpportunitiesTotal, m.ExecutionsTotal, m.TipPaid,
		m.RealizedProfit, m.RealizedLoss,
	)
	return m
}

// ObserveExecution records one terminal execution outcome.
func (m *Metrics) ObserveExecution(success bool, tip, profit float64) {
	if success {
		m.ExecutionsTotal.WithLabelValues("success").Inc()
		m.RealizedProfit.Add(profit)
	} else {
		m.ExecutionsTotal.WithLabelValues("failure").Inc()
		if profit < 0 {
			m.RealizedLoss.Add(-profit)
		}
	}
	if tip > 0 {
		m.TipPaid.Observe(tip)
	}
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a scrape endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
