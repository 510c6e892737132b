// Package telemetry exposes the searcher's running counters as Prometheus
// metrics and periodic structured log lines, per spec.md §4.12. Metrics are
// registered against a private registry (never the global default) so
// multiple searcher instances in one process, as in tests, don't collide.
package telemetry

import (
	"context"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// StatsSource is satisfied by internal/opportunity.Manager.
type StatsSource interface {
	SnapshotStats() map[coretypes.StrategyTag]coretypes.StrategyStats
}

type Telemetry struct {
	registry *prometheus.Registry
	source   StatsSource
	log      *zap.Logger

	detected  *prometheus.CounterVec
	submitted *prometheus.CounterVec
	included  *prometheus.CounterVec
	failed    *prometheus.CounterVec
	profitWei *prometheus.CounterVec
	execMS    *prometheus.HistogramVec
}

func New(source StatsSource, log *zap.Logger) *Telemetry {
	registry := prometheus.NewRegistry()
	t := &Telemetry{
		registry: registry,
		source:   source,
		log:      log,
		detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searcher_opportunities_detected_total",
		}, []string{"strategy"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searcher_bundles_submitted_total",
		}, []string{"strategy"}),
		included: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searcher_bundles_included_total",
		}, []string{"strategy"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searcher_bundles_failed_total",
		}, []string{"strategy"}),
		profitWei: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searcher_realized_profit_wei_total",
		}, []string{"strategy"}),
		execMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "searcher_execution_latency_ms",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"strategy"}),
	}
	registry.MustRegister(t.detected, t.submitted, t.included, t.failed, t.profitWei, t.execMS)
	return t
}

func (t *Telemetry) Registry() *prometheus.Registry { return t.registry }

// Refresh pulls a fresh snapshot from the stats source, makes sure every
// strategy's detected/submitted/included/failed series exists by adding
// zero, and returns the snapshot. It does not copy the snapshot's totals
// into the counters; only RecordExecution increments them.
func (t *Telemetry) Refresh() map[coretypes.StrategyTag]coretypes.StrategyStats {
	snapshot := t.source.SnapshotStats()
	for tag, s := range snapshot {
		strategy := string(tag)
		t.detected.WithLabelValues(strategy).Add(0) // ensure series exists even at zero
		t.submitted.WithLabelValues(strategy).Add(0)
		t.included.WithLabelValues(strategy).Add(0)
		t.failed.WithLabelValues(strategy).Add(0)
		_ = s
	}
	return snapshot
}

// RecordExecution increments the per-strategy counters for one completed
// submission attempt.
func (t *Telemetry) RecordExecution(rec coretypes.ExecutionRecord) {
	strategy := string(rec.Strategy)
	t.submitted.WithLabelValues(strategy).Inc()
	t.execMS.WithLabelValues(strategy).Observe(float64(rec.ElapsedMS))
	switch rec.Outcome {
	case coretypes.OutcomeIncluded:
		t.included.WithLabelValues(strategy).Inc()
		if rec.RealizedProfit != nil {
			profit, _ := new(big.Float).SetInt(rec.RealizedProfit).Float64()
			t.profitWei.WithLabelValues(strategy).Add(profit)
		}
	default:
		t.failed.WithLabelValues(strategy).Inc()
	}
}

// RunPeriodicSummary logs a structured summary of every strategy's stats
// every interval until ctx is cancelled.
func (t *Telemetry) RunPeriodicSummary(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := t.Refresh()
			for tag, s := range snapshot {
				t.log.Info("strategy stats",
					zap.String("strategy", string(tag)),
					zap.Uint64("detected", s.Detected),
					zap.Uint64("queued", s.Queued),
					zap.Uint64("submitted", s.Submitted),
					zap.Uint64("included", s.Included),
					zap.Uint64("failed", s.Failed),
					zap.Float64("success_rate", s.SuccessRate),
					zap.Float64("avg_execution_ms", s.AvgExecutionMS),
				)
			}
		}
	}
}
