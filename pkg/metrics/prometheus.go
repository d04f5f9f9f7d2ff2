package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// MetricsCollector records pipeline counters on a private registry. The
// registry is flushed to a textfile at the end of a run and can be pushed
// to a Pushgateway.
type MetricsCollector struct {
	registry         *prometheus.Registry
	rowsLoaded       *prometheus.CounterVec
	stageDuration    *prometheus.GaugeVec
	detectorDuration *prometheus.GaugeVec
	accountsFlagged  *prometheus.GaugeVec
	validationIssues *prometheus.CounterVec
	logger           *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	collector := &MetricsCollector{
		registry: registry,
		rowsLoaded: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "rows_loaded_total",
			Help: "Rows loaded per input table",
		}, []string{"table"}),
		stageDuration: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "stage_duration_seconds",
			Help: "Wall time of each pipeline stage",
		}, []string{"stage"}),
		detectorDuration: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "detector_duration_seconds",
			Help: "Wall time of each pattern detector",
		}, []string{"detector"}),
		accountsFlagged: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "accounts_flagged",
			Help: "Labeled accounts raising a per-account flag",
		}, []string{"flag"}),
		validationIssues: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "validation_issues_total",
			Help: "Data validation issues by kind",
		}, []string{"kind"}),
		logger: logger,
	}

	return collector
}

func (m *MetricsCollector) RecordRows(table string, rows int) {
	m.rowsLoaded.WithLabelValues(table).Add(float64(rows))
}

func (m *MetricsCollector) RecordStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Set(duration.Seconds())
}

func (m *MetricsCollector) RecordDetector(detector string, duration time.Duration) {
	m.detectorDuration.WithLabelValues(detector).Set(duration.Seconds())
}

func (m *MetricsCollector) SetFlagged(flag string, accounts int) {
	m.accountsFlagged.WithLabelValues(flag).Set(float64(accounts))
}

func (m *MetricsCollector) RecordValidationIssue(kind string, count int) {
	m.validationIssues.WithLabelValues(kind).Add(float64(count))
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (m *MetricsCollector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// Push sends the registry to a Pushgateway, grouped by run ID.
func (m *MetricsCollector) Push(ctx context.Context, url, job, runID string) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		m.logger.Error("Metrics push failed", slog.String("url", url), slog.String("error", err.Error()))
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	m.logger.Info("Metrics pushed", slog.String("url", url), slog.String("job", job))
	return nil
}
