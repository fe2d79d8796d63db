package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "creditledger"
	metricsSubsystem = "ledger"
)

// Metrics counts ledger operations for Prometheus.
type Metrics struct {
	operationsTotal  *prometheus.CounterVec
	creditsMoved     *prometheus.CounterVec
	graceConsumed    prometheus.Counter
	driftDetected    *prometheus.CounterVec
	lastScanDrifted  prometheus.Gauge
	lastScanUnixTime prometheus.Gauge
}

// NewMetrics registers the ledger collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "operations_total",
				Help:      "Ledger operations partitioned by operation and status.",
			},
			[]string{"operation", "status"},
		),
		creditsMoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "credits_total",
				Help:      "Credits written to the ledger partitioned by entry type and source.",
			},
			[]string{"type", "source"},
		),
		graceConsumed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "grace_consumed_total",
				Help:      "Debits that used the one-time grace allowance.",
			},
		),
		driftDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "drift_detected_total",
				Help:      "Accounts found with reconciliation drift, by detecting operation.",
			},
			[]string{"operation"},
		),
		lastScanDrifted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "last_scan_drifted_accounts",
				Help:      "Drifted accounts reported by the most recent bulk scan.",
			},
		),
		lastScanUnixTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "last_scan_unix",
				Help:      "Unix time of the most recent bulk scan.",
			},
		),
	}
}

// LogOperation implements ledger.OperationLogger.
func (metrics *Metrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Status == ledger.StatusDrift {
		metrics.driftDetected.WithLabelValues(entry.Operation).Inc()
	}
	if entry.Status != ledger.StatusOK || entry.EntryID.String() == "" || entry.Amount <= 0 {
		return
	}
	metrics.creditsMoved.WithLabelValues(entry.Type.String(), entry.Source.String()).Add(float64(entry.Amount))
	if entry.UsedGrace {
		metrics.graceConsumed.Inc()
	}
}

// ObserveBulkScan records the outcome of one scan.
func (metrics *Metrics) ObserveBulkScan(drifted int, atUnixUTC int64) {
	metrics.lastScanDrifted.Set(float64(drifted))
	metrics.lastScanUnixTime.Set(float64(atUnixUTC))
}
