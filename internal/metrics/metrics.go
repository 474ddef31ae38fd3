package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "energy_billing_"

	ResultSuccess = "success"
	ResultError   = "error"

	OutcomeAppended  = "appended"
	OutcomeDuplicate = "duplicate"
)

var (
	registerOnce sync.Once

	ingestRuns    *prometheus.CounterVec
	ingestRows    *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec
	ingestFailed  *prometheus.CounterVec

	billingTotal   *prometheus.CounterVec
	billingLatency *prometheus.HistogramVec
	billingReads   prometheus.Counter

	exportTotal *prometheus.CounterVec

	streamClients prometheus.Gauge
	streamEvicted prometheus.Counter
)

// Init registers the collectors with the default registry. Observations
// made before Init are dropped.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers the collectors with reg. Only the first call has
// any effect.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		ingestRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_runs_total",
				Help: "Total NEM12 ingestion runs by result",
			},
			[]string{"result"},
		)
		ingestRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Interval rows processed by ingestion, by outcome",
			},
			[]string{"outcome"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingestion latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestFailed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_failures_total",
				Help: "Ingestion failures by pipeline stage",
			},
			[]string{"stage"},
		)

		billingTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cost_calculations_total",
				Help: "Total cost calculations by result",
			},
			[]string{"result"},
		)
		billingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cost_calculation_latency_seconds",
				Help:    "Cost calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		billingReads = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "cost_readings_total",
				Help: "Interval readings consumed by cost calculations",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "breakdown_exports_total",
				Help: "Breakdown exports by format and result",
			},
			[]string{"format", "result"},
		)

		streamClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_clients",
				Help: "Connected websocket stream clients",
			},
		)
		streamEvicted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_evictions_total",
				Help: "Stream clients disconnected for falling behind",
			},
		)

		reg.MustRegister(
			ingestRuns,
			ingestRows,
			ingestLatency,
			ingestFailed,
			billingTotal,
			billingLatency,
			billingReads,
			exportTotal,
			streamClients,
			streamEvicted,
		)
	})
}

// ObserveIngest records one ingestion run and its row counts.
func ObserveIngest(result string, appended, duplicates int, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if ingestRuns != nil {
		ingestRuns.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if ingestRows != nil {
		ingestRows.WithLabelValues(OutcomeAppended).Add(float64(appended))
		ingestRows.WithLabelValues(OutcomeDuplicate).Add(float64(duplicates))
	}
}

// IncIngestFailure counts a failed run against the stage it failed in.
func IncIngestFailure(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	if ingestFailed != nil {
		ingestFailed.WithLabelValues(stage).Inc()
	}
}

// ObserveCostCalculation records a calculation and the readings it read.
func ObserveCostCalculation(result string, readings int, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if billingTotal != nil {
		billingTotal.WithLabelValues(result).Inc()
	}
	if billingLatency != nil {
		billingLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if billingReads != nil && readings > 0 {
		billingReads.Add(float64(readings))
	}
}

// IncExport counts a breakdown export.
func IncExport(format, result string) {
	if result == "" {
		result = ResultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// SetStreamClients records the number of connected stream clients.
func SetStreamClients(n int) {
	if streamClients != nil {
		streamClients.Set(float64(n))
	}
}

// IncStreamEvicted counts a stream client dropped for a full buffer.
func IncStreamEvicted() {
	if streamEvicted != nil {
		streamEvicted.Inc()
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
