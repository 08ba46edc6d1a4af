// Package metrics holds the prometheus collectors for the scrape pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "beasiswa"

// Metrics groups the scraper collectors so tests can use a private registry
type Metrics struct {
	PagesScraped     *prometheus.CounterVec
	RecordsExtracted *prometheus.CounterVec
	CardsSkipped     prometheus.Counter
	MonthOutcomes    *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	UniqueRecords    prometheus.Gauge
	SessionFailures  prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_scraped_total",
			Help:      "Listing pages extracted, by month.",
		}, []string{"month"}),
		RecordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Scholarship records extracted before deduplication, by month.",
		}, []string{"month"}),
		CardsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_skipped_total",
			Help:      "Snapshot cards skipped because they were malformed or not scholarships.",
		}),
		MonthOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "month_outcomes_total",
			Help:      "How each month's pagination ended.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a complete scrape run.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		UniqueRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unique_records",
			Help:      "Unique records produced by the last completed run.",
		}),
		SessionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Browser sessions that could not be started.",
		}),
	}

	reg.MustRegister(
		m.PagesScraped,
		m.RecordsExtracted,
		m.CardsSkipped,
		m.MonthOutcomes,
		m.RunDuration,
		m.UniqueRecords,
		m.SessionFailures,
	)
	return m
}

// ObserveRun records the duration and size of a finished run
func (m *Metrics) ObserveRun(started time.Time, unique int) {
	m.RunDuration.Observe(time.Since(started).Seconds())
	m.UniqueRecords.Set(float64(unique))
}
