package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the tracker.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal *prometheus.CounterVec
	UploadsTotal      *prometheus.CounterVec
	CacheLookupsTotal *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	CyclesTotal       *prometheus.CounterVec
	LastSuccess       prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_requests_total",
			Help: "Total HTTP requests issued to the storefront.",
		},
		[]string{"method"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracker_request_duration_seconds",
			Help:    "HTTP request latency for storefront requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_items_scraped_total",
			Help: "Item cards extracted per region.",
		},
		[]string{"region"},
	)
	uploads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_uploads_total",
			Help: "Image mirror uploads by outcome.",
		},
		[]string{"outcome"},
	)
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_cache_lookups_total",
			Help: "Upload cache lookups by the layer that answered.",
		},
		[]string{"result"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_errors_total",
			Help: "Total number of tracker errors by type.",
		},
		[]string{"error_type"},
	)
	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_cycles_total",
			Help: "Tracker cycles by outcome.",
		},
		[]string{"outcome"},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that finished without error.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, uploads, lookups, errorsTotal, cycles, lastSuccess)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		UploadsTotal:      uploads,
		CacheLookupsTotal: lookups,
		ErrorsTotal:       errorsTotal,
		CyclesTotal:       cycles,
		LastSuccess:       lastSuccess,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddItems adds n extracted cards for a region code.
func (m *Metrics) AddItems(region string, n int) {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.WithLabelValues(region).Add(float64(n))
}

// IncUpload counts a mirror upload.
func (m *Metrics) IncUpload(outcome string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(outcome).Inc()
}

// IncCacheLookup counts an upload cache lookup.
func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCycle counts a finished cycle.
func (m *Metrics) IncCycle(outcome string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
}

// MarkSuccess records the time of a successful cycle.
func (m *Metrics) MarkSuccess(t time.Time) {
	if m == nil {
		return
	}
	m.LastSuccess.Set(float64(t.Unix()))
}
