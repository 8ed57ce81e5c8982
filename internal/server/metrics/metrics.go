// Package metrics holds the Prometheus collectors for the transfer service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeOK         = "ok"
	OutcomeIncomplete = "incomplete"
	OutcomeConflict   = "conflict"
	OutcomeError      = "error"
	OutcomeNotFound   = "not_found"
	OutcomeForbidden  = "forbidden"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	SessionsCreated prometheus.Counter       // gophdrop_sessions_created_total
	ChunksStaged    prometheus.Counter       // gophdrop_chunks_staged_total
	ChunkBytes      prometheus.Counter       // gophdrop_chunk_bytes_total
	Merges          *prometheus.CounterVec   // gophdrop_merges_total{outcome}
	MergeDuration   prometheus.Histogram     // gophdrop_merge_duration_seconds
	MergedBytes     prometheus.Counter       // gophdrop_merged_bytes_total
	MergesInFlight  prometheus.Gauge         // gophdrop_merges_in_flight
	Downloads       *prometheus.CounterVec   // gophdrop_downloads_total{outcome}
	DownloadBytes   prometheus.Counter       // gophdrop_download_bytes_total
	Requests        *prometheus.HistogramVec // gophdrop_http_request_duration_seconds{route,status}
}

// New registers the collectors with reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrop_sessions_created_total",
			Help: "Upload sessions created",
		}),
		ChunksStaged: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrop_chunks_staged_total",
			Help: "Chunks written to staging, re-uploads included",
		}),
		ChunkBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrop_chunk_bytes_total",
			Help: "Bytes written to staging",
		}),
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophdrop_merges_total",
			Help: "Merge attempts by outcome",
		}, []string{"outcome"}),
		MergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gophdrop_merge_duration_seconds",
			Help:    "Time spent merging one session",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		MergedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrop_merged_bytes_total",
			Help: "Bytes written to final artifacts",
		}),
		MergesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "gophdrop_merges_in_flight",
			Help: "Merges currently running",
		}),
		Downloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gophdrop_downloads_total",
			Help: "Download attempts by outcome",
		}, []string{"outcome"}),
		DownloadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "gophdrop_download_bytes_total",
			Help: "Artifact bytes streamed to clients",
		}),
		Requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gophdrop_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) ChunkStaged(n int64) {
	if m == nil {
		return
	}
	m.ChunksStaged.Inc()
	m.ChunkBytes.Add(float64(n))
}

// MergeStarted bumps the in-flight gauge and returns a func that records the
// outcome, duration and written bytes.
func (m *Metrics) MergeStarted() func(outcome string, seconds float64, bytes int64) {
	if m == nil {
		return func(string, float64, int64) {}
	}
	m.MergesInFlight.Inc()
	return func(outcome string, seconds float64, bytes int64) {
		m.MergesInFlight.Dec()
		m.Merges.WithLabelValues(outcome).Inc()
		m.MergeDuration.Observe(seconds)
		if bytes > 0 {
			m.MergedBytes.Add(float64(bytes))
		}
	}
}

func (m *Metrics) Download(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.DownloadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Observe(seconds)
}
