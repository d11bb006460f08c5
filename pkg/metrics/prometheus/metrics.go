// Package prometheus implements the metrics interfaces consumed across the
// ingestion pipeline on top of a Prometheus registry. One Metrics value
// satisfies the upload, assemble, maintenance, metadata, and API surfaces.
package prometheus

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector with the romstack_ prefix.
type Metrics struct {
	// UploadsInitiated counts sessions by platform.
	UploadsInitiated *prometheus.CounterVec

	// UploadsFinished counts sessions reaching a terminal state.
	UploadsFinished *prometheus.CounterVec

	// ChunkBytes totals chunk payload bytes received.
	ChunkBytes prometheus.Counter

	// ChunkWriteDuration tracks durable chunk write latency.
	ChunkWriteDuration prometheus.Histogram

	// AssemblyDuration tracks pipeline latency by outcome.
	AssemblyDuration *prometheus.HistogramVec

	// AssemblyQueueDepth tracks pending uploads awaiting a worker.
	AssemblyQueueDepth prometheus.Gauge

	// MaintenanceJobs counts job runs by job and result.
	MaintenanceJobs *prometheus.CounterVec

	// MaintenanceJobDuration tracks job latency.
	MaintenanceJobDuration *prometheus.HistogramVec

	// DiskUsedPercent tracks volume fill levels.
	DiskUsedPercent *prometheus.GaugeVec

	// MetadataCacheLookups counts enrichment cache hits and misses.
	MetadataCacheLookups *prometheus.CounterVec

	// MetadataSourceDuration tracks per-source search latency by result.
	MetadataSourceDuration *prometheus.HistogramVec

	// HTTPRequestDuration tracks API latency by method, route, and status.
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors. Panics on duplicate registration,
// which only happens on wiring mistakes at startup.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsInitiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romstack_uploads_initiated_total",
				Help: "Upload sessions initiated, by detected platform",
			},
			[]string{"platform"},
		),
		UploadsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romstack_uploads_finished_total",
				Help: "Upload sessions reaching a terminal state",
			},
			[]string{"state"},
		),
		ChunkBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "romstack_chunk_bytes_total",
				Help: "Chunk payload bytes durably received",
			},
		),
		ChunkWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "romstack_chunk_write_duration_seconds",
				Help:    "Durable chunk write latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		AssemblyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "romstack_assembly_duration_seconds",
				Help:    "Assembly pipeline latency by outcome",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"}, // "ok" or the failure kind
		),
		AssemblyQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "romstack_assembly_queue_depth",
				Help: "Uploads waiting for an assembly worker",
			},
		),
		MaintenanceJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romstack_maintenance_jobs_total",
				Help: "Maintenance job runs by job and result",
			},
			[]string{"job", "result"},
		),
		MaintenanceJobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "romstack_maintenance_job_duration_seconds",
				Help:    "Maintenance job latency",
				Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"job"},
		),
		DiskUsedPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "romstack_disk_used_percent",
				Help: "Fill level of the temp and library volumes",
			},
			[]string{"mount"},
		),
		MetadataCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romstack_metadata_cache_lookups_total",
				Help: "Enrichment cache lookups by result",
			},
			[]string{"result"}, // "hit" or "miss"
		),
		MetadataSourceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "romstack_metadata_source_duration_seconds",
				Help:    "Metadata source search latency by result",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "result"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "romstack_http_request_duration_seconds",
				Help:    "API request latency by method, route, and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(
		m.UploadsInitiated,
		m.UploadsFinished,
		m.ChunkBytes,
		m.ChunkWriteDuration,
		m.AssemblyDuration,
		m.AssemblyQueueDepth,
		m.MaintenanceJobs,
		m.MaintenanceJobDuration,
		m.DiskUsedPercent,
		m.MetadataCacheLookups,
		m.MetadataSourceDuration,
		m.HTTPRequestDuration,
	)
	return m
}

// ============================================================================
// CONSUMER INTERFACE IMPLEMENTATIONS
// ============================================================================

// UploadInitiated implements upload.Metrics.
func (m *Metrics) UploadInitiated(platformID string) {
	if platformID == "" {
		platformID = "archive"
	}
	m.UploadsInitiated.WithLabelValues(platformID).Inc()
}

// ChunkReceived implements upload.Metrics.
func (m *Metrics) ChunkReceived(bytes int64, seconds float64) {
	m.ChunkBytes.Add(float64(bytes))
	m.ChunkWriteDuration.Observe(seconds)
}

// UploadFinished implements upload.Metrics.
func (m *Metrics) UploadFinished(state string) {
	m.UploadsFinished.WithLabelValues(state).Inc()
}

// AssemblyFinished implements assemble.Metrics.
func (m *Metrics) AssemblyFinished(outcome string, seconds float64) {
	m.AssemblyDuration.WithLabelValues(outcome).Observe(seconds)
	m.UploadsFinished.WithLabelValues(outcomeState(outcome)).Inc()
}

func outcomeState(outcome string) string {
	if outcome == "ok" {
		return "COMPLETED"
	}
	return "FAILED"
}

// QueueDepth implements assemble.Metrics.
func (m *Metrics) QueueDepth(depth int) {
	m.AssemblyQueueDepth.Set(float64(depth))
}

// JobRan implements maintenance.Metrics.
func (m *Metrics) JobRan(job string, ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.MaintenanceJobs.WithLabelValues(job, result).Inc()
	m.MaintenanceJobDuration.WithLabelValues(job).Observe(seconds)
}

// DiskUsage implements maintenance.Metrics.
func (m *Metrics) DiskUsage(mount string, usedPercent float64) {
	m.DiskUsedPercent.WithLabelValues(mount).Set(usedPercent)
}

// CacheLookup implements metadata.Metrics.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.MetadataCacheLookups.WithLabelValues(result).Inc()
}

// SourceSearch implements metadata.Metrics.
func (m *Metrics) SourceSearch(source string, ok bool, seconds float64) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.MetadataSourceDuration.WithLabelValues(source, result).Observe(seconds)
}

// RequestObserved records one API request.
func (m *Metrics) RequestObserved(method, route string, status int, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
