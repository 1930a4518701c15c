// Package metrics provides Prometheus metrics for vaultfs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for vaultfs.
type Metrics struct {
	// FTP command metrics.
	FtpCommandsTotal    *prometheus.CounterVec
	FtpCommandDuration  *prometheus.HistogramVec
	FtpSessionsActive   prometheus.Gauge
	FtpSessionsTotal     prometheus.Counter

	// Store-stack metrics.
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreFlushDuration     prometheus.Histogram
	StoreFlushesTotal      prometheus.Counter

	// Buffering-layer cache metrics.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheEvictionsTotal prometheus.Counter

	// Server metrics.
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.FtpCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultfs_ftp_commands_total",
			Help: "Total number of FTP commands processed",
		},
		[]string{"command", "status"},
	)

	m.FtpCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultfs_ftp_command_duration_seconds",
			Help:    "Duration of FTP commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	m.FtpSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultfs_ftp_sessions_active",
			Help: "Number of FTP sessions currently connected",
		},
	)

	m.FtpSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_ftp_sessions_total",
			Help: "Total number of FTP sessions accepted",
		},
	)

	m.StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultfs_store_operations_total",
			Help: "Total number of store-stack operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultfs_store_operation_duration_seconds",
			Help:    "Duration of store-stack operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.StoreFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultfs_store_flush_duration_seconds",
			Help:    "Duration of store-stack flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.StoreFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_store_flushes_total",
			Help: "Total number of store-stack flushes performed",
		},
	)

	m.CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_cache_hits_total",
			Help: "Total number of buffering-layer cache hits",
		},
	)

	m.CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_cache_misses_total",
			Help: "Total number of buffering-layer cache misses",
		},
	)

	m.CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultfs_cache_evictions_total",
			Help: "Total number of coarse cache evictions (cache limit exceeded)",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultfs_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordFtpCommand records a completed FTP command with its status.
func (m *Metrics) RecordFtpCommand(command, status string, duration time.Duration) {
	m.FtpCommandsTotal.WithLabelValues(command, status).Inc()
	m.FtpCommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStoreOperation records a store-stack operation with its status.
func (m *Metrics) RecordStoreOperation(operation, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFlush records a completed store-stack flush.
func (m *Metrics) RecordFlush(duration time.Duration) {
	m.StoreFlushesTotal.Inc()
	m.StoreFlushDuration.Observe(duration.Seconds())
}

// CacheHit implements bufstore.CacheRecorder.
func (m *Metrics) CacheHit() { m.CacheHitsTotal.Inc() }

// CacheMiss implements bufstore.CacheRecorder.
func (m *Metrics) CacheMiss() { m.CacheMissesTotal.Inc() }

// CacheEviction implements bufstore.CacheRecorder.
func (m *Metrics) CacheEviction() { m.CacheEvictionsTotal.Inc() }
