// Package metrics exposes Prometheus collectors for the store and queues.
// It implements both the storage MetricsHook and the queue MetricsHook so a
// single Metrics value wires the whole process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	storageReadSeconds   prometheus.Histogram
	storageCommitSeconds prometheus.Histogram
	storageCommitBytes   prometheus.Histogram

	enqueuedTotal     *prometheus.CounterVec
	replayedTotal     *prometheus.CounterVec
	replayFailedTotal *prometheus.CounterVec
	expiredTotal      *prometheus.CounterVec
}

// New builds and registers the collectors. A nil registerer uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		storageReadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workbox_storage_read_seconds",
			Help:    "Latency of storage point reads",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		storageCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workbox_storage_commit_seconds",
			Help:    "Latency of storage batch commits",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		storageCommitBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workbox_storage_commit_bytes",
			Help:    "Size of committed storage batches",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbox_enqueued_total",
			Help: "Requests added to a queue",
		}, []string{"queue"}),
		replayedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbox_replayed_total",
			Help: "Requests successfully replayed",
		}, []string{"queue"}),
		replayFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbox_replay_failed_total",
			Help: "Replay drains halted by a failed fetch",
		}, []string{"queue"}),
		expiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workbox_expired_total",
			Help: "Entries dropped by the retention policy",
		}, []string{"queue"}),
	}
	reg.MustRegister(
		m.storageReadSeconds,
		m.storageCommitSeconds,
		m.storageCommitBytes,
		m.enqueuedTotal,
		m.replayedTotal,
		m.replayFailedTotal,
		m.expiredTotal,
	)
	return m
}

// ObserveRead implements the storage MetricsHook.
func (m *Metrics) ObserveRead(elapsed time.Duration, _ int) {
	m.storageReadSeconds.Observe(elapsed.Seconds())
}

// ObserveBatchCommit implements the storage MetricsHook.
func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	m.storageCommitSeconds.Observe(elapsed.Seconds())
	m.storageCommitBytes.Observe(float64(bytes))
}

// IncEnqueued implements the queue MetricsHook.
func (m *Metrics) IncEnqueued(queue string) { m.enqueuedTotal.WithLabelValues(queue).Inc() }

// IncReplayed implements the queue MetricsHook.
func (m *Metrics) IncReplayed(queue string) { m.replayedTotal.WithLabelValues(queue).Inc() }

// IncReplayFailed implements the queue MetricsHook.
func (m *Metrics) IncReplayFailed(queue string) { m.replayFailedTotal.WithLabelValues(queue).Inc() }

// IncExpired implements the queue MetricsHook.
func (m *Metrics) IncExpired(queue string) { m.expiredTotal.WithLabelValues(queue).Inc() }
