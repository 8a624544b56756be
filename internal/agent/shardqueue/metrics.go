package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func shardVec[T any](name, help string, mk func(prometheus.Opts, []string) T) T {
	return mk(prometheus.Opts{Namespace: "tabwarden", Subsystem: "shardqueue", Name: name, Help: help}, []string{"shard"})
}

func counterVec(o prometheus.Opts, l []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts(o), l)
}

var (
	submittedVec = shardVec("submissions_total", "Jobs accepted for execution.", counterVec)
	fullVec      = shardVec("queue_full_total", "Enqueue attempts that timed out on a full shard.", counterVec)
	failedVec    = shardVec("failures_total", "Jobs that gave up after their last attempt.", counterVec)
	retriedVec   = shardVec("retries_total", "Attempts after the first.", counterVec)
	depthVec     = shardVec("queue_depth", "Jobs waiting per shard.", func(o prometheus.Opts, l []string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts(o), l)
	})
	runVec = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tabwarden",
		Subsystem: "shardqueue",
		Name:      "run_duration_seconds",
		Help:      "Job attempt latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"shard"})
)

// shardMetrics holds one shard's children so the hot path skips label lookups.
// depth is only written by the worker that owns the shard.
type shardMetrics struct {
	submitted prometheus.Counter
	full      prometheus.Counter
	failed    prometheus.Counter
	retried   prometheus.Counter
	depth     prometheus.Gauge
	run       prometheus.Observer
}

func metricsFor(shard int) shardMetrics {
	l := strconv.Itoa(shard)
	return shardMetrics{
		submitted: submittedVec.WithLabelValues(l),
		full:      fullVec.WithLabelValues(l),
		failed:    failedVec.WithLabelValues(l),
		retried:   retriedVec.WithLabelValues(l),
		depth:     depthVec.WithLabelValues(l),
		run:       runVec.WithLabelValues(l),
	}
}
