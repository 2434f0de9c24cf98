// Package metrics provides Prometheus metrics for the tick gap pipeline
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tickgap"

var (
	// 接收端
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Messages read from the data channel",
	}, []string{"topic"})
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_processed_total",
		Help:      "Messages classified successfully",
	}, []string{"topic"})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_errors_total",
		Help:      "Malformed messages dropped",
	}, []string{"topic"})
	GapsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gaps_classified_total",
		Help:      "Price gaps by kind",
	}, []string{"topic", "kind"})
	SequenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequence_events_total",
		Help:      "Sequence anomalies (lost, duplicate, reset)",
	}, []string{"topic", "verdict"})
	MessagesLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_lost_total",
		Help:      "Messages missing according to seq_num",
	}, []string{"topic"})
	LateMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "late_merged_total",
		Help:      "Late increments merged into persisted rows",
	}, []string{"topic"})
	LateDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "late_dropped_total",
		Help:      "Late increments beyond the lateness window",
	}, []string{"topic"})
	SymbolEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "symbol_evictions_total",
		Help:      "Symbols evicted from the bounded symbol table",
	}, []string{"topic"})
	OpenBuckets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_buckets",
		Help:      "Minute buckets currently open",
	}, []string{"topic"})

	// 存储
	BucketsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buckets_flushed_total",
		Help:      "Deltas written to the store",
	}, []string{"lane"})
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_errors_total",
		Help:      "Failed store operations",
	}, []string{"lane", "op"})
	StoragePending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "storage_pending",
		Help:      "Deltas parked for retry",
	}, []string{"lane"})
	FlushLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_latency_seconds",
		Help:      "Upsert latency including retries",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"lane"})

	// 传输
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Data channel reconnect attempts",
	})
	SessionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_up",
		Help:      "1 when the data channel is connected",
	})

	// 确认协议
	ConfirmAcks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirm_acks_total",
		Help:      "Confirmation requests acknowledged",
	})
	ConfirmTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirm_timeouts_total",
		Help:      "Confirmation waits that timed out",
	})
	ConfirmErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirm_errors_total",
		Help:      "Confirmation channel errors",
	})

	// 压测发布端
	SimPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sim_published_total",
		Help:      "Messages published by the load generator",
	}, []string{"topic"})
	SimDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sim_dropped_total",
		Help:      "Messages dropped for slow subscribers",
	})
	SimConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sim_confirmed_total",
		Help:      "Acknowledgements received by the load generator",
	})
)

// ObserveGap 记录一次分类结果。
func ObserveGap(topic, kind string) {
	GapsClassified.WithLabelValues(topic, kind).Inc()
	MessagesProcessed.WithLabelValues(topic).Inc()
}

// ObserveSequence 记录序号异常，lost>0 时累加丢失条数。
func ObserveSequence(topic, verdict string, lost int64) {
	SequenceEvents.WithLabelValues(topic, verdict).Inc()
	if lost > 0 {
		MessagesLost.WithLabelValues(topic).Add(float64(lost))
	}
}

// ObserveFlush 记录一次写入结果。
func ObserveFlush(lane string, start time.Time, err error) {
	FlushLatency.WithLabelValues(lane).Observe(time.Since(start).Seconds())
	if err != nil {
		StorageErrors.WithLabelValues(lane, "upsert").Inc()
		return
	}
	BucketsFlushed.WithLabelValues(lane).Inc()
}

// Handler 暴露 /metrics 的路由。
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartMetricsServer 启动Prometheus指标服务器，返回的 server 由调用方关闭
func StartMetricsServer(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
