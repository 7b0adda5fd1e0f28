// Package metrics 提供 RAG 服务的 Prometheus 业务指标。
//
// 每个 Metrics 实例持有独立的 Registry，不使用全局默认注册器。
// 所有记录方法对 nil 接收者安全，未启用指标的组件可以直接传 nil。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rag"

// Metrics RAG 服务指标集合
type Metrics struct {
	registry *prometheus.Registry

	// 查询指标
	QueriesTotal       *prometheus.CounterVec
	QueryErrors        prometheus.Counter
	QueryDuration      prometheus.Histogram
	RetrievalDuration  prometheus.Histogram
	GenerationDuration prometheus.Histogram

	// 索引指标
	DocumentsIndexed prometheus.Counter
	ChunksIndexed    prometheus.Counter

	// 缓存指标
	CacheEvictions prometheus.Counter

	// 任务指标
	TasksTotal   *prometheus.CounterVec
	TasksRunning prometheus.Gauge
}

// New 创建指标集合并注册到新的 Registry。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of answered queries by answer source.",
		}, []string{"source"}),
		QueryErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Total number of failed queries.",
		}),
		QueryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		RetrievalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Vector search latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Answer generation latency in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		DocumentsIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of documents added to the index.",
		}),
		ChunksIndexed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks added to the index.",
		}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache entries evicted to respect the size budget.",
		}),
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of tasks reaching a terminal state.",
		}, []string{"kind", "state"}),
		TasksRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of tasks currently executing in this process.",
		}),
	}
}

// Registry 返回指标注册器
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 的 HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordQuery 记录一次查询
func (m *Metrics) RecordQuery(source string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.QueryErrors.Inc()
		return
	}
	m.QueriesTotal.WithLabelValues(source).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

// RecordRetrieval 记录一次向量检索耗时
func (m *Metrics) RecordRetrieval(d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.Observe(d.Seconds())
}

// RecordGeneration 记录一次生成耗时
func (m *Metrics) RecordGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(d.Seconds())
}

// RecordIndexed 记录写入索引的文档与分块数
func (m *Metrics) RecordIndexed(documents, chunks int) {
	if m == nil {
		return
	}
	m.DocumentsIndexed.Add(float64(documents))
	m.ChunksIndexed.Add(float64(chunks))
}

// RecordEvictions 记录缓存淘汰数
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.Add(float64(n))
}

// TaskStarted 任务开始执行
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.TasksRunning.Inc()
}

// TaskFinished 任务进入终态
func (m *Metrics) TaskFinished(kind, state string) {
	if m == nil {
		return
	}
	m.TasksRunning.Dec()
	m.TasksTotal.WithLabelValues(kind, state).Inc()
}
