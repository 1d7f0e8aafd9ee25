// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// 查询状态标签
const (
	QueryStatusOK       = "ok"
	QueryStatusDegraded = "degraded"
	QueryStatusError    = "error"
)

// Collector 指标收集器。所有方法对 nil 接收者安全，
// 未接入监控的调用方可以直接传 nil。
type Collector struct {
	// 查询指标
	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram

	// 单路检索指标
	searchDuration  *prometheus.HistogramVec
	fusedCandidates prometheus.Histogram

	// 嵌入缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 语料指标
	corpusRules    prometheus.Gauge
	mutationsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of retrieval queries",
		},
		[]string{"status"},
	)

	c.queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end retrieval query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	c.searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Per-source search duration in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"source"},
	)

	c.fusedCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fused_candidates",
			Help:      "Number of candidates entering fusion per query",
			Buckets:   prometheus.LinearBuckets(0, 10, 10),
		},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Total number of embedding cache hits",
		},
		[]string{"cache"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_misses_total",
			Help:      "Total number of embedding cache misses",
		},
		[]string{"cache"},
	)

	c.corpusRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_rules",
			Help:      "Number of rules currently indexed",
		},
	)

	c.mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corpus_mutations_total",
			Help:      "Total number of corpus mutations",
		},
		[]string{"op"},
	)

	return c
}

// RecordQuery 记录一次查询的状态与耗时
func (c *Collector) RecordQuery(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.queriesTotal.WithLabelValues(status).Inc()
	c.queryDuration.Observe(duration.Seconds())
}

// RecordSearch 记录单路检索耗时
func (c *Collector) RecordSearch(source string, duration time.Duration) {
	if c == nil {
		return
	}
	c.searchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordFusedCandidates 记录进入融合层的候选数量
func (c *Collector) RecordFusedCandidates(n int) {
	if c == nil {
		return
	}
	c.fusedCandidates.Observe(float64(n))
}

// RecordCacheHit 记录嵌入缓存命中
func (c *Collector) RecordCacheHit(cache string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录嵌入缓存未命中
func (c *Collector) RecordCacheMiss(cache string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// SetCorpusRules 更新已索引规则数量
func (c *Collector) SetCorpusRules(n int) {
	if c == nil {
		return
	}
	c.corpusRules.Set(float64(n))
}

// RecordMutation 记录语料变更操作
func (c *Collector) RecordMutation(op string) {
	if c == nil {
		return
	}
	c.mutationsTotal.WithLabelValues(op).Inc()
}
