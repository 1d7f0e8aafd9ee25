package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/ruleflow/internal/metrics"
)

// EngineConfig 检索引擎配置
type EngineConfig struct {
	Weights Weights    `json:"weights" yaml:"weights"`
	BM25    BM25Params `json:"bm25" yaml:"bm25"`
	TopK    int        `json:"top_k" yaml:"top_k"` // Query 未显式指定 k 时的默认值
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights: DefaultWeights(),
		BM25:    DefaultBM25Params(),
		TopK:    10,
	}
}

// Validate 校验引擎配置
func (c EngineConfig) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.TopK <= 0 {
		return NewInvalidArgument(fmt.Sprintf("engine config: top_k must be positive, got %d", c.TopK))
	}
	return nil
}

// Engine 混合检索引擎。
//
// 查询路径只读；语料变更（IndexRule / RemoveRule）持有引擎级互斥锁，
// 先更新稀疏索引再更新稠密索引，失败时回滚，保证任何查询都不会观察到
// 规则只存在于单个索引的中间状态。
type Engine struct {
	config     EngineConfig
	normalizer *Normalizer
	embedder   Embedder
	dense      *DenseIndex
	sparse     *SparseIndex

	mutationMu sync.Mutex // 串行化跨索引变更

	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// NewEngine 创建检索引擎。embedder 不可为 nil；metrics 可以为 nil。
func NewEngine(config EngineConfig, normalizer *Normalizer, embedder Embedder, logger *zap.Logger, collector *metrics.Collector) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, NewInvalidArgument("engine: embedder is required")
	}
	if normalizer == nil {
		normalizer = NewNormalizer(DefaultExpansions())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		config:     config,
		normalizer: normalizer,
		embedder:   embedder,
		dense:      NewDenseIndex(logger),
		sparse:     NewSparseIndex(config.BM25, logger),
		logger:     logger.With(zap.String("component", "retrieval_engine")),
		metrics:    collector,
		tracer:     otel.Tracer("ruleflow/retrieval"),
	}, nil
}

// Query 执行一次混合检索。
//
// 稠密路径（嵌入 + 向量检索）与稀疏路径并行执行；嵌入提供者失败时
// 查询降级为纯稀疏检索并在结果上置 Degraded 标记，只有稀疏路径也
// 失败才向调用方返回错误。稠密路径的参数错误（如维度不匹配）不在
// 降级范围内，直接返回。k <= 0 视为参数错误。
func (e *Engine) Query(ctx context.Context, text string, k int) (*QueryResult, error) {
	if k <= 0 {
		return nil, NewInvalidArgument(fmt.Sprintf("query: k must be positive, got %d", k))
	}

	queryID := uuid.NewString()
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "retrieval.query", trace.WithAttributes(
		attribute.String("query_id", queryID),
		attribute.Int("k", k),
	))
	defer span.End()

	normalized := e.normalizer.Normalize(text)

	var (
		wg           sync.WaitGroup
		denseResults []RankedCandidate
		denseErr     error
		sparseResult []RankedCandidate
		sparseErr    error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		denseStart := time.Now()
		denseResults, denseErr = e.denseSearch(ctx, normalized, k)
		e.metrics.RecordSearch(string(SourceDense), time.Since(denseStart))
	}()
	go func() {
		defer wg.Done()
		sparseStart := time.Now()
		sparseResult, sparseErr = e.sparse.Search(normalized, k)
		e.metrics.RecordSearch(string(SourceSparse), time.Since(sparseStart))
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		e.metrics.RecordQuery(metrics.QueryStatusError, time.Since(start))
		return nil, err
	}

	weights := e.config.Weights
	degraded := false

	if denseErr != nil {
		// 只有嵌入提供者失败才降级；参数错误（维度不匹配等）直接透出
		if !IsCode(denseErr, ErrEmbeddingUnavailable) {
			e.metrics.RecordQuery(metrics.QueryStatusError, time.Since(start))
			return nil, denseErr
		}
		if sparseErr != nil {
			e.metrics.RecordQuery(metrics.QueryStatusError, time.Since(start))
			e.logger.Error("both retrieval paths failed",
				zap.String("query_id", queryID),
				zap.NamedError("dense_error", denseErr),
				zap.NamedError("sparse_error", sparseErr))
			return nil, sparseErr
		}

		// 固定降级，不做内部重试：本次查询按纯稀疏权重融合
		degraded = true
		weights = Weights{Dense: 0.0, Sparse: 1.0}
		denseResults = nil
		e.logger.Warn("dense path unavailable, degrading to sparse-only retrieval",
			zap.String("query_id", queryID),
			zap.Error(denseErr))
	} else if sparseErr != nil {
		e.metrics.RecordQuery(metrics.QueryStatusError, time.Since(start))
		return nil, sparseErr
	}

	e.metrics.RecordFusedCandidates(len(denseResults) + len(sparseResult))

	fused, err := Fuse(denseResults, sparseResult, weights, k)
	if err != nil {
		e.metrics.RecordQuery(metrics.QueryStatusError, time.Since(start))
		return nil, err
	}

	status := metrics.QueryStatusOK
	if degraded {
		status = metrics.QueryStatusDegraded
	}
	e.metrics.RecordQuery(status, time.Since(start))
	span.SetAttributes(
		attribute.Bool("degraded", degraded),
		attribute.Int("results", len(fused)),
	)

	e.logger.Debug("query completed",
		zap.String("query_id", queryID),
		zap.Int("results", len(fused)),
		zap.Bool("degraded", degraded),
		zap.Duration("duration", time.Since(start)))

	return &QueryResult{
		QueryID:  queryID,
		Results:  fused,
		Degraded: degraded,
	}, nil
}

// denseSearch 嵌入查询文本并检索稠密索引。
// 提供者的任何失败都归类为 ErrEmbeddingUnavailable，交由调用方降级。
func (e *Engine) denseSearch(ctx context.Context, normalized string, k int) ([]RankedCandidate, error) {
	embedding, err := e.embedder.EmbedQuery(ctx, normalized)
	if err != nil {
		if IsCode(err, ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, NewEmbeddingUnavailable("embed query: "+err.Error(), err)
	}
	return e.dense.Search(embedding, k)
}

// IndexRule 将规则写入两个索引。
//
// 嵌入在任何索引变更之前完成，嵌入失败不留下任何痕迹；稀疏索引先
// 更新，稠密索引更新失败时恢复稀疏索引的先前状态，语料保持变更前
// 的一致状态。规则文本走文档嵌入路径，与批量重建（IndexRules）
// 产出一致的向量。
func (e *Engine) IndexRule(ctx context.Context, doc RuleDocument) error {
	if doc.ID == "" {
		return NewInvalidArgument("index rule: empty rule id")
	}

	normalized := e.normalizer.Normalize(doc.Text)

	embeddings, err := e.embedder.EmbedDocuments(ctx, []string{normalized})
	if err != nil {
		if IsCode(err, ErrEmbeddingUnavailable) {
			return err
		}
		return NewEmbeddingUnavailable("embed rule "+doc.ID+": "+err.Error(), err)
	}
	if len(embeddings) != 1 {
		return NewEmbeddingUnavailable(fmt.Sprintf("embed rule %s: got %d embeddings for 1 document", doc.ID, len(embeddings)), nil)
	}

	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()

	return e.indexLocked(doc.ID, normalized, embeddings[0])
}

// IndexRules 批量索引，启动时语料重建的优化路径（单次批量嵌入调用）。
// 任一规则嵌入失败则整批不落地。
func (e *Engine) IndexRules(ctx context.Context, docs []RuleDocument) error {
	if len(docs) == 0 {
		return nil
	}

	normalized := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return NewInvalidArgument(fmt.Sprintf("index rules: empty rule id at position %d", i))
		}
		normalized[i] = e.normalizer.Normalize(doc.Text)
	}

	embeddings, err := e.embedder.EmbedDocuments(ctx, normalized)
	if err != nil {
		if IsCode(err, ErrEmbeddingUnavailable) {
			return err
		}
		return NewEmbeddingUnavailable("embed rules batch: "+err.Error(), err)
	}
	if len(embeddings) != len(docs) {
		return NewEmbeddingUnavailable(fmt.Sprintf("embed rules batch: got %d embeddings for %d documents", len(embeddings), len(docs)), nil)
	}

	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()

	for i, doc := range docs {
		if err := e.indexLocked(doc.ID, normalized[i], embeddings[i]); err != nil {
			return err
		}
	}
	return nil
}

// indexLocked 在持有变更锁的前提下更新两个索引，稠密失败回滚稀疏。
func (e *Engine) indexLocked(id, normalizedText string, embedding []float64) error {
	prevText, hadPrev := e.sparse.Text(id)

	if err := e.sparse.Insert(id, normalizedText); err != nil {
		return err
	}

	if err := e.dense.Insert(id, embedding); err != nil {
		// 回滚稀疏索引到变更前状态
		if hadPrev {
			if rbErr := e.sparse.Insert(id, prevText); rbErr != nil {
				e.logger.Error("sparse rollback failed", zap.String("rule_id", id), zap.Error(rbErr))
				return NewIndexCorruption("rollback of sparse index failed for rule " + id)
			}
		} else {
			e.sparse.Delete(id)
		}
		return err
	}

	if err := e.syncCheckLocked(); err != nil {
		return err
	}

	e.metrics.RecordMutation("index")
	e.metrics.SetCorpusRules(e.sparse.Len())
	return nil
}

// RemoveRule 从两个索引删除规则；不存在时为空操作（删除幂等）。
func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	if id == "" {
		return NewInvalidArgument("remove rule: empty rule id")
	}

	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()

	e.sparse.Delete(id)
	e.dense.Delete(id)

	if err := e.syncCheckLocked(); err != nil {
		return err
	}

	e.metrics.RecordMutation("remove")
	e.metrics.SetCorpusRules(e.sparse.Len())
	return nil
}

// SyncCheck 校验两个索引的规则 ID 集合一致。
// 不一致意味着变更顺序约束被破坏，返回不可恢复的 ErrIndexCorruption。
func (e *Engine) SyncCheck() error {
	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()
	return e.syncCheckLocked()
}

func (e *Engine) syncCheckLocked() error {
	denseIDs := e.dense.IDs()
	sparseIDs := e.sparse.IDs()

	if len(denseIDs) != len(sparseIDs) {
		return NewIndexCorruption(fmt.Sprintf("index sync violated: dense has %d rules, sparse has %d", len(denseIDs), len(sparseIDs)))
	}
	for id := range denseIDs {
		if _, ok := sparseIDs[id]; !ok {
			return NewIndexCorruption("index sync violated: rule " + id + " present in dense index only")
		}
	}
	return nil
}

// Len 返回已索引规则数量
func (e *Engine) Len() int {
	return e.sparse.Len()
}

// Normalizer 返回引擎使用的归一化器
func (e *Engine) Normalizer() *Normalizer {
	return e.normalizer
}
