package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BaSui01/ruleflow/internal/metrics"
)

// Cache 嵌入向量缓存的最小接口。
// 缓存由构造 CachedProvider 的一方显式创建和持有，
// 不使用进程级全局缓存，行为可独立测试。
type Cache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, embedding []float64)
	Name() string
}

// LRUCache 大小受限的进程内 LRU 缓存
type LRUCache struct {
	cache *lru.Cache[string, []float64]
}

// NewLRUCache 创建容量为 size 的 LRU 缓存
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

func (c *LRUCache) Get(ctx context.Context, key string) ([]float64, bool) {
	return c.cache.Get(key)
}

func (c *LRUCache) Set(ctx context.Context, key string, embedding []float64) {
	c.cache.Add(key, embedding)
}

func (c *LRUCache) Name() string { return "lru" }

// Len 返回当前缓存条目数
func (c *LRUCache) Len() int { return c.cache.Len() }

// CachedProvider 在任意 Provider 之上叠加嵌入缓存。
// 键为 sha256(model | input type | text)，查询嵌入与文档嵌入分开缓存
// （部分模型对两种输入产生不同向量）。
type CachedProvider struct {
	inner   Provider
	cache   Cache
	metrics *metrics.Collector
}

// NewCachedProvider 创建带缓存的提供者；collector 可以为 nil。
func NewCachedProvider(inner Provider, cache Cache, collector *metrics.Collector) *CachedProvider {
	return &CachedProvider{inner: inner, cache: cache, metrics: collector}
}

func (p *CachedProvider) Name() string      { return p.inner.Name() }
func (p *CachedProvider) Model() string     { return p.inner.Model() }
func (p *CachedProvider) Dimensions() int   { return p.inner.Dimensions() }
func (p *CachedProvider) MaxBatchSize() int { return p.inner.MaxBatchSize() }

// Embed 逐条查缓存，仅把未命中的输入转发给底层提供者。
func (p *CachedProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	embeddings := make([]Data, len(req.Input))
	missIdx := make([]int, 0, len(req.Input))
	missInput := make([]string, 0, len(req.Input))

	for i, text := range req.Input {
		key := p.cacheKey(req.Model, req.InputType, text)
		if vec, ok := p.cache.Get(ctx, key); ok {
			p.metrics.RecordCacheHit(p.cache.Name())
			embeddings[i] = Data{Index: i, Embedding: vec}
			continue
		}
		p.metrics.RecordCacheMiss(p.cache.Name())
		missIdx = append(missIdx, i)
		missInput = append(missInput, text)
	}

	if len(missInput) > 0 {
		resp, err := p.inner.Embed(ctx, &Request{Input: missInput, Model: req.Model, InputType: req.InputType})
		if err != nil {
			return nil, err
		}
		for j, d := range resp.Embeddings {
			i := missIdx[j]
			embeddings[i] = Data{Index: i, Embedding: d.Embedding}
			p.cache.Set(ctx, p.cacheKey(req.Model, req.InputType, req.Input[i]), d.Embedding)
		}
	}

	return &Response{
		Provider:   p.inner.Name(),
		Model:      req.Model,
		Embeddings: embeddings,
	}, nil
}

// EmbedQuery 嵌入单个查询，优先命中缓存。
func (p *CachedProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 批量嵌入文档，按 MaxBatchSize 分批转发未命中部分。
func (p *CachedProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	result := make([][]float64, len(documents))
	missIdx := make([]int, 0, len(documents))
	missInput := make([]string, 0, len(documents))

	for i, text := range documents {
		key := p.cacheKey("", InputTypeDocument, text)
		if vec, ok := p.cache.Get(ctx, key); ok {
			p.metrics.RecordCacheHit(p.cache.Name())
			result[i] = vec
			continue
		}
		p.metrics.RecordCacheMiss(p.cache.Name())
		missIdx = append(missIdx, i)
		missInput = append(missInput, text)
	}

	if len(missInput) > 0 {
		vecs, err := p.inner.EmbedDocuments(ctx, missInput)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			i := missIdx[j]
			result[i] = vec
			p.cache.Set(ctx, p.cacheKey("", InputTypeDocument, documents[i]), vec)
		}
	}

	return result, nil
}

// cacheKey 的模型分量使用请求模型，缺省时回退到提供者的生效模型，
// 保证换模型后不会命中旧向量。
func (p *CachedProvider) cacheKey(model string, inputType InputType, text string) string {
	if model == "" {
		model = p.inner.Model()
	}
	if model == "" {
		model = p.inner.Name()
	}
	sum := sha256.Sum256([]byte(model + "\x00" + string(inputType) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
