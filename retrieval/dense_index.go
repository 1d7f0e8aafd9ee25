package retrieval

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DenseIndex 精确余弦相似度向量索引。
//
// 语料规模为数百到数千条规则，暴力扫描的延迟远低于一次嵌入调用，
// 因此不引入近似索引。分数为原始余弦相似度 [-1, 1]，不截断不重排。
type DenseIndex struct {
	vectors map[string][]float64
	dim     int // 首次插入时固定
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewDenseIndex 创建空的稠密索引
func NewDenseIndex(logger *zap.Logger) *DenseIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DenseIndex{
		vectors: make(map[string][]float64),
		logger:  logger,
	}
}

// Insert 添加或替换向量。索引的维度由首个向量确定，后续维度不一致视为参数错误。
func (idx *DenseIndex) Insert(id string, embedding []float64) error {
	if id == "" {
		return NewInvalidArgument("dense insert: empty rule id")
	}
	if len(embedding) == 0 {
		return NewInvalidArgument("dense insert: empty embedding for rule " + id)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dim == 0 {
		idx.dim = len(embedding)
	} else if len(embedding) != idx.dim {
		return NewInvalidArgument(fmt.Sprintf("dense insert: embedding dimension %d does not match index dimension %d", len(embedding), idx.dim))
	}

	vec := make([]float64, len(embedding))
	copy(vec, embedding)
	idx.vectors[id] = vec

	return nil
}

// Delete 删除向量；不存在时为空操作。
func (idx *DenseIndex) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.vectors, id)
	if len(idx.vectors) == 0 {
		idx.dim = 0
	}
}

// Search 返回按余弦相似度降序的前 k 个候选，分数相同按规则 ID 升序。
// 空索引返回空切片。
func (idx *DenseIndex) Search(queryEmbedding []float64, k int) ([]RankedCandidate, error) {
	if k <= 0 {
		return nil, NewInvalidArgument(fmt.Sprintf("dense search: k must be positive, got %d", k))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vectors) == 0 {
		return []RankedCandidate{}, nil
	}
	if len(queryEmbedding) != idx.dim {
		return nil, NewInvalidArgument(fmt.Sprintf("dense search: query dimension %d does not match index dimension %d", len(queryEmbedding), idx.dim))
	}

	candidates := make([]RankedCandidate, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		candidates = append(candidates, RankedCandidate{
			RuleID: id,
			Score:  cosineSimilarity(queryEmbedding, vec),
			Source: SourceDense,
		})
	}

	sortCandidates(candidates)

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// Vector 返回指定规则的向量副本，用于变更回滚。
func (idx *DenseIndex) Vector(id string) ([]float64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	vec, ok := idx.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(vec))
	copy(out, vec)
	return out, true
}

// IDs 返回当前索引的全部规则 ID 集合
func (idx *DenseIndex) IDs() map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make(map[string]struct{}, len(idx.vectors))
	for id := range idx.vectors {
		ids[id] = struct{}{}
	}
	return ids
}

// Len 返回索引的文档数量
func (idx *DenseIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// cosineSimilarity 计算余弦相似度；任一向量为零向量时返回 0。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortCandidates 按分数降序排序，分数相同按规则 ID 升序保证确定性。
func sortCandidates(candidates []RankedCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].RuleID < candidates[j].RuleID
	})
}
