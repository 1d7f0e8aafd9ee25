package retrieval

import (
	"fmt"
	"math"
	"sort"
)

// weightTolerance 权重之和与 1.0 允许的浮点误差
const weightTolerance = 1e-6

// Weights 融合权重对，两项之和必须为 1.0。
type Weights struct {
	Dense  float64 `json:"dense" yaml:"dense"`
	Sparse float64 `json:"sparse" yaml:"sparse"`
}

// DefaultWeights 返回均衡的默认权重
func DefaultWeights() Weights {
	return Weights{Dense: 0.5, Sparse: 0.5}
}

// Validate 校验权重合法性
func (w Weights) Validate() error {
	if w.Dense < 0 || w.Sparse < 0 {
		return NewInvalidArgument(fmt.Sprintf("fusion weights must be non-negative, got dense=%v sparse=%v", w.Dense, w.Sparse))
	}
	if math.Abs(w.Dense+w.Sparse-1.0) > weightTolerance {
		return NewInvalidArgument(fmt.Sprintf("fusion weights must sum to 1.0, got dense=%v sparse=%v", w.Dense, w.Sparse))
	}
	return nil
}

// Fuse 将稠密与稀疏两路候选融合为一个排名列表。
//
// 余弦相似度与 BM25 分数量纲不同，直接加权会让一路纯因数值尺度压过
// 另一路。因此每路先在本次查询返回的候选内做 Min-Max 归一化到 [0, 1]
// （单个候选或分数全等时记 1.0，避免除零），再按权重线性混合；
// 只出现在一路的规则，另一路计 0 分。最终按融合分数降序、
// 规则 ID 升序排序并截断到 k。
func Fuse(dense, sparse []RankedCandidate, weights Weights, k int) ([]FusedResult, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, NewInvalidArgument(fmt.Sprintf("fuse: k must be positive, got %d", k))
	}

	denseNorm := normalizeScores(dense)
	sparseNorm := normalizeScores(sparse)

	allIDs := make(map[string]struct{}, len(denseNorm)+len(sparseNorm))
	for id := range denseNorm {
		allIDs[id] = struct{}{}
	}
	for id := range sparseNorm {
		allIDs[id] = struct{}{}
	}

	fused := make([]FusedResult, 0, len(allIDs))
	for id := range allIDs {
		score := weights.Dense*denseNorm[id] + weights.Sparse*sparseNorm[id]
		fused = append(fused, FusedResult{RuleID: id, FusedScore: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].RuleID < fused[j].RuleID
	})

	if k > len(fused) {
		k = len(fused)
	}
	fused = fused[:k]

	for i := range fused {
		fused[i].Rank = i + 1
	}

	return fused, nil
}

// normalizeScores 对单路候选做 Min-Max 归一化。
func normalizeScores(candidates []RankedCandidate) map[string]float64 {
	normalized := make(map[string]float64, len(candidates))
	if len(candidates) == 0 {
		return normalized
	}

	minScore := math.MaxFloat64
	maxScore := -math.MaxFloat64
	for _, c := range candidates {
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	scoreRange := maxScore - minScore
	if scoreRange == 0 {
		// 单个候选或分数全等
		for _, c := range candidates {
			normalized[c.RuleID] = 1.0
		}
		return normalized
	}

	for _, c := range candidates {
		normalized[c.RuleID] = (c.Score - minScore) / scoreRange
	}
	return normalized
}
