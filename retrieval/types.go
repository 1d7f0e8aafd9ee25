package retrieval

import "context"

// RuleDocument 合规规则文档
type RuleDocument struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"` // 学科/类别/引用等，检索引擎透传
}

// Source 候选来源
type Source string

const (
	SourceDense  Source = "dense"  // 向量检索
	SourceSparse Source = "sparse" // BM25 检索
)

// RankedCandidate 单路检索的候选结果。
// Score 的量纲由产生它的索引决定：稠密为余弦相似度 [-1, 1]，
// 稀疏为 BM25 分数，两者不可直接比较。
type RankedCandidate struct {
	RuleID string  `json:"rule_id"`
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

// FusedResult 融合后的最终结果
type FusedResult struct {
	RuleID     string  `json:"rule_id"`
	FusedScore float64 `json:"fused_score"` // 归一化后的加权分数 [0, 1]
	Rank       int     `json:"rank"`        // 1 起始
}

// QueryResult 一次查询的完整响应
type QueryResult struct {
	QueryID  string        `json:"query_id"`
	Results  []FusedResult `json:"results"`
	Degraded bool          `json:"degraded"` // true 表示嵌入提供者失败，结果为纯稀疏检索
}

// Embedder 是检索引擎对嵌入提供者的最小依赖。
// embedding 包的 Provider 满足该接口；测试可注入任意实现。
type Embedder interface {
	// EmbedQuery 为单条查询文本生成向量。
	EmbedQuery(ctx context.Context, text string) ([]float64, error)

	// EmbedDocuments 批量生成文档向量，顺序与输入一致。
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
}
