package retrieval

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// BM25Params BM25 打分参数
type BM25Params struct {
	K1 float64 `json:"k1" yaml:"k1"` // 词频饱和度（1.2-2.0）
	B  float64 `json:"b" yaml:"b"`   // 文档长度归一化强度
}

// DefaultBM25Params 返回标准 BM25 默认参数
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.2, B: 0.75}
}

// SparseIndex 增量维护的 BM25 词法索引。
//
// 与一次性构建统计量的做法不同，Insert/Delete 实时维护倒排表、
// 文档频率表和长度统计，语料的规则级增删无需全量重建。
type SparseIndex struct {
	params BM25Params

	postings map[string]map[string]int // term -> rule id -> tf
	docTerms map[string]map[string]int // rule id -> term -> tf（删除时反向注销）
	docText  map[string]string         // rule id -> 归一化原文（变更回滚用）
	docLen   map[string]int
	totalLen int

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewSparseIndex 创建空的稀疏索引
func NewSparseIndex(params BM25Params, logger *zap.Logger) *SparseIndex {
	if params.K1 <= 0 {
		params.K1 = DefaultBM25Params().K1
	}
	if params.B < 0 || params.B > 1 {
		params.B = DefaultBM25Params().B
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SparseIndex{
		params:   params,
		postings: make(map[string]map[string]int),
		docTerms: make(map[string]map[string]int),
		docText:  make(map[string]string),
		docLen:   make(map[string]int),
		logger:   logger,
	}
}

// Insert 分词并索引文档；同 ID 重复插入等价于删除后重建。
func (idx *SparseIndex) Insert(id, text string) error {
	if id == "" {
		return NewInvalidArgument("sparse insert: empty rule id")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docTerms[id]; exists {
		idx.removeLocked(id)
	}

	terms := Tokenize(text)
	tf := make(map[string]int, len(terms))
	for _, term := range terms {
		tf[term]++
	}

	for term, count := range tf {
		posting, ok := idx.postings[term]
		if !ok {
			posting = make(map[string]int)
			idx.postings[term] = posting
		}
		posting[id] = count
	}

	idx.docTerms[id] = tf
	idx.docText[id] = text
	idx.docLen[id] = len(terms)
	idx.totalLen += len(terms)

	return nil
}

// Delete 注销文档对词频/文档频率统计的全部贡献；不存在时为空操作。
func (idx *SparseIndex) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *SparseIndex) removeLocked(id string) {
	tf, exists := idx.docTerms[id]
	if !exists {
		return
	}

	for term := range tf {
		posting := idx.postings[term]
		delete(posting, id)
		if len(posting) == 0 {
			delete(idx.postings, term)
		}
	}

	idx.totalLen -= idx.docLen[id]
	delete(idx.docTerms, id)
	delete(idx.docText, id)
	delete(idx.docLen, id)
}

// Search 返回按 BM25 分数降序的前 k 个候选，分数相同按规则 ID 升序。
// 查询与任何文档无共同词项时返回空切片，而不是把全部零分文档灌给融合层。
func (idx *SparseIndex) Search(query string, k int) ([]RankedCandidate, error) {
	if k <= 0 {
		return nil, NewInvalidArgument(fmt.Sprintf("sparse search: k must be positive, got %d", k))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docLen)
	if n == 0 {
		return []RankedCandidate{}, nil
	}

	avgDocLen := float64(idx.totalLen) / float64(n)
	scores := make(map[string]float64)

	for _, term := range Tokenize(query) {
		posting, ok := idx.postings[term]
		if !ok {
			continue
		}

		df := float64(len(posting))
		idf := math.Log((float64(n)-df+0.5)/(df+0.5) + 1.0)

		for id, tf := range posting {
			docLen := float64(idx.docLen[id])
			numerator := float64(tf) * (idx.params.K1 + 1.0)
			denominator := float64(tf) + idx.params.K1*(1.0-idx.params.B+idx.params.B*(docLen/avgDocLen))
			scores[id] += idf * (numerator / denominator)
		}
	}

	if len(scores) == 0 {
		return []RankedCandidate{}, nil
	}

	candidates := make([]RankedCandidate, 0, len(scores))
	for id, score := range scores {
		candidates = append(candidates, RankedCandidate{
			RuleID: id,
			Score:  score,
			Source: SourceSparse,
		})
	}

	sortCandidates(candidates)

	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// Text 返回指定规则索引时的文本，用于变更回滚。
func (idx *SparseIndex) Text(id string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	text, ok := idx.docText[id]
	return text, ok
}

// IDs 返回当前索引的全部规则 ID 集合
func (idx *SparseIndex) IDs() map[string]struct{} {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make(map[string]struct{}, len(idx.docTerms))
	for id := range idx.docTerms {
		ids[id] = struct{}{}
	}
	return ids
}

// Len 返回索引的文档数量
func (idx *SparseIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docTerms)
}

// Tokenize 小写化并按非字母数字字符切分。
// 文档与查询共用同一分词器，保证打分两侧看到一致的词项。
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
