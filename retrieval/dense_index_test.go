package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDenseIndex_SearchRanksByCosineSimilarity(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{1, 0}))
	require.NoError(t, idx.Insert("r2", []float64{0, 1}))
	require.NoError(t, idx.Insert("r3", []float64{0.9, 0.1}))

	results, err := idx.Search([]float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "r1", results[0].RuleID)
	assert.Equal(t, "r3", results[1].RuleID)
	assert.Equal(t, "r2", results[2].RuleID)

	for _, r := range results {
		assert.Equal(t, SourceDense, r.Source)
		assert.GreaterOrEqual(t, r.Score, -1.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestDenseIndex_TieBreakByAscendingID(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	// 三个相同向量，相似度完全相等
	require.NoError(t, idx.Insert("r3", []float64{1, 1}))
	require.NoError(t, idx.Insert("r1", []float64{1, 1}))
	require.NoError(t, idx.Insert("r2", []float64{1, 1}))

	results, err := idx.Search([]float64{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "r1", results[0].RuleID)
	assert.Equal(t, "r2", results[1].RuleID)
	assert.Equal(t, "r3", results[2].RuleID)
}

func TestDenseIndex_EmptyIndexReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	results, err := idx.Search([]float64{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDenseIndex_InvalidK(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{1, 0}))

	for _, k := range []int{0, -1} {
		_, err := idx.Search([]float64{1, 0}, k)
		require.Error(t, err)
		assert.Equal(t, ErrInvalidArgument, CodeOf(err))
	}
}

func TestDenseIndex_DimensionMismatch(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{1, 0, 0}))

	err := idx.Insert("r2", []float64{1, 0})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidArgument, CodeOf(err))

	_, err = idx.Search([]float64{1, 0}, 1)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidArgument, CodeOf(err))
}

func TestDenseIndex_InsertReplacesVector(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{0, 1}))
	require.NoError(t, idx.Insert("r1", []float64{1, 0}))

	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search([]float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestDenseIndex_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{1, 0}))

	idx.Delete("r1")
	idx.Delete("r1")
	idx.Delete("never-existed")

	assert.Equal(t, 0, idx.Len())
}

func TestDenseIndex_ScoresNotClamped(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	// 反向向量，余弦相似度为 -1
	require.NoError(t, idx.Insert("opposite", []float64{-1, 0}))

	results, err := idx.Search([]float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, -1.0, results[0].Score, 1e-9)
}

func TestDenseIndex_KLargerThanIndex(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{1, 0}))

	results, err := idx.Search([]float64{1, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDenseIndex_VectorReturnsCopy(t *testing.T) {
	t.Parallel()

	idx := NewDenseIndex(zap.NewNop())
	require.NoError(t, idx.Insert("r1", []float64{1, 0}))

	vec, ok := idx.Vector("r1")
	require.True(t, ok)
	vec[0] = 99 // 副本可变，索引内容不受影响

	again, ok := idx.Vector("r1")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0}, again)

	_, ok = idx.Vector("missing")
	assert.False(t, ok)
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0.0},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
