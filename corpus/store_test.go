package corpus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ruleflow/retrieval"
)

// recordingIndexer 记录索引调用的假实现，可注入失败。
type recordingIndexer struct {
	indexed  map[string]string
	failNext error
	batches  int
}

func newRecordingIndexer() *recordingIndexer {
	return &recordingIndexer{indexed: make(map[string]string)}
}

func (r *recordingIndexer) IndexRule(_ context.Context, doc retrieval.RuleDocument) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.indexed[doc.ID] = doc.Text
	return nil
}

func (r *recordingIndexer) IndexRules(ctx context.Context, docs []retrieval.RuleDocument) error {
	r.batches++
	for _, doc := range docs {
		if err := r.IndexRule(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (r *recordingIndexer) RemoveRule(_ context.Context, id string) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	delete(r.indexed, id)
	return nil
}

func newTestStore(t *testing.T) (*Store, *recordingIndexer) {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)

	indexer := newRecordingIndexer()
	return NewStore(db, indexer, zap.NewNop(), nil), indexer
}

func TestStore_AddOrUpdateAndGet(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	doc := retrieval.RuleDocument{
		ID:       "R1",
		Text:     "Documentation must include frequency of treatment",
		Metadata: map[string]string{"category": "documentation", "severity": "high"},
	}
	require.NoError(t, store.AddOrUpdate(ctx, doc))

	got, err := store.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
	assert.Equal(t, doc.Text, indexer.indexed["R1"])

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_AddOrUpdateReplacesExisting(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "old text"}))
	require.NoError(t, store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "new text"}))

	got, err := store.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "new text", got.Text)
	assert.Equal(t, "new text", indexer.indexed["R1"])

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_UnchangedContentSkipsReindex(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	doc := retrieval.RuleDocument{ID: "R1", Text: "same text", Metadata: map[string]string{"a": "b"}}
	require.NoError(t, store.AddOrUpdate(ctx, doc))

	// 第二次调用不应触达索引器
	indexer.failNext = errors.New("indexer must not be called")
	require.NoError(t, store.AddOrUpdate(ctx, doc))

	// failNext 未被消费
	assert.Error(t, indexer.failNext)
}

func TestStore_AddRollsBackOnIndexFailure(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	indexer.failNext = retrieval.NewEmbeddingUnavailable("provider down", nil)
	err := store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "text"})
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrEmbeddingUnavailable, retrieval.CodeOf(err))

	// 新行必须回滚
	_, err = store.Get(ctx, "R1")
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrNotFound, retrieval.CodeOf(err))
}

func TestStore_UpdateRollsBackToPreviousOnIndexFailure(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "original"}))

	indexer.failNext = retrieval.NewEmbeddingUnavailable("provider down", nil)
	err := store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "updated"})
	require.Error(t, err)

	got, err := store.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Text)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "text"}))
	require.NoError(t, store.Remove(ctx, "R1"))
	require.NoError(t, store.Remove(ctx, "R1"))
	require.NoError(t, store.Remove(ctx, "never-existed"))

	_, ok := indexer.indexed["R1"]
	assert.False(t, ok)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestStore_RemoveRollsBackOnIndexFailure(t *testing.T) {
	t.Parallel()

	store, indexer := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "R1", Text: "text"}))

	indexer.failNext = errors.New("index remove failed")
	require.Error(t, store.Remove(ctx, "R1"))

	// 语料行恢复
	got, err := store.Get(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "text", got.Text)
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrNotFound, retrieval.CodeOf(err))
}

func TestStore_EmptyIDRejected(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: "", Text: "text"})
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrInvalidArgument, retrieval.CodeOf(err))

	err = store.Remove(ctx, "")
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrInvalidArgument, retrieval.CodeOf(err))
}

func TestStore_LoadAllRebuildsIndexesInBatches(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	total := loadBatchSize + 10
	for i := 0; i < total; i++ {
		doc := retrieval.RuleDocument{
			ID:   fmt.Sprintf("R%04d", i),
			Text: fmt.Sprintf("rule text %d", i),
		}
		require.NoError(t, store.AddOrUpdate(ctx, doc))
	}

	// 模拟冷启动：清空索引器再重建
	fresh := newRecordingIndexer()
	rebuilt := NewStore(store.db, fresh, zap.NewNop(), nil)

	loaded, err := rebuilt.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, loaded)
	assert.Len(t, fresh.indexed, total)
	assert.Equal(t, 2, fresh.batches)
}

func TestStore_MetadataRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		metadata map[string]string
	}{
		{"nil metadata", nil},
		{"empty metadata", map[string]string{}},
		{"populated", map[string]string{"category": "goals", "jurisdiction": "medicare"}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := fmt.Sprintf("meta-%d", i)
			require.NoError(t, store.AddOrUpdate(ctx, retrieval.RuleDocument{ID: id, Text: "t", Metadata: tt.metadata}))

			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			if len(tt.metadata) == 0 {
				assert.Nil(t, got.Metadata)
			} else {
				assert.Equal(t, tt.metadata, got.Metadata)
			}
		})
	}
}
