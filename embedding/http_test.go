package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ruleflow/retrieval"
)

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// newEmbeddingsServer 返回 OpenAI 兼容的 /embeddings 假服务，
// 每个输入回一个以其在本次请求中序号为首分量的 3 维向量。
func newEmbeddingsServer(t *testing.T, requestCount *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestCount != nil {
			requestCount.Add(1)
		}
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type data struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		resp := struct {
			Data  []data `json:"data"`
			Model string `json:"model"`
		}{Model: req.Model}
		for i := range req.Input {
			resp.Data = append(resp.Data, data{Index: i, Embedding: []float64{float64(i), 1, 2}})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestHTTPProvider_Embed(t *testing.T) {
	t.Parallel()

	server := newEmbeddingsServer(t, nil)
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{
		BaseURL: server.URL,
		Model:   "test-model",
	}, zap.NewNop())

	resp, err := provider.Embed(context.Background(), &Request{
		Input:     []string{"first rule", "second rule"},
		InputType: InputTypeDocument,
	})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float64{0, 1, 2}, resp.Embeddings[0].Embedding)
	assert.Equal(t, []float64{1, 1, 2}, resp.Embeddings[1].Embedding)
	assert.Equal(t, "test-model", resp.Model)
}

func TestHTTPProvider_EmbedQuery(t *testing.T) {
	t.Parallel()

	server := newEmbeddingsServer(t, nil)
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, Model: "m"}, zap.NewNop())

	vec, err := provider.EmbedQuery(context.Background(), "plan of care lacks frequency")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, vec)
}

func TestHTTPProvider_EmbedDocumentsChunksAndPreservesOrder(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	server := newEmbeddingsServer(t, &requests)
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{
		BaseURL:  server.URL,
		Model:    "m",
		MaxBatch: 2,
	}, zap.NewNop())

	docs := []string{"a", "b", "c", "d", "e"}
	vecs, err := provider.EmbedDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// 5 个文档、批大小 2 → 3 次请求
	assert.Equal(t, int64(3), requests.Load())

	// 批内序号从 0 重新计数：位置 0/2/4 是各批的首个输入
	assert.Equal(t, []float64{0, 1, 2}, vecs[0])
	assert.Equal(t, []float64{1, 1, 2}, vecs[1])
	assert.Equal(t, []float64{0, 1, 2}, vecs[2])
	assert.Equal(t, []float64{1, 1, 2}, vecs[3])
	assert.Equal(t, []float64{0, 1, 2}, vecs[4])
}

func TestHTTPProvider_EmbedDocumentsEmpty(t *testing.T) {
	t.Parallel()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: "http://unused"}, zap.NewNop())
	vecs, err := provider.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestHTTPProvider_EmptyInputRejected(t *testing.T) {
	t.Parallel()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: "http://unused"}, zap.NewNop())
	_, err := provider.Embed(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrInvalidArgument, retrieval.CodeOf(err))
}

func TestHTTPProvider_OversizedBatchRejected(t *testing.T) {
	t.Parallel()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: "http://unused", MaxBatch: 1}, zap.NewNop())
	_, err := provider.Embed(context.Background(), &Request{Input: []string{"a", "b"}})
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrInvalidArgument, retrieval.CodeOf(err))
}

func TestHTTPProvider_ServerErrorMapsToEmbeddingUnavailable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, Model: "m"}, zap.NewNop())
	_, err := provider.EmbedQuery(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrEmbeddingUnavailable, retrieval.CodeOf(err))
}

func TestHTTPProvider_TransportErrorMapsToEmbeddingUnavailable(t *testing.T) {
	t.Parallel()

	// 已关闭的服务器模拟连接拒绝
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, Model: "m"}, zap.NewNop())
	_, err := provider.EmbedQuery(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrEmbeddingUnavailable, retrieval.CodeOf(err))
}

func TestHTTPProvider_CountMismatchRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data": [], "model": "m"}`)
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, Model: "m"}, zap.NewNop())
	_, err := provider.EmbedQuery(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, retrieval.ErrEmbeddingUnavailable, retrieval.CodeOf(err))
}

func TestHTTPProvider_SendsAuthorizationHeader(t *testing.T) {
	t.Parallel()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data": [{"index": 0, "embedding": [1]}], "model": "m"}`)
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, APIKey: "sk-test", Model: "m"}, zap.NewNop())
	_, err := provider.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestHTTPProvider_Defaults(t *testing.T) {
	t.Parallel()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: "http://unused"}, nil)
	assert.Equal(t, "openai-compatible", provider.Name())
	assert.Equal(t, 100, provider.MaxBatchSize())
}
