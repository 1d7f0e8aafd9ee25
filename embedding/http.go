package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ruleflow/retrieval"
)

// embedConcurrency 批量嵌入时并发请求的上限
const embedConcurrency = 4

// HTTPConfig holds configuration for an OpenAI-compatible embeddings endpoint.
type HTTPConfig struct {
	Name       string        `yaml:"name" json:"name"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	MaxBatch   int           `yaml:"max_batch" json:"max_batch"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// RateLimit caps outgoing requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// MaxTokens truncates over-long inputs before embedding; 0 disables.
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
	Encoding  string `yaml:"encoding" json:"encoding"` // tiktoken encoding, default cl100k_base
}

// HTTPProvider implements Provider against an OpenAI-compatible
// POST {base_url}/embeddings endpoint (OpenAI, Ollama, vLLM, LocalAI).
type HTTPProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewHTTPProvider creates an HTTP embedding provider.
func NewHTTPProvider(cfg HTTPConfig, logger *zap.Logger) *HTTPProvider {
	if cfg.Name == "" {
		cfg.Name = "openai-compatible"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 100
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "embedding_http")),
	}
}

func (p *HTTPProvider) Name() string      { return p.cfg.Name }
func (p *HTTPProvider) Model() string     { return p.cfg.Model }
func (p *HTTPProvider) Dimensions() int   { return p.cfg.Dimensions }
func (p *HTTPProvider) MaxBatchSize() int { return p.cfg.MaxBatch }

// Embed sends one batch request. Inputs exceeding MaxBatchSize are rejected;
// use EmbedDocuments for automatic chunking.
func (p *HTTPProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Input) == 0 {
		return nil, retrieval.NewInvalidArgument("embed: empty input")
	}
	if len(req.Input) > p.cfg.MaxBatch {
		return nil, retrieval.NewInvalidArgument(fmt.Sprintf("embed: batch size %d exceeds maximum %d", len(req.Input), p.cfg.MaxBatch))
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, retrieval.NewEmbeddingUnavailable("embed: rate limiter: "+err.Error(), err)
		}
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	input := make([]string, len(req.Input))
	for i, text := range req.Input {
		input[i] = p.truncate(text)
	}

	payload := map[string]any{
		"model": model,
		"input": input,
	}

	body, err := p.doRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, retrieval.NewEmbeddingUnavailable("embed: decode response: "+err.Error(), err)
	}
	if len(wire.Data) != len(req.Input) {
		return nil, retrieval.NewEmbeddingUnavailable(fmt.Sprintf("embed: got %d embeddings for %d inputs", len(wire.Data), len(req.Input)), nil)
	}

	resp := &Response{
		Provider:   p.cfg.Name,
		Model:      wire.Model,
		Embeddings: make([]Data, len(wire.Data)),
		Usage:      Usage{PromptTokens: wire.Usage.PromptTokens, TotalTokens: wire.Usage.TotalTokens},
	}
	for _, d := range wire.Data {
		if d.Index < 0 || d.Index >= len(resp.Embeddings) {
			return nil, retrieval.NewEmbeddingUnavailable(fmt.Sprintf("embed: out-of-range embedding index %d", d.Index), nil)
		}
		resp.Embeddings[d.Index] = Data{Index: d.Index, Embedding: d.Embedding}
	}

	return resp, nil
}

// EmbedQuery embeds a single query string.
func (p *HTTPProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := p.Embed(ctx, &Request{Input: []string{query}, InputType: InputTypeQuery})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments embeds documents in MaxBatchSize chunks, running up to
// embedConcurrency batch requests concurrently. Result order matches input.
func (p *HTTPProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	if len(documents) == 0 {
		return [][]float64{}, nil
	}

	result := make([][]float64, len(documents))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(documents); start += p.cfg.MaxBatch {
		end := start + p.cfg.MaxBatch
		if end > len(documents) {
			end = len(documents)
		}
		start, end := start, end

		g.Go(func() error {
			resp, err := p.Embed(ctx, &Request{Input: documents[start:end], InputType: InputTypeDocument})
			if err != nil {
				return err
			}
			for i, d := range resp.Embeddings {
				result[start+i] = d.Embedding
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// doRequest 执行 HTTP 请求，传输层与非 2xx 响应统一映射为
// ErrEmbeddingUnavailable，由检索引擎决定降级。
func (p *HTTPProvider) doRequest(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retrieval.NewEmbeddingUnavailable("embed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retrieval.NewEmbeddingUnavailable("embed: read response: "+err.Error(), err)
	}

	if resp.StatusCode >= 400 {
		return nil, retrieval.NewEmbeddingUnavailable(fmt.Sprintf("embed: provider returned HTTP %d: %s", resp.StatusCode, truncateForLog(body)), nil)
	}

	return body, nil
}

// truncate 将超过 MaxTokens 的输入按 token 边界截断。
// 编码数据首次使用时惰性加载；加载失败时退化为不截断并告警。
func (p *HTTPProvider) truncate(text string) string {
	if p.cfg.MaxTokens <= 0 {
		return text
	}

	p.encOnce.Do(func() {
		p.enc, p.encErr = tiktoken.GetEncoding(p.cfg.Encoding)
		if p.encErr != nil {
			p.logger.Warn("tiktoken encoding unavailable, input truncation disabled",
				zap.String("encoding", p.cfg.Encoding),
				zap.Error(p.encErr))
		}
	})
	if p.encErr != nil {
		return text
	}

	tokens := p.enc.Encode(text, nil, nil)
	if len(tokens) <= p.cfg.MaxTokens {
		return text
	}

	p.logger.Debug("truncating over-long embedding input",
		zap.Int("tokens", len(tokens)),
		zap.Int("max_tokens", p.cfg.MaxTokens))
	return p.enc.Decode(tokens[:p.cfg.MaxTokens])
}

func truncateForLog(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
