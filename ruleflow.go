// Package ruleflow provides a top-level convenience entry point for building
// a hybrid compliance-rule retrieval engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/ruleflow"
//
//	engine, err := ruleflow.New(ruleflow.WithEmbedder(provider))
//	engine, err := ruleflow.New(
//	    ruleflow.WithEmbedder(provider),
//	    ruleflow.WithWeights(0.7, 0.3),
//	    ruleflow.WithExpansions(map[string]string{"pt": "physical therapy"}),
//	)
//
// The returned [retrieval.Engine] answers hybrid queries (dense + sparse with
// weighted fusion) and keeps both indexes in sync across rule mutations.
package ruleflow

import (
	"go.uber.org/zap"

	"github.com/BaSui01/ruleflow/retrieval"
)

// Option configures the engine created by [New].
type Option func(*builder)

type builder struct {
	config     retrieval.EngineConfig
	expansions map[string]string
	embedder   retrieval.Embedder
	logger     *zap.Logger
}

// New creates a [retrieval.Engine] with minimal configuration.
// An embedding provider must be supplied via [WithEmbedder].
func New(opts ...Option) (*retrieval.Engine, error) {
	b := &builder{
		config:     retrieval.DefaultEngineConfig(),
		expansions: retrieval.DefaultExpansions(),
	}
	for _, opt := range opts {
		opt(b)
	}

	return retrieval.NewEngine(
		b.config,
		retrieval.NewNormalizer(b.expansions),
		b.embedder,
		b.logger,
		nil,
	)
}

// WithEmbedder sets the embedding provider. Any implementation of
// [retrieval.Embedder] works; see the embedding package for HTTP and
// cached providers.
func WithEmbedder(embedder retrieval.Embedder) Option {
	return func(b *builder) { b.embedder = embedder }
}

// WithConfig replaces the full engine configuration.
func WithConfig(config retrieval.EngineConfig) Option {
	return func(b *builder) { b.config = config }
}

// WithWeights sets the dense/sparse fusion weights. The pair must sum to 1.0.
func WithWeights(dense, sparse float64) Option {
	return func(b *builder) {
		b.config.Weights = retrieval.Weights{Dense: dense, Sparse: sparse}
	}
}

// WithBM25 overrides the BM25 scoring parameters.
func WithBM25(k1, bParam float64) Option {
	return func(b *builder) {
		b.config.BM25 = retrieval.BM25Params{K1: k1, B: bParam}
	}
}

// WithExpansions replaces the clinical acronym expansion table used by
// query/document normalization.
func WithExpansions(expansions map[string]string) Option {
	return func(b *builder) { b.expansions = expansions }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}
