// =============================================================================
// 📦 RuleFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.Load("ruleflow.yaml")
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/ruleflow/retrieval"
)

// Config 是 RuleFlow 的完整配置结构
type Config struct {
	// Engine 检索引擎配置
	Engine EngineConfig `yaml:"engine"`

	// Normalizer 查询归一化配置
	Normalizer NormalizerConfig `yaml:"normalizer"`

	// Embedding 嵌入提供者配置
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Database 语料库配置
	Database DatabaseConfig `yaml:"database"`

	// Logging 日志配置
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig 检索引擎配置
type EngineConfig struct {
	Weights WeightsConfig `yaml:"weights"`
	BM25    BM25Config    `yaml:"bm25"`
	TopK    int           `yaml:"top_k"`
}

// WeightsConfig 融合权重
type WeightsConfig struct {
	Dense  float64 `yaml:"dense"`
	Sparse float64 `yaml:"sparse"`
}

// BM25Config BM25 参数
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// NormalizerConfig 查询归一化配置
type NormalizerConfig struct {
	// Expansions 领域缩写扩展表；为空时使用内置默认表
	Expansions map[string]string `yaml:"expansions"`

	// UseDefaults 为 true 时内置表与自定义表合并（自定义优先）
	UseDefaults bool `yaml:"use_defaults"`
}

// EmbeddingConfig 嵌入提供者配置
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	MaxBatch   int           `yaml:"max_batch"`
	Timeout    time.Duration `yaml:"timeout"`
	RateLimit  float64       `yaml:"rate_limit"`
	MaxTokens  int           `yaml:"max_tokens"`

	Cache EmbeddingCacheConfig `yaml:"cache"`
}

// EmbeddingCacheConfig 嵌入缓存配置
type EmbeddingCacheConfig struct {
	// LRUSize 进程内 LRU 容量；0 关闭缓存
	LRUSize int `yaml:"lru_size"`

	// Redis 可选的共享缓存；Addr 为空时不启用
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig Redis 缓存配置
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// DatabaseConfig 语料库配置
type DatabaseConfig struct {
	// Path SQLite 数据库路径；":memory:" 为内存库
	Path string `yaml:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug / info / warn / error
	Development bool   `yaml:"development"` // 开发模式（彩色控制台输出）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Weights: WeightsConfig{Dense: 0.5, Sparse: 0.5},
			BM25:    BM25Config{K1: 1.2, B: 0.75},
			TopK:    10,
		},
		Normalizer: NormalizerConfig{
			UseDefaults: true,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434/v1",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			MaxBatch:   64,
			Timeout:    30 * time.Second,
			MaxTokens:  8191,
			Cache: EmbeddingCacheConfig{
				LRUSize: 4096,
				Redis:   RedisConfig{TTL: 24 * time.Hour},
			},
		},
		Database: DatabaseConfig{
			Path: "ruleflow.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load 加载配置：默认值 → YAML 文件（path 为空时跳过）→ 环境变量。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 应用环境变量覆盖（密钥等敏感项不落配置文件）。
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RULEFLOW_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("RULEFLOW_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("RULEFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RULEFLOW_REDIS_ADDR"); v != "" {
		cfg.Embedding.Cache.Redis.Addr = v
	}
	if v := os.Getenv("RULEFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RULEFLOW_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Engine.TopK = k
		}
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("config: embedding.base_url is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("config: embedding.dimensions must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	return nil
}

// EngineConfig 转换为检索引擎配置
func (c *Config) EngineConfig() retrieval.EngineConfig {
	return retrieval.EngineConfig{
		Weights: retrieval.Weights{Dense: c.Engine.Weights.Dense, Sparse: c.Engine.Weights.Sparse},
		BM25:    retrieval.BM25Params{K1: c.Engine.BM25.K1, B: c.Engine.BM25.B},
		TopK:    c.Engine.TopK,
	}
}

// Expansions 返回合并后的缩写扩展表
func (c *Config) Expansions() map[string]string {
	if !c.Normalizer.UseDefaults {
		return c.Normalizer.Expansions
	}
	merged := retrieval.DefaultExpansions()
	for k, v := range c.Normalizer.Expansions {
		merged[k] = v
	}
	return merged
}
