package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCacheConfig Redis 嵌入缓存配置
type RedisCacheConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Prefix   string        `yaml:"prefix" json:"prefix"`
}

// DefaultRedisCacheConfig 返回默认 Redis 缓存配置
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Addr:   "localhost:6379",
		TTL:    24 * time.Hour,
		Prefix: "ruleflow:emb:",
	}
}

// RedisCache 跨进程共享的嵌入缓存。规则语料的批量加载在多个
// 工作进程间重复出现时，Redis 缓存避免对同一文本重复调用模型。
// 缓存故障静默降级为未命中，不影响嵌入路径可用性。
type RedisCache struct {
	client *redis.Client
	config RedisCacheConfig
	logger *zap.Logger
}

// NewRedisCache 创建 Redis 嵌入缓存并校验连通性
func NewRedisCache(config RedisCacheConfig, logger *zap.Logger) (*RedisCache, error) {
	if config.Prefix == "" {
		config.Prefix = DefaultRedisCacheConfig().Prefix
	}
	if config.TTL == 0 {
		config.TTL = DefaultRedisCacheConfig().TTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "embedding_redis_cache")),
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float64, bool) {
	data, err := c.client.Get(ctx, c.config.Prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis cache get failed", zap.Error(err))
		}
		return nil, false
	}

	var embedding []float64
	if err := json.Unmarshal(data, &embedding); err != nil {
		c.logger.Warn("redis cache entry corrupt, treating as miss", zap.Error(err))
		return nil, false
	}
	return embedding, true
}

func (c *RedisCache) Set(ctx context.Context, key string, embedding []float64) {
	data, err := json.Marshal(embedding)
	if err != nil {
		c.logger.Warn("redis cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.config.Prefix+key, data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("redis cache set failed", zap.Error(err))
	}
}

func (c *RedisCache) Name() string { return "redis" }

// Close 释放底层连接
func (c *RedisCache) Close() error { return c.client.Close() }
