// =============================================================================
// RuleFlow 主入口
// =============================================================================
// 合规规则混合检索引擎的命令行入口
//
// 使用方法:
//
//	ruleflow load --rules rules.yaml            # 批量导入规则语料
//	ruleflow query "plan of care lacks frequency"
//	ruleflow query --k 5 --config ruleflow.yaml "..."
//	ruleflow version                            # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/ruleflow/config"
	"github.com/BaSui01/ruleflow/corpus"
	"github.com/BaSui01/ruleflow/embedding"
	"github.com/BaSui01/ruleflow/internal/metrics"
	"github.com/BaSui01/ruleflow/retrieval"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("ruleflow %s\n", version)
	case "load":
		err = runLoad(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  ruleflow load  --config <path> --rules <rules.yaml>
  ruleflow query --config <path> [--k N] [--metrics-addr :9090] "<text>"
  ruleflow version`)
}

func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	rulesPath := fs.String("rules", "", "rules YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rulesPath == "" {
		return fmt.Errorf("load: --rules is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	app, err := buildApp(cfg, logger, nil)
	if err != nil {
		return err
	}

	docs, err := readRulesFile(*rulesPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, doc := range docs {
		if err := app.store.AddOrUpdate(ctx, doc); err != nil {
			return fmt.Errorf("load rule %s: %w", doc.ID, err)
		}
	}

	count, err := app.store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d rules (%d in corpus)\n", len(docs), count)
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	k := fs.Int("k", 0, "number of results (default from config)")
	metricsAddr := fs.String("metrics-addr", "", "expose Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("query: exactly one query text is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var collector *metrics.Collector
	if *metricsAddr != "" {
		collector = metrics.NewCollector("ruleflow", logger)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	app, err := buildApp(cfg, logger, collector)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	loaded, err := app.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("rebuild indexes: %w", err)
	}
	logger.Info("indexes rebuilt", zap.Int("rules", loaded))

	topK := cfg.Engine.TopK
	if *k > 0 {
		topK = *k
	}

	result, err := app.engine.Query(ctx, fs.Arg(0), topK)
	if err != nil {
		return err
	}

	if result.Degraded {
		fmt.Println("warning: embedding provider unavailable, sparse-only results")
	}
	for _, r := range result.Results {
		doc, err := app.store.Get(ctx, r.RuleID)
		if err != nil {
			return err
		}
		fmt.Printf("%2d. [%.4f] %s: %s\n", r.Rank, r.FusedScore, r.RuleID, doc.Text)
	}
	return nil
}

// readRulesFile 读取规则定义文件（YAML 列表：id / text / metadata）。
func readRulesFile(path string) ([]retrieval.RuleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var docs []retrieval.RuleDocument
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("rules file: missing id at entry %d", i)
		}
	}
	return docs, nil
}

// app 聚合一次运行所需的组件
type app struct {
	engine *retrieval.Engine
	store  *corpus.Store
}

// buildApp 按配置装配嵌入提供者、检索引擎与语料存储。
func buildApp(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (*app, error) {
	var provider embedding.Provider = embedding.NewHTTPProvider(embedding.HTTPConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxBatch:   cfg.Embedding.MaxBatch,
		Timeout:    cfg.Embedding.Timeout,
		RateLimit:  cfg.Embedding.RateLimit,
		MaxTokens:  cfg.Embedding.MaxTokens,
	}, logger)

	// 缓存优先级: Redis（跨进程共享）> LRU（进程内）
	if addr := cfg.Embedding.Cache.Redis.Addr; addr != "" {
		cache, err := embedding.NewRedisCache(embedding.RedisCacheConfig{
			Addr:     addr,
			Password: cfg.Embedding.Cache.Redis.Password,
			DB:       cfg.Embedding.Cache.Redis.DB,
			TTL:      cfg.Embedding.Cache.Redis.TTL,
		}, logger)
		if err != nil {
			logger.Warn("redis cache unavailable, falling back to in-process LRU", zap.Error(err))
		} else {
			provider = embedding.NewCachedProvider(provider, cache, collector)
		}
	}
	if _, isCached := provider.(*embedding.CachedProvider); !isCached && cfg.Embedding.Cache.LRUSize > 0 {
		cache, err := embedding.NewLRUCache(cfg.Embedding.Cache.LRUSize)
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		provider = embedding.NewCachedProvider(provider, cache, collector)
	}

	engine, err := retrieval.NewEngine(
		cfg.EngineConfig(),
		retrieval.NewNormalizer(cfg.Expansions()),
		provider,
		logger,
		collector,
	)
	if err != nil {
		return nil, err
	}

	db, err := corpus.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	return &app{
		engine: engine,
		store:  corpus.NewStore(db, engine, logger, collector),
	}, nil
}

// buildLogger 按配置构建 zap 日志器
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
