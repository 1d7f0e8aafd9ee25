package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/ruleflow/internal/metrics"
	"github.com/BaSui01/ruleflow/retrieval"
)

// loadBatchSize 启动重建索引时每批加载的规则数
const loadBatchSize = 256

// RuleRecord 规则表模型
type RuleRecord struct {
	ID        string `gorm:"primaryKey;size:128"`
	Text      string `gorm:"type:text;not null"`
	Metadata  string `gorm:"type:text"` // JSON 序列化的键值对
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名
func (RuleRecord) TableName() string { return "compliance_rules" }

// Indexer 是语料存储对检索引擎的最小依赖。
// 由 retrieval.Engine 实现；测试可注入任意实现。
type Indexer interface {
	IndexRule(ctx context.Context, doc retrieval.RuleDocument) error
	IndexRules(ctx context.Context, docs []retrieval.RuleDocument) error
	RemoveRule(ctx context.Context, id string) error
}

// Store 规则语料存储
type Store struct {
	db      *gorm.DB
	indexer Indexer
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Open 打开 SQLite 语料库并迁移表结构。path 为 ":memory:" 时使用内存库。
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}
	if err := db.AutoMigrate(&RuleRecord{}); err != nil {
		return nil, fmt.Errorf("migrate corpus schema: %w", err)
	}
	return db, nil
}

// NewStore 创建语料存储；collector 可以为 nil。
func NewStore(db *gorm.DB, indexer Indexer, logger *zap.Logger, collector *metrics.Collector) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		indexer: indexer,
		logger:  logger.With(zap.String("component", "corpus_store")),
		metrics: collector,
	}
}

// AddOrUpdate 插入或替换规则。
//
// 与现有内容完全一致的调用是空操作（不重复嵌入、不重复索引）。
// 索引传播失败时恢复语料行到变更前状态，调用方看到的语料
// 始终是完整应用或完全未应用。
func (s *Store) AddOrUpdate(ctx context.Context, doc retrieval.RuleDocument) error {
	if doc.ID == "" {
		return retrieval.NewInvalidArgument("corpus add: empty rule id")
	}

	metaJSON, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return retrieval.NewInvalidArgument("corpus add: metadata not serializable: " + err.Error())
	}

	var prev RuleRecord
	hadPrev := true
	if err := s.db.WithContext(ctx).First(&prev, "id = ?", doc.ID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("corpus add: lookup rule %s: %w", doc.ID, err)
		}
		hadPrev = false
	}

	if hadPrev && prev.Text == doc.Text && prev.Metadata == metaJSON {
		s.logger.Debug("rule unchanged, skipping reindex", zap.String("rule_id", doc.ID))
		return nil
	}

	record := RuleRecord{ID: doc.ID, Text: doc.Text, Metadata: metaJSON}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		return fmt.Errorf("corpus add: save rule %s: %w", doc.ID, err)
	}

	if err := s.indexer.IndexRule(ctx, doc); err != nil {
		// 回滚语料行，保持变更前状态
		if hadPrev {
			if rbErr := s.db.WithContext(ctx).Save(&prev).Error; rbErr != nil {
				s.logger.Error("corpus rollback failed", zap.String("rule_id", doc.ID), zap.Error(rbErr))
			}
		} else {
			if rbErr := s.db.WithContext(ctx).Delete(&RuleRecord{}, "id = ?", doc.ID).Error; rbErr != nil {
				s.logger.Error("corpus rollback failed", zap.String("rule_id", doc.ID), zap.Error(rbErr))
			}
		}
		return err
	}

	s.metrics.RecordMutation("add_or_update")
	s.logger.Info("rule indexed",
		zap.String("rule_id", doc.ID),
		zap.Bool("replaced", hadPrev))
	return nil
}

// Remove 删除规则。删除幂等：ID 不存在时记录日志并正常返回。
func (s *Store) Remove(ctx context.Context, id string) error {
	if id == "" {
		return retrieval.NewInvalidArgument("corpus remove: empty rule id")
	}

	var prev RuleRecord
	if err := s.db.WithContext(ctx).First(&prev, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug("remove of absent rule, no-op", zap.String("rule_id", id))
			return nil
		}
		return fmt.Errorf("corpus remove: lookup rule %s: %w", id, err)
	}

	if err := s.db.WithContext(ctx).Delete(&RuleRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("corpus remove: delete rule %s: %w", id, err)
	}

	if err := s.indexer.RemoveRule(ctx, id); err != nil {
		if rbErr := s.db.WithContext(ctx).Save(&prev).Error; rbErr != nil {
			s.logger.Error("corpus rollback failed", zap.String("rule_id", id), zap.Error(rbErr))
		}
		return err
	}

	s.metrics.RecordMutation("remove")
	s.logger.Info("rule removed", zap.String("rule_id", id))
	return nil
}

// Get 按 ID 读取规则；不存在时返回 ErrNotFound。
func (s *Store) Get(ctx context.Context, id string) (retrieval.RuleDocument, error) {
	var record RuleRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return retrieval.RuleDocument{}, retrieval.NewNotFound(id)
		}
		return retrieval.RuleDocument{}, fmt.Errorf("corpus get: lookup rule %s: %w", id, err)
	}
	return record.toDocument()
}

// LoadAll 从语料表分批重建两个检索索引（启动路径）。
// 每批走一次批量嵌入调用。
func (s *Store) LoadAll(ctx context.Context) (int, error) {
	total := 0
	var records []RuleRecord

	result := s.db.WithContext(ctx).Order("id").FindInBatches(&records, loadBatchSize, func(_ *gorm.DB, _ int) error {
		docs := make([]retrieval.RuleDocument, 0, len(records))
		for _, record := range records {
			doc, err := record.toDocument()
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		if err := s.indexer.IndexRules(ctx, docs); err != nil {
			return err
		}
		total += len(docs)
		return nil
	})
	if result.Error != nil {
		return total, fmt.Errorf("corpus load: %w", result.Error)
	}

	s.metrics.SetCorpusRules(total)
	s.logger.Info("corpus loaded", zap.Int("rules", total))
	return total, nil
}

// Count 返回语料中的规则数量
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&RuleRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("corpus count: %w", err)
	}
	return count, nil
}

func (r RuleRecord) toDocument() (retrieval.RuleDocument, error) {
	metadata, err := decodeMetadata(r.Metadata)
	if err != nil {
		return retrieval.RuleDocument{}, fmt.Errorf("corpus: metadata corrupt for rule %s: %w", r.ID, err)
	}
	return retrieval.RuleDocument{ID: r.ID, Text: r.Text, Metadata: metadata}, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}
