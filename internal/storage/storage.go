// Package storage 是基于 gorm + sqlite 的持久化层，保存对话、文档片段和工具审计记录。
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errNotInitialized = errors.New("storage not initialized")

type Config struct {
	Path            string           `mapstructure:"path"`
	InMemory        bool             `mapstructure:"in_memory"`
	EnableWAL       bool             `mapstructure:"enable_wal"`
	BusyTimeout     time.Duration    `mapstructure:"busy_timeout"`
	MaxOpenConns    int              `mapstructure:"max_open_conns"`
	MaxIdleConns    int              `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration    `mapstructure:"conn_max_lifetime"`
	Logger          logger.Interface `mapstructure:"-"`
}

type Storage struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Open 打开（必要时创建）数据库并完成迁移。Path 所在目录不存在时会被创建。
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
	}

	// gorm 默认会把慢查询打印到 stdout，会打乱交互界面
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	s := &Storage{db: db, sqlDB: sqlDB}
	s.applyPool(cfg)

	steps := []func(context.Context) error{
		func(ctx context.Context) error {
			if !cfg.EnableWAL || cfg.InMemory {
				return nil
			}
			if err := s.db.WithContext(ctx).Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
				return fmt.Errorf("enable wal: %w", err)
			}
			return nil
		},
		s.Migrate,
		s.Ping,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Storage) applyPool(cfg Config) {
	if cfg.MaxOpenConns > 0 {
		s.sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		s.sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		s.sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func (s *Storage) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return errNotInitialized
	}
	return s.sqlDB.PingContext(ctx)
}

// Migrate 创建或更新三张表。
func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&Conversation{}, &DocumentChunk{}, &AuditRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Storage) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Stats 是各表的记录数。
type Stats struct {
	Conversations int64
	Chunks        int64
	Documents     int64
	AuditRecords  int64
}

func (s *Storage) Stats(ctx context.Context) (Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Conversations, err = s.CountConversations(ctx); err != nil {
		return st, err
	}
	if st.Chunks, err = s.CountChunks(ctx); err != nil {
		return st, err
	}
	if err = s.db.WithContext(ctx).Model(&DocumentChunk{}).Distinct("source").Count(&st.Documents).Error; err != nil {
		return st, fmt.Errorf("count documents: %w", err)
	}
	if st.AuditRecords, err = s.CountAuditRecords(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func dsnFromConfig(cfg Config) (string, error) {
	timeoutMS := int(cfg.BusyTimeout / time.Millisecond)
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	pragma := fmt.Sprintf("_pragma=busy_timeout(%d)", timeoutMS)

	switch {
	case cfg.InMemory:
		return "file:paperfast?mode=memory&cache=shared&" + pragma, nil
	case cfg.Path == "":
		return "", errors.New("sqlite path is required when InMemory=false")
	default:
		return "file:" + cfg.Path + "?" + pragma, nil
	}
}
