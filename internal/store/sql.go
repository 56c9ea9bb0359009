package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvEntry は kv_entries テーブルの1行です
type kvEntry struct {
	Key   string `gorm:"primaryKey;type:varchar(191)"`
	Value string `gorm:"type:text"`
}

func (kvEntry) TableName() string { return "kv_entries" }

// SQLStore は gorm 経由で sqlite / mysql に保存するストアです
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore は指定ドライバで接続し、テーブルを自動マイグレーションします
func OpenSQLStore(kind Kind, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch kind {
	case KindSQLite:
		dialector = sqlite.Open(dsn)
	case KindMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql store kind %q", kind)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", kind, err)
	}
	return NewSQLStore(db)
}

// NewSQLStore は既存の *gorm.DB から SQLStore を作成します
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	var e kvEntry
	err := s.db.WithContext(ctx).Where(&kvEntry{Key: key}).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Set は upsert で保存します
func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kvEntry{Key: key, Value: value}).Error
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&kvEntry{Key: key}).Error
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
