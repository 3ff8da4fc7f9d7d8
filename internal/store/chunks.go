// Package store caches fetched sub-request results for the life of the
// process, in an in-memory sqlite database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sanmetrics/internal/series"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

type chunkModel struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Metric    string         `gorm:"column:metric;uniqueIndex:idx_chunk_key"`
	Interval  string         `gorm:"column:interval_key;uniqueIndex:idx_chunk_key"`
	Asset     string         `gorm:"column:asset;uniqueIndex:idx_chunk_key"`
	FromUnix  int64          `gorm:"column:from_ts;uniqueIndex:idx_chunk_key"`
	ToUnix    int64          `gorm:"column:to_ts;uniqueIndex:idx_chunk_key"`
	Points    datatypes.JSON `gorm:"column:points"`
	Rows      int            `gorm:"column:row_count"`
	CreatedAt int64          `gorm:"column:created_at"`
}

func (chunkModel) TableName() string { return "chunks" }

// ChunkCache is keyed by (metric, interval, asset, from, to).
type ChunkCache struct {
	db *gorm.DB
}

// NewChunkCache opens a private in-memory database. Each call gets its own
// database; the cache disappears with the process.
func NewChunkCache() (*ChunkCache, error) {
	dsn := fmt.Sprintf("file:chunks-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open chunk cache: %w", err)
	}
	if err := db.AutoMigrate(&chunkModel{}); err != nil {
		return nil, fmt.Errorf("migrate chunk cache: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// An in-memory database lives as long as one connection holds it.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return &ChunkCache{db: db}, nil
}

func (c *ChunkCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Lookup returns the cached series for chunk, reporting false on a miss.
func (c *ChunkCache) Lookup(ctx context.Context, metric string, iv series.Interval, chunk series.Chunk) (series.Series, bool, error) {
	var row chunkModel
	err := c.db.WithContext(ctx).
		Where("metric = ? AND interval_key = ? AND asset = ? AND from_ts = ? AND to_ts = ?",
			metric, iv.Key, chunk.Asset, chunk.From.Unix(), chunk.To.Unix()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var pts series.Series
	if err := json.Unmarshal(row.Points, &pts); err != nil {
		return nil, false, fmt.Errorf("decode cached chunk %s: %w", chunk, err)
	}
	for i := range pts {
		pts[i].Time = pts[i].Time.UTC()
	}
	return pts, true, nil
}

// Save stores s for chunk, replacing any earlier entry.
func (c *ChunkCache) Save(ctx context.Context, metric string, iv series.Interval, chunk series.Chunk, s series.Series) error {
	if s == nil {
		s = series.Series{}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode chunk %s: %w", chunk, err)
	}
	row := chunkModel{
		Metric:    metric,
		Interval:  iv.Key,
		Asset:     chunk.Asset,
		FromUnix:  chunk.From.Unix(),
		ToUnix:    chunk.To.Unix(),
		Points:    datatypes.JSON(raw),
		Rows:      len(s),
		CreatedAt: time.Now().Unix(),
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "metric"}, {Name: "interval_key"}, {Name: "asset"}, {Name: "from_ts"}, {Name: "to_ts"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "row_count", "created_at"}),
	}).Create(&row).Error
}

// Len reports the number of cached chunks.
func (c *ChunkCache) Len(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&chunkModel{}).Count(&n).Error
	return n, err
}

// Purge removes every cached chunk.
func (c *ChunkCache) Purge(ctx context.Context) error {
	return c.db.WithContext(ctx).Where("1 = 1").Delete(&chunkModel{}).Error
}
