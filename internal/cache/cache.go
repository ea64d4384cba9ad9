// Package cache keeps the last good copy of every upstream payload (events API
// responses, ICS feeds) together with its HTTP validators, so that a failed
// refresh can keep serving stale-but-available data.
package cache

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	appLog "casecal/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrMiss is returned by Get when no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Entry is one cached response body plus its validators.
type Entry struct {
	Key          string    `gorm:"column:cache_key;primaryKey"`
	Source       string    `gorm:"column:source"`
	ETag         string    `gorm:"column:etag"`
	LastModified string    `gorm:"column:last_modified"`
	Body         []byte    `gorm:"column:body"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (Entry) TableName() string { return "response_cache" }

// BodyCache is what fetchers need from a cache.
type BodyCache interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
}

// Cache is a SQLite-backed BodyCache.
type Cache struct {
	db *gorm.DB
}

var migrateMu sync.Mutex

// Open opens (creating if needed) the cache database at path and applies
// migrations. An empty path opens a private in-memory database.
func Open(ctx context.Context, path string) (*Cache, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases from splitting per connection.
	sqlDB.SetMaxOpenConns(1)

	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(appLog.Logger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	appLog.Info("cache opened", "path", path)
	return &Cache{db: db}, nil
}

func (c *Cache) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	err := c.db.WithContext(ctx).Where("cache_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Put inserts or replaces the entry for e.Key.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return errors.New("cache entry key is empty")
	}
	e.UpdatedAt = time.Now().UTC()
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&e).Error
}

// Prune deletes entries not refreshed since olderThan and returns how many
// were removed.
func (c *Cache) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res := c.db.WithContext(ctx).Where("updated_at < ?", olderThan.UTC()).Delete(&Entry{})
	return res.RowsAffected, res.Error
}

func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
