package store

import (
	"errors"
	"time"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors surfaced to handlers and the CLI.
var (
	// ErrNotFound: a page, assignment or worker lookup came up empty.
	ErrNotFound = errors.New("not found")
	// ErrNoPages: no pages (or not enough pages) match a status filter.
	ErrNoPages = errors.New("no more pages in the requested statuses")
	// ErrQualTypesMissing: qualification types are not provisioned yet.
	ErrQualTypesMissing = errors.New("qualification types are not present; create them first")
)

// Store provides document-style persistence via GORM and the
// qualification-type id cache via Redis.
type Store struct {
	db  *gorm.DB
	rdb *redis.Client
	cfg *config.Config
}

// NewStore opens the database and auto-migrates schemas.
func NewStore(dsn string, rdb *redis.Client, cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&model.Page{},
		&model.Worker{},
		&model.HITType{},
		&model.QualType{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db, rdb: rdb, cfg: cfg}, nil
}

// DB returns the underlying GORM database instance.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// groupFilter narrows a pages query to the configured active groups.
func (s *Store) groupFilter(q *gorm.DB) *gorm.DB {
	if len(s.cfg.ActivePageGroups) > 0 {
		return q.Where("page_group IN ?", s.cfg.ActivePageGroups)
	}
	return q
}
