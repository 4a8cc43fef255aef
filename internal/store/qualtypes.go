package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ─────────────────────────────────────────────
// Qualification type lookup + Redis TTL cache
//
// The cache is shared between processes and expires instead of living for
// the process lifetime, so a restart is not the only refresh path. Entries
// are busted explicitly on creation.
// ─────────────────────────────────────────────

func qualCacheKey(env, name string) string {
	return "qualtype:" + env + ":" + name
}

// SaveQualType persists a created qualification type and busts its cache entry.
func (s *Store) SaveQualType(ctx context.Context, qt *model.QualType) error {
	if err := s.db.WithContext(ctx).Create(qt).Error; err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, qualCacheKey(qt.Environment, qt.Name)).Err(); err != nil {
		log.Printf("[store] qual type cache bust error: %v", err)
	}
	return nil
}

// QualTypeID resolves a qualification type name to its marketplace id for
// the current environment, or "" when it does not exist. The id is cached
// in Redis with a TTL after the first database hit.
func (s *Store) QualTypeID(ctx context.Context, name string) (string, error) {
	key := qualCacheKey(s.cfg.EnvName, name)
	if id, err := s.rdb.Get(ctx, key).Result(); err == nil {
		return id, nil
	} else if err != redis.Nil {
		log.Printf("[store] qual type cache read error: %v", err)
	}

	var qt model.QualType
	err := s.db.WithContext(ctx).
		Where("name = ? AND environment = ?", name, s.cfg.EnvName).
		First(&qt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, key, qt.ID, s.cfg.QualCacheTTL).Err(); err != nil {
		log.Printf("[store] qual type cache write error: %v", err)
	}
	return qt.ID, nil
}

// AssertQualTypesExist fails with ErrQualTypesMissing unless both
// qualification types are provisioned for the current environment.
func (s *Store) AssertQualTypesExist(ctx context.Context) error {
	for _, name := range []string{s.cfg.QualDidTasksName, s.cfg.QualPointsName} {
		id, err := s.QualTypeID(ctx, name)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("%w: %q", ErrQualTypesMissing, name)
		}
	}
	return nil
}
