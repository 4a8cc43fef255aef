package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/model"
)

// SaveHITType persists a created HIT type. When the type is marked active,
// all other types in the environment are deactivated first so exactly one
// stays active.
func (s *Store) SaveHITType(ctx context.Context, ht *model.HITType) error {
	if ht.Active {
		if err := s.db.WithContext(ctx).Model(&model.HITType{}).
			Where("environment = ?", ht.Environment).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate existing HIT types: %w", err)
		}
	}
	return s.db.WithContext(ctx).Create(ht).Error
}

// ActiveHITType returns the HIT type with the given id, or the single
// active one for the environment when id is empty.
func (s *Store) ActiveHITType(ctx context.Context, id string) (*model.HITType, error) {
	if id != "" {
		var ht model.HITType
		err := s.db.WithContext(ctx).
			Where("id = ? AND environment = ?", id, s.cfg.EnvName).
			First(&ht).Error
		if err != nil {
			return nil, fmt.Errorf("HIT type %s: %w", id, ErrNotFound)
		}
		return &ht, nil
	}

	var types []model.HITType
	err := s.db.WithContext(ctx).
		Where("active = ? AND environment = ?", true, s.cfg.EnvName).
		Find(&types).Error
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, errors.New("no active HIT type in this environment")
	}
	if len(types) > 1 {
		log.Printf("[store] more than one active HIT type in environment %s", s.cfg.EnvName)
	}
	return &types[0], nil
}
