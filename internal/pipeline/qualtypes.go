package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/marketplace"
	"github.com/pagecrowd/pagecrowd/internal/model"
)

// CreateQualTypes provisions the two qualification types on the marketplace
// and records them locally. Types that already exist for this environment
// are left untouched.
func (s *Service) CreateQualTypes(ctx context.Context) error {
	types := []struct {
		name        string
		description string
	}{
		{s.cfg.QualDidTasksName, s.cfg.QualDidTasksDescription},
		{s.cfg.QualPointsName, s.cfg.QualPointsDescription},
	}

	created := 0
	for _, t := range types {
		id, err := s.store.QualTypeID(ctx, t.name)
		if err != nil {
			return err
		}
		if id != "" {
			log.Printf("[pipeline] qualification type %q already exists (%s)", t.name, id)
			continue
		}
		id, err = s.market.CreateQualType(ctx, t.name, t.description)
		if err != nil {
			return fmt.Errorf("create qualification type %q: %w", t.name, err)
		}
		if err := s.store.SaveQualType(ctx, &model.QualType{
			ID:          id,
			Name:        t.name,
			Description: t.description,
			Environment: s.cfg.EnvName,
		}); err != nil {
			return err
		}
		created++
	}
	log.Printf("[pipeline] created %d qualification types", created)
	return nil
}

// CreateHITType registers a task template from the configured parameters.
// When active is set, it becomes the single active template for this
// environment.
func (s *Service) CreateHITType(ctx context.Context, active bool) error {
	params := marketplace.HITTypeParams{
		Title:                s.cfg.HITTypeTitle,
		Keywords:             s.cfg.HITTypeKeywords,
		Description:          s.cfg.HITTypeDescription,
		Reward:               s.cfg.HITTypeReward,
		DurationSec:          s.cfg.HITTypeDurationSec,
		AutoApprovalDelaySec: s.cfg.HITTypeAutoApprovalSec,
	}
	id, err := s.market.CreateHITType(ctx, params)
	if err != nil {
		return fmt.Errorf("create hit type: %w", err)
	}
	if err := s.store.SaveHITType(ctx, &model.HITType{
		ID:                   id,
		Title:                params.Title,
		Keywords:             params.Keywords,
		Description:          params.Description,
		Reward:               params.Reward,
		DurationSec:          params.DurationSec,
		AutoApprovalDelaySec: params.AutoApprovalDelaySec,
		Environment:          s.cfg.EnvName,
		Active:               active,
	}); err != nil {
		return err
	}
	log.Printf("[pipeline] created hit type %s (active=%t)", id, active)
	return nil
}
