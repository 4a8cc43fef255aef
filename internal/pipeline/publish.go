package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/pagecrowd/pagecrowd/internal/marketplace"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// ErrPublishCancelled is returned when the operator declines the cost prompt.
var ErrPublishCancelled = errors.New("publication cancelled")

// QualRequirements builds the worker gating for regular publication.
// minPoints/maxPoints of 0 means no bound on that side. When requireQualDone
// is set the point bounds are replaced by a bare existence check on the
// qualification-tasks grant, so fresh qualified workers with zero points
// still see the tasks.
func (s *Service) QualRequirements(ctx context.Context, minPoints, maxPoints int, requireQualDone bool) ([]model.QualRequirement, error) {
	if err := s.store.AssertQualTypesExist(ctx); err != nil {
		return nil, err
	}
	pointsID, err := s.store.QualTypeID(ctx, s.cfg.QualPointsName)
	if err != nil {
		return nil, err
	}

	var reqs []model.QualRequirement
	if minPoints > 0 {
		reqs = append(reqs, model.QualRequirement{
			QualificationTypeID: pointsID,
			Comparator:          model.ComparatorGTE,
			IntegerValues:       []int{minPoints},
			ActionsGuarded:      model.ActionsGuardedAll,
		})
	}
	if maxPoints > 0 {
		reqs = append(reqs, model.QualRequirement{
			QualificationTypeID: pointsID,
			Comparator:          model.ComparatorLTE,
			IntegerValues:       []int{maxPoints},
			ActionsGuarded:      model.ActionsGuardedAll,
		})
	}
	if requireQualDone {
		didTasksID, err := s.store.QualTypeID(ctx, s.cfg.QualDidTasksName)
		if err != nil {
			return nil, err
		}
		reqs = []model.QualRequirement{{
			QualificationTypeID: didTasksID,
			Comparator:          model.ComparatorExists,
			ActionsGuarded:      model.ActionsGuardedAll,
		}}
	}
	return reqs, nil
}

// Publish creates one HIT per page and marks the pages SUBMITTED. Creation
// stops at the first marketplace failure; pages already published in this
// batch are still persisted and the shortfall is logged, not returned.
func (s *Service) Publish(ctx context.Context, pageIDs []string, comment string, maxAssignments int, reqs []model.QualRequirement) error {
	if len(pageIDs) == 0 {
		return errors.New("no pages to publish")
	}

	hitType, err := s.store.ActiveHITType(ctx, "")
	if err != nil {
		return fmt.Errorf("resolve active hit type: %w", err)
	}
	if err := s.confirmCost(hitType.Reward, len(pageIDs), maxAssignments); err != nil {
		return err
	}

	updates := make(map[string]store.PageUpdate, len(pageIDs))
	for _, pageID := range pageIDs {
		imageURL := s.cfg.ImageURLBase + pageID + s.cfg.ImageExtension
		question := marketplace.ExternalQuestion(s.cfg.ExternalURL, imageURL, comment)
		created, err := s.market.CreateHIT(ctx, hitType.ID, question, maxAssignments, s.cfg.HITLifetimeSec, reqs)
		if err != nil {
			log.Printf("[pipeline] create hit for page %s failed, stopping batch: %v", pageID, err)
			break
		}
		if created.HTTPStatus != 200 {
			log.Printf("[pipeline] create hit for page %s returned http status %d, stopping batch", pageID, created.HTTPStatus)
			break
		}
		updates[pageID] = store.PageUpdate{
			SetStatus: statusPtr(model.PageStatusSubmitted),
			PushHIT:   &model.HITRef{ID: created.ID, Published: created.CreationTime},
		}
	}

	if len(updates) > 0 {
		if err := s.store.ApplyPageUpdates(ctx, updates); err != nil {
			return err
		}
	}
	log.Printf("[pipeline] published %d/%d pages", len(updates), len(pageIDs))
	return nil
}

// PublishRandom samples count unannotated pages and publishes them.
func (s *Service) PublishRandom(ctx context.Context, count int, comment string, minPoints, maxPoints int, requireQualDone bool) error {
	pages, err := s.store.RandomPagesByStatus(ctx, []model.PageStatus{model.PageStatusNotAnnotated}, count)
	if err != nil {
		return err
	}
	reqs, err := s.QualRequirements(ctx, minPoints, maxPoints, requireQualDone)
	if err != nil {
		return err
	}
	return s.Publish(ctx, pageIDs(pages), comment, s.cfg.MaxAssignments, reqs)
}

// PublishSpecific publishes the given pages regardless of their status.
func (s *Service) PublishSpecific(ctx context.Context, ids []string, comment string, minPoints, maxPoints int, requireQualDone bool) error {
	reqs, err := s.QualRequirements(ctx, minPoints, maxPoints, requireQualDone)
	if err != nil {
		return err
	}
	return s.Publish(ctx, ids, comment, s.cfg.MaxAssignments, reqs)
}

// PublishQualificationPages republishes the qualification set, gated so only
// workers without the qualification-tasks grant can take them. All flagged
// pages must already carry a reviewed ground truth.
func (s *Service) PublishQualificationPages(ctx context.Context, comment string, maxAssignments int) error {
	pages, err := s.store.QualificationPages(ctx)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.New("no qualification pages flagged")
	}
	for _, p := range pages {
		switch p.Status {
		case model.PageStatusNotAnnotated, model.PageStatusReviewed, model.PageStatusVerified:
		default:
			return fmt.Errorf("qualification page %s has status %s, want NOT_ANNOTATED, REVIEWED or VERIFIED", p.ID, p.Status)
		}
	}

	if err := s.store.AssertQualTypesExist(ctx); err != nil {
		return err
	}
	didTasksID, err := s.store.QualTypeID(ctx, s.cfg.QualDidTasksName)
	if err != nil {
		return err
	}
	reqs := []model.QualRequirement{{
		QualificationTypeID: didTasksID,
		Comparator:          model.ComparatorDoesNotExist,
		ActionsGuarded:      model.ActionsGuardedAll,
	}}
	return s.Publish(ctx, pageIDs(pages), comment, maxAssignments, reqs)
}

// MarkPagesForQualification flags existing pages as the qualification set.
// Every page must exist and already have at least one assignment to serve
// as ground truth.
func (s *Service) MarkPagesForQualification(ctx context.Context, ids []string) error {
	pages, err := s.store.PagesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(pages) != len(ids) {
		return fmt.Errorf("found %d of %d requested pages", len(pages), len(ids))
	}
	updates := make(map[string]store.PageUpdate, len(pages))
	for _, p := range pages {
		if len(p.Assignments) == 0 {
			return fmt.Errorf("page %s has no assignments to use as ground truth", p.ID)
		}
		updates[p.ID] = store.PageUpdate{SetQualificationPage: boolPtr(true)}
	}
	return s.store.ApplyPageUpdates(ctx, updates)
}

// confirmCost computes the worst-case marketplace cost of the batch and asks
// the operator unless prompts are disabled.
func (s *Service) confirmCost(reward string, nrPages, maxAssignments int) error {
	rewardValue, err := strconv.ParseFloat(reward, 64)
	if err != nil {
		return fmt.Errorf("parse reward %q: %w", reward, err)
	}
	fee := rewardValue * s.cfg.MarketplaceCut
	if fee < s.cfg.MinimumFee {
		fee = s.cfg.MinimumFee
	}
	cost := (rewardValue + fee) * float64(nrPages) * float64(maxAssignments)
	log.Printf("[pipeline] publishing %d pages with %d assignments each, max cost $%.2f", nrPages, maxAssignments, cost)
	if s.cfg.AcceptPrompts {
		return nil
	}
	if !s.Prompt(fmt.Sprintf("This will cost up to $%.2f. Continue? [y/N] ", cost)) {
		return ErrPublishCancelled
	}
	return nil
}

func pageIDs(pages []model.Page) []string {
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}

func statusPtr(s model.PageStatus) *model.PageStatus { return &s }

func boolPtr(b bool) *bool { return &b }
