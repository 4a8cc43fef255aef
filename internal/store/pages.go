package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ─────────────────────────────────────────────
// Typed per-document update commands
//
// Each PageUpdate is applied as one independent UPDATE keyed by page id;
// a failure on one page never blocks the others.
// ─────────────────────────────────────────────

// PageUpdate is the typed equivalent of a per-document update operation:
// set / push / unset, never read-modify-write.
type PageUpdate struct {
	SetStatus               *model.PageStatus
	PushHIT                 *model.HITRef
	PushAssignments         []model.Assignment
	SetAcceptedAssignment   *string
	ClearAcceptedAssignment bool
	SetQualificationPage    *bool
}

// ApplyPageUpdates executes one UPDATE per page. Errors are logged per
// document and aggregated; successful pages are committed regardless.
func (s *Store) ApplyPageUpdates(ctx context.Context, updates map[string]PageUpdate) error {
	var errs []error
	modified := 0
	for pageID, u := range updates {
		if err := s.applyPageUpdate(ctx, pageID, u); err != nil {
			log.Printf("[store] page update %s error: %v", pageID, err)
			errs = append(errs, fmt.Errorf("page %s: %w", pageID, err))
			continue
		}
		modified++
	}
	log.Printf("[store] updated %d/%d page document(s)", modified, len(updates))
	return errors.Join(errs...)
}

func (s *Store) applyPageUpdate(ctx context.Context, pageID string, u PageUpdate) error {
	vals := map[string]interface{}{}
	if u.SetStatus != nil {
		vals["status"] = *u.SetStatus
	}
	if u.SetQualificationPage != nil {
		vals["qualification_page"] = *u.SetQualificationPage
	}
	if u.SetAcceptedAssignment != nil {
		vals["accepted_assignment_id"] = *u.SetAcceptedAssignment
	}
	if u.ClearAcceptedAssignment {
		vals["accepted_assignment_id"] = gorm.Expr("NULL")
	}
	if u.PushHIT != nil {
		b, err := json.Marshal([]model.HITRef{*u.PushHIT})
		if err != nil {
			return err
		}
		vals["hits"] = gorm.Expr("COALESCE(hits, '[]'::jsonb) || ?::jsonb", string(b))
	}
	if len(u.PushAssignments) > 0 {
		b, err := json.Marshal(u.PushAssignments)
		if err != nil {
			return err
		}
		vals["assignments"] = gorm.Expr("COALESCE(assignments, '[]'::jsonb) || ?::jsonb", string(b))
	}
	if len(vals) == 0 {
		return nil
	}
	vals["updated_at"] = gorm.Expr("now()")

	res := s.db.WithContext(ctx).Model(&model.Page{}).Where("id = ?", pageID).Updates(vals)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAssignmentStatus patches a single assignment inside a page's
// assignment list, matched by its id, in one atomic statement. A nil status
// only flips the reviewed flag. A page without the assignment counts as an
// unmatched document and returns ErrNotFound.
func (s *Store) UpdateAssignmentStatus(ctx context.Context, pageID, assignmentID string, status *model.AssignmentStatus, reviewed bool) error {
	patch := map[string]interface{}{"reviewed": reviewed}
	if status != nil {
		patch["status"] = *status
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Exec(`
		UPDATE pages SET assignments = (
			SELECT jsonb_agg(
				CASE WHEN elem->>'assignment_id' = ? THEN elem || ?::jsonb ELSE elem END
			)
			FROM jsonb_array_elements(assignments) AS elem
		), updated_at = now()
		WHERE id = ? AND assignments IS NOT NULL AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(assignments) AS elem
			WHERE elem->>'assignment_id' = ?
		)`,
		assignmentID, string(b), pageID, assignmentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ─────────────────────────────────────────────
// Page queries
// ─────────────────────────────────────────────

// RandomPagesByStatus samples pages in any of the given statuses, honoring
// the active-group filter. count == 0 returns all matches. When count > 0
// and fewer pages match, ErrNoPages is returned: publishing fewer pages than
// requested is never done silently.
func (s *Store) RandomPagesByStatus(ctx context.Context, statuses []model.PageStatus, count int) ([]model.Page, error) {
	q := s.groupFilter(s.db.WithContext(ctx).Where("status IN ?", statuses))
	if count > 0 {
		q = q.Order("random()").Limit(count)
	}

	var pages []model.Page
	if err := q.Find(&pages).Error; err != nil {
		return nil, err
	}
	if len(pages) == 0 || (count > 0 && len(pages) < count) {
		return nil, fmt.Errorf("%w: statuses %v, wanted %d, found %d", ErrNoPages, statuses, count, len(pages))
	}
	return pages, nil
}

// PageByID fetches a single page or ErrNotFound.
func (s *Store) PageByID(ctx context.Context, id string) (*model.Page, error) {
	var page model.Page
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&page).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("page %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// PagesByIDs fetches pages by id; missing ids are simply absent from the result.
func (s *Store) PagesByIDs(ctx context.Context, ids []string) ([]model.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var pages []model.Page
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// Assignment fetches one assignment inside a page, or ErrNotFound.
func (s *Store) Assignment(ctx context.Context, pageID, assignmentID string) (*model.Assignment, error) {
	page, err := s.PageByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if a := page.AssignmentByID(assignmentID); a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("assignment %s in page %s: %w", assignmentID, pageID, ErrNotFound)
}

// QualificationPages returns every page flagged as a qualification page.
func (s *Store) QualificationPages(ctx context.Context) ([]model.Page, error) {
	var pages []model.Page
	err := s.db.WithContext(ctx).Where("qualification_page = ?", true).Find(&pages).Error
	return pages, err
}

// StatusCounts aggregates page counts per status (group-filtered),
// ordered by ascending count.
func (s *Store) StatusCounts(ctx context.Context) ([]model.StatusCount, error) {
	var counts []model.StatusCount
	q := s.groupFilter(s.db.WithContext(ctx).Model(&model.Page{}))
	err := q.Select("status, COUNT(*) AS count").
		Group("status").
		Order("count ASC").
		Scan(&counts).Error
	return counts, err
}

// AcceptedAssignment pairs a page with its accepted submission.
type AcceptedAssignment struct {
	PageID     string
	Status     model.PageStatus
	Assignment model.Assignment
}

// AcceptedAssignments returns the accepted assignment of every REVIEWED or
// VERIFIED page not in excludeIDs. VERIFIED pages resolve through
// accepted_assignment_id; REVIEWED pages take their last assignment.
func (s *Store) AcceptedAssignments(ctx context.Context, excludeIDs []string) ([]AcceptedAssignment, error) {
	q := s.groupFilter(s.db.WithContext(ctx).
		Where("status IN ?", []model.PageStatus{model.PageStatusReviewed, model.PageStatusVerified}))
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}

	var pages []model.Page
	if err := q.Find(&pages).Error; err != nil {
		return nil, err
	}

	out := make([]AcceptedAssignment, 0, len(pages))
	for _, p := range pages {
		var chosen *model.Assignment
		if p.Status == model.PageStatusVerified && p.AcceptedAssignmentID != nil {
			chosen = p.AssignmentByID(*p.AcceptedAssignmentID)
		} else if len(p.Assignments) > 0 {
			chosen = &p.Assignments[len(p.Assignments)-1]
		}
		if chosen == nil {
			log.Printf("[store] page %s has status %s but no resolvable assignment", p.ID, p.Status)
			continue
		}
		out = append(out, AcceptedAssignment{PageID: p.ID, Status: p.Status, Assignment: *chosen})
	}
	return out, nil
}

// IngestPages bulk-inserts page records, skipping ids that already exist.
func (s *Store) IngestPages(ctx context.Context, pages []model.Page) (int64, error) {
	if len(pages) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(pages, 500)
	return res.RowsAffected, res.Error
}
