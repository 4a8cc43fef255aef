package pipeline

import (
	"context"
	"errors"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// assignmentMark pins one assignment of one page for a reviewed-flag update.
type assignmentMark struct {
	pageID       string
	assignmentID string
}

// EvalRetrieved evaluates all RETRIEVED pages. Regular pages auto-pass to
// REVIEWED when their last two assignments agree and fall back to DEFERRED
// otherwise. Qualification pages run the side channel: every unreviewed
// assignment is scored against the first assignment, which serves as ground
// truth, and credits the worker's qualification record on a match.
func (s *Service) EvalRetrieved(ctx context.Context) error {
	if err := s.store.AssertQualTypesExist(ctx); err != nil {
		return err
	}
	pages, err := s.store.RandomPagesByStatus(ctx, []model.PageStatus{model.PageStatusRetrieved}, 0)
	if err != nil {
		if errors.Is(err, store.ErrNoPages) {
			log.Printf("[pipeline] no retrieved pages to evaluate")
			return nil
		}
		return err
	}

	var passed, deferred, rejected []string
	var marks []assignmentMark
	attempted := make(map[string]struct{})

	for _, page := range pages {
		switch {
		case len(page.Assignments) == 0:
			log.Printf("[pipeline] page %s has no assignments", page.ID)
			rejected = append(rejected, page.ID)
		case len(page.Assignments) == 1:
			deferred = append(deferred, page.ID)
		case page.QualificationPage:
			groundTruth := page.Assignments[0]
			for _, a := range page.Assignments {
				if a.Reviewed {
					continue
				}
				match, err := s.comparer.Compare(ctx, page.ID, groundTruth.Answer, a.Answer)
				if err != nil {
					return err
				}
				if err := s.ledger.RecordQualificationAttempt(ctx, a.WorkerID, page.ID, match); err != nil {
					return err
				}
				attempted[a.WorkerID] = struct{}{}
				marks = append(marks, assignmentMark{pageID: page.ID, assignmentID: a.ID})
			}
		default:
			if len(page.Assignments) > 2 {
				log.Printf("[pipeline] page %s has %d assignments, only the last two are evaluated", page.ID, len(page.Assignments))
			}
			last := page.LastAssignments(2)
			match, err := s.comparer.Compare(ctx, page.ID, last[0].Answer, last[1].Answer)
			if err != nil {
				return err
			}
			if match {
				passed = append(passed, page.ID)
			} else {
				deferred = append(deferred, page.ID)
			}
		}
	}

	log.Printf("[pipeline] evaluation: %d passed, %d deferred, %d rejected", len(passed), len(deferred), len(rejected))

	updates := make(map[string]store.PageUpdate)
	for _, id := range passed {
		updates[id] = store.PageUpdate{SetStatus: statusPtr(model.PageStatusReviewed)}
	}
	for _, id := range deferred {
		updates[id] = store.PageUpdate{SetStatus: statusPtr(model.PageStatusDeferred)}
	}
	for _, id := range rejected {
		updates[id] = store.PageUpdate{SetStatus: statusPtr(model.PageStatusRejected)}
	}
	if len(updates) > 0 {
		if err := s.store.ApplyPageUpdates(ctx, updates); err != nil {
			return err
		}
	}
	for _, m := range marks {
		if err := s.store.UpdateAssignmentStatus(ctx, m.pageID, m.assignmentID, nil, true); err != nil {
			return err
		}
	}

	if len(attempted) > 0 {
		workerIDs := make([]string, 0, len(attempted))
		for id := range attempted {
			workerIDs = append(workerIDs, id)
		}
		s.ledger.SyncQualificationGrants(ctx, workerIDs)
	}
	return nil
}
