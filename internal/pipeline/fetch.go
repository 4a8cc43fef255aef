package pipeline

import (
	"context"
	"errors"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// FetchResults polls every SUBMITTED page's latest HIT and pulls in finished
// work. A reviewable HIT with no assignments left becomes RETRIEVED; one that
// timed out with open slots becomes EXPIRED. Poll failures on single pages
// are logged and skipped so one flaky HIT does not stall the whole batch.
func (s *Service) FetchResults(ctx context.Context) error {
	pages, err := s.store.RandomPagesByStatus(ctx, []model.PageStatus{model.PageStatusSubmitted}, 0)
	if err != nil {
		if errors.Is(err, store.ErrNoPages) {
			log.Printf("[pipeline] no submitted pages to fetch")
			return nil
		}
		return err
	}

	updates := make(map[string]store.PageUpdate)
	var retrieved, expired, failed, feedbackCount int
	for _, page := range pages {
		hitID := page.LatestHITID()
		if hitID == "" {
			log.Printf("[pipeline] page %s is SUBMITTED but has no hit, skipping", page.ID)
			failed++
			continue
		}
		info, err := s.market.HITStatus(ctx, hitID)
		if err != nil {
			log.Printf("[pipeline] hit status for page %s (hit %s): %v", page.ID, hitID, err)
			failed++
			continue
		}
		if info.Status != model.HITStatusReviewable {
			continue
		}

		newStatus := model.PageStatusRetrieved
		if info.AssignmentsAvailable > 0 {
			newStatus = model.PageStatusExpired
			expired++
		} else {
			retrieved++
		}

		results, err := s.market.HITResults(ctx, hitID)
		if err != nil {
			log.Printf("[pipeline] hit results for page %s (hit %s): %v", page.ID, hitID, err)
			failed++
			continue
		}
		assignments := make([]model.Assignment, 0, len(results))
		for _, r := range results {
			if r.Answer.Feedback != "" {
				feedbackCount++
			}
			assignments = append(assignments, model.Assignment{
				ID:               r.AssignmentID,
				WorkerID:         r.WorkerID,
				HITID:            r.HITID,
				Answer:           r.Answer,
				SubmitTime:       r.SubmitTime,
				AutoApprovalTime: r.AutoApprovalTime,
				Environment:      s.cfg.EnvName,
			})
		}
		updates[page.ID] = store.PageUpdate{
			SetStatus:       statusPtr(newStatus),
			PushAssignments: assignments,
		}
	}

	if len(updates) > 0 {
		if err := s.store.ApplyPageUpdates(ctx, updates); err != nil {
			return err
		}
	}
	if feedbackCount > 0 {
		log.Printf("[pipeline] %d assignments carried worker feedback", feedbackCount)
	}
	log.Printf("[pipeline] fetch: %d retrieved, %d expired, %d failed, %d still pending",
		retrieved, expired, failed, len(pages)-len(updates)-failed)
	return nil
}
