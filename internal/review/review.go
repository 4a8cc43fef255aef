// Package review implements the admin decisions on deferred pages:
// accepting an assignment as-is, accepting an edited version of it, or
// rejecting the page outright.
package review

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/ledger"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// AdminWorkerID marks assignments synthesized from admin edits.
const AdminWorkerID = "ADMIN"

// Store is the persistence surface the review engine consumes.
type Store interface {
	AssertQualTypesExist(ctx context.Context) error
	PageByID(ctx context.Context, id string) (*model.Page, error)
	ApplyPageUpdates(ctx context.Context, updates map[string]store.PageUpdate) error
	UpdateAssignmentStatus(ctx context.Context, pageID, assignmentID string, status *model.AssignmentStatus, reviewed bool) error
}

// Marketplace is the slice of the marketplace client the review engine
// consumes. Approval and rejection are only possible inside the
// auto-approval window.
type Marketplace interface {
	ApproveAssignment(ctx context.Context, assignmentID, feedback string) error
	RejectAssignment(ctx context.Context, assignmentID, feedback string) error
}

// Service applies admin review decisions.
type Service struct {
	store  Store
	market Marketplace
	ledger ledger.Ledger
	cfg    *config.Config

	// now is swapped out in tests to pin the auto-approval window.
	now func() time.Time
}

// NewService creates the review engine.
func NewService(st Store, market Marketplace, ledg ledger.Ledger, cfg *config.Config) *Service {
	return &Service{
		store:  st,
		market: market,
		ledger: ledg,
		cfg:    cfg,
		now:    time.Now,
	}
}

// AcceptAsIs verifies the page with the given assignment as its accepted
// answer. The first acceptance awards the worker a verification point and
// approves the marketplace assignment; re-accepting an already accepted
// assignment only re-applies the page state.
func (s *Service) AcceptAsIs(ctx context.Context, pageID, assignmentID string) error {
	if err := s.store.AssertQualTypesExist(ctx); err != nil {
		return err
	}
	page, err := s.store.PageByID(ctx, pageID)
	if err != nil {
		return err
	}
	assignment := page.AssignmentByID(assignmentID)
	if assignment == nil {
		return fmt.Errorf("assignment %s on page %s: %w", assignmentID, pageID, store.ErrNotFound)
	}

	alreadyAccepted := assignment.Status != nil && *assignment.Status == model.AssignmentManuallyAccepted
	wasRejected := assignment.Status != nil && *assignment.Status == model.AssignmentManuallyRejected

	if err := s.store.ApplyPageUpdates(ctx, map[string]store.PageUpdate{
		pageID: {
			SetStatus:             statusPtr(model.PageStatusVerified),
			SetAcceptedAssignment: &assignmentID,
		},
	}); err != nil {
		return err
	}
	if alreadyAccepted {
		log.Printf("[review] assignment %s already accepted, skipping reward", assignmentID)
		return nil
	}

	if assignment.WorkerID != AdminWorkerID {
		if err := s.ledger.AwardVerificationPoint(ctx, assignment.WorkerID, wasRejected); err != nil {
			return err
		}
	}
	if s.now().Before(assignment.AutoApprovalTime) {
		if err := s.market.ApproveAssignment(ctx, assignmentID, ""); err != nil {
			log.Printf("[review] approve assignment %s: %v", assignmentID, err)
		}
	}
	status := model.AssignmentManuallyAccepted
	return s.store.UpdateAssignmentStatus(ctx, pageID, assignmentID, &status, true)
}

// AcceptEdited verifies the page with an admin-edited copy of an existing
// assignment's answer. The edit is appended as a new assignment owned by
// the ADMIN pseudo-worker; no reward is given.
func (s *Service) AcceptEdited(ctx context.Context, pageID, baseAssignmentID string, answer model.Answer) error {
	page, err := s.store.PageByID(ctx, pageID)
	if err != nil {
		return err
	}
	if page.AssignmentByID(baseAssignmentID) == nil {
		return fmt.Errorf("assignment %s on page %s: %w", baseAssignmentID, pageID, store.ErrNotFound)
	}

	newID := adminAssignmentID(baseAssignmentID)
	now := s.now()
	edited := model.Assignment{
		ID:          newID,
		WorkerID:    AdminWorkerID,
		Answer:      answer,
		SubmitTime:  now,
		Reviewed:    true,
		Environment: s.cfg.EnvName,
	}
	return s.store.ApplyPageUpdates(ctx, map[string]store.PageUpdate{
		pageID: {
			SetStatus:             statusPtr(model.PageStatusVerified),
			PushAssignments:       []model.Assignment{edited},
			SetAcceptedAssignment: &newID,
		},
	})
}

// Reject rejects the page. The last one or two assignments that do not
// already carry a manual status are rejected on the marketplace when still
// inside their auto-approval window, their workers are penalized, and the
// page loses its accepted assignment.
func (s *Service) Reject(ctx context.Context, pageID, feedback string) error {
	if err := s.store.AssertQualTypesExist(ctx); err != nil {
		return err
	}
	page, err := s.store.PageByID(ctx, pageID)
	if err != nil {
		return err
	}

	var penalized []string
	for _, a := range page.LastAssignments(2) {
		if a.HasTerminalStatus() {
			continue
		}
		if s.now().Before(a.AutoApprovalTime) {
			if err := s.market.RejectAssignment(ctx, a.ID, feedback); err != nil {
				log.Printf("[review] reject assignment %s: %v", a.ID, err)
			}
		} else {
			log.Printf("[review] assignment %s is past its auto-approval time, rejecting locally only", a.ID)
		}
		status := model.AssignmentManuallyRejected
		if err := s.store.UpdateAssignmentStatus(ctx, pageID, a.ID, &status, true); err != nil {
			return err
		}
		if a.WorkerID != AdminWorkerID {
			penalized = append(penalized, a.WorkerID)
		}
	}
	if len(penalized) > 0 {
		if err := s.ledger.ApplyRejectionPenalty(ctx, penalized); err != nil {
			return err
		}
	}

	return s.store.ApplyPageUpdates(ctx, map[string]store.PageUpdate{
		pageID: {
			SetStatus:               statusPtr(model.PageStatusRejected),
			ClearAcceptedAssignment: true,
		},
	})
}

// adminAssignmentID derives a fresh id for an admin edit of an assignment.
func adminAssignmentID(baseID string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return "ADMIN_" + baseID + "_" + suffix
}

func statusPtr(s model.PageStatus) *model.PageStatus { return &s }
