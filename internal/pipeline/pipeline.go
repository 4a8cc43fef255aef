// Package pipeline drives the page lifecycle: publication of pages as
// marketplace tasks, retrieval of submitted results and the
// inter-annotator evaluation that promotes or defers pages.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/ledger"
	"github.com/pagecrowd/pagecrowd/internal/marketplace"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// Store is the persistence surface the pipeline consumes.
type Store interface {
	RandomPagesByStatus(ctx context.Context, statuses []model.PageStatus, count int) ([]model.Page, error)
	PageByID(ctx context.Context, id string) (*model.Page, error)
	PagesByIDs(ctx context.Context, ids []string) ([]model.Page, error)
	Assignment(ctx context.Context, pageID, assignmentID string) (*model.Assignment, error)
	QualificationPages(ctx context.Context) ([]model.Page, error)
	ApplyPageUpdates(ctx context.Context, updates map[string]store.PageUpdate) error
	UpdateAssignmentStatus(ctx context.Context, pageID, assignmentID string, status *model.AssignmentStatus, reviewed bool) error
	AssertQualTypesExist(ctx context.Context) error
	QualTypeID(ctx context.Context, name string) (string, error)
	SaveQualType(ctx context.Context, qt *model.QualType) error
	SaveHITType(ctx context.Context, ht *model.HITType) error
	ActiveHITType(ctx context.Context, id string) (*model.HITType, error)
	AcceptedAssignments(ctx context.Context, excludeIDs []string) ([]store.AcceptedAssignment, error)
	IngestPages(ctx context.Context, pages []model.Page) (int64, error)
	WorkersInPointRange(ctx context.Context, min, max *int) ([]model.Worker, error)
	StatusCounts(ctx context.Context) ([]model.StatusCount, error)
}

// Marketplace is the slice of the marketplace client the pipeline consumes.
type Marketplace interface {
	CreateHITType(ctx context.Context, p marketplace.HITTypeParams) (string, error)
	CreateHIT(ctx context.Context, hitTypeID, question string, maxAssignments, lifetimeSec int, reqs []model.QualRequirement) (*model.CreatedHIT, error)
	HITStatus(ctx context.Context, hitID string) (*model.HITStatusInfo, error)
	HITResults(ctx context.Context, hitID string) ([]model.SubmittedAssignment, error)
	CreateQualType(ctx context.Context, name, description string) (string, error)
	NotifyWorkers(ctx context.Context, subject, text string, workerIDs []string) error
}

// Comparer runs the agreement check between two answers for a page.
type Comparer interface {
	Compare(ctx context.Context, pageID string, answerA, answerB model.Answer) (bool, error)
	CropAnswer(ctx context.Context, pageID string, a model.Answer) (model.Answer, error)
}

// Service orchestrates publication, result ingestion and evaluation.
type Service struct {
	store    Store
	market   Marketplace
	comparer Comparer
	ledger   ledger.Ledger
	cfg      *config.Config

	// Prompt asks the operator for confirmation; swapped out in tests.
	Prompt func(msg string) bool
}

// NewService creates the pipeline service.
func NewService(st Store, market Marketplace, comparer Comparer, ledg ledger.Ledger, cfg *config.Config) *Service {
	return &Service{
		store:    st,
		market:   market,
		comparer: comparer,
		ledger:   ledg,
		cfg:      cfg,
		Prompt:   stdinPrompt,
	}
}

// stdinPrompt asks on the terminal and accepts only an explicit "y".
func stdinPrompt(msg string) bool {
	fmt.Print(msg)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(answer) == "y"
}

// StatusCounts surfaces the per-status page totals for the CLI and dashboard.
func (s *Service) StatusCounts(ctx context.Context) ([]model.StatusCount, error) {
	return s.store.StatusCounts(ctx)
}

// CompareAssignments runs the agreement check between two stored
// assignments of the same page.
func (s *Service) CompareAssignments(ctx context.Context, pageID, assignmentID1, assignmentID2 string) (bool, error) {
	a1, err := s.store.Assignment(ctx, pageID, assignmentID1)
	if err != nil {
		return false, err
	}
	a2, err := s.store.Assignment(ctx, pageID, assignmentID2)
	if err != nil {
		return false, err
	}
	return s.comparer.Compare(ctx, pageID, a1.Answer, a2.Answer)
}
