package ledger

import (
	"context"

	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// ─────────────────────────────────────────────
// Qualification Ledger
//
// Tracks each worker's verification points and completed qualification
// tasks, and mirrors the resulting total score to the marketplace. The
// local ledger is the source of truth; marketplace pushes are best-effort
// and re-synced by later operations.
// ─────────────────────────────────────────────

// Store is the slice of persistence the ledger needs. Point deltas are
// applied as atomic per-document increments at the storage layer.
type Store interface {
	ApplyWorkerUpdates(ctx context.Context, updates map[string]store.WorkerUpdate) error
	WorkersByIDs(ctx context.Context, ids []string) ([]model.Worker, error)
	QualTypeID(ctx context.Context, name string) (string, error)
}

// Marketplace is the slice of the marketplace client the ledger needs.
type Marketplace interface {
	AssignQualification(ctx context.Context, qualTypeID, workerID string, value *int) error
}

// Ledger defines the worker reputation bookkeeping interface.
type Ledger interface {
	// AwardVerificationPoint grants +1 point for a manually accepted
	// assignment. reversePenalty additionally refunds the rejection
	// penalty when the assignment had been manually rejected before.
	// Idempotence per assignment is the caller's contract: an assignment
	// already marked MANUALLY_ACCEPTED must not be awarded again.
	AwardVerificationPoint(ctx context.Context, workerID string, reversePenalty bool) error

	// ApplyRejectionPenalty deducts the configured penalty from each
	// worker independently.
	ApplyRejectionPenalty(ctx context.Context, workerIDs []string) error

	// RecordQualificationAttempt marks that a worker attempted a
	// qualification page; a passing attempt adds the page to the worker's
	// completed set (set semantics, idempotent).
	RecordQualificationAttempt(ctx context.Context, workerID, pageID string, passed bool) error

	// SyncScores pushes each worker's total score to the marketplace.
	// Failures are logged, never fatal: the ledger already committed.
	SyncScores(ctx context.Context, workerIDs []string)

	// SyncQualificationGrants additionally grants the did-qualification
	// existence qualification before pushing scores, for workers that
	// just attempted qualification pages.
	SyncQualificationGrants(ctx context.Context, workerIDs []string)
}
