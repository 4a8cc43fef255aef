package ledger

import (
	"context"
	"log"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

type ledgerService struct {
	store  Store
	market Marketplace
	cfg    *config.Config
}

// NewLedger creates the qualification ledger backed by the given store and
// marketplace client.
func NewLedger(st Store, market Marketplace, cfg *config.Config) Ledger {
	return &ledgerService{store: st, market: market, cfg: cfg}
}

func (l *ledgerService) AwardVerificationPoint(ctx context.Context, workerID string, reversePenalty bool) error {
	points := 1
	if reversePenalty {
		points += l.cfg.RejectedAssignmentPenalty
	}
	log.Printf("[ledger] awarding %d verification point(s) to worker %s", points, workerID)

	err := l.store.ApplyWorkerUpdates(ctx, map[string]store.WorkerUpdate{
		workerID: {PointsDelta: points},
	})
	if err != nil {
		return err
	}
	l.SyncScores(ctx, []string{workerID})
	return nil
}

func (l *ledgerService) ApplyRejectionPenalty(ctx context.Context, workerIDs []string) error {
	if len(workerIDs) == 0 {
		return nil
	}
	updates := make(map[string]store.WorkerUpdate, len(workerIDs))
	for _, id := range workerIDs {
		updates[id] = store.WorkerUpdate{PointsDelta: -l.cfg.RejectedAssignmentPenalty}
	}
	log.Printf("[ledger] applying -%d point penalty to %d worker(s)", l.cfg.RejectedAssignmentPenalty, len(workerIDs))

	if err := l.store.ApplyWorkerUpdates(ctx, updates); err != nil {
		return err
	}
	l.SyncScores(ctx, workerIDs)
	return nil
}

func (l *ledgerService) RecordQualificationAttempt(ctx context.Context, workerID, pageID string, passed bool) error {
	u := store.WorkerUpdate{SetDidQualTasks: true}
	if passed {
		u.AddQualPage = pageID
	}
	return l.store.ApplyWorkerUpdates(ctx, map[string]store.WorkerUpdate{workerID: u})
}

func (l *ledgerService) SyncScores(ctx context.Context, workerIDs []string) {
	l.sync(ctx, workerIDs, false)
}

func (l *ledgerService) SyncQualificationGrants(ctx context.Context, workerIDs []string) {
	l.sync(ctx, workerIDs, true)
}

// sync pushes total scores (and optionally the existence qualification) to
// the marketplace. Every failure is logged and skipped; the local ledger
// stays authoritative.
func (l *ledgerService) sync(ctx context.Context, workerIDs []string, grantDidTasks bool) {
	if len(workerIDs) == 0 {
		return
	}

	pointsID, err := l.store.QualTypeID(ctx, l.cfg.QualPointsName)
	if err != nil || pointsID == "" {
		log.Printf("[ledger] cannot resolve points qualification type: %v", err)
		return
	}
	didTasksID := ""
	if grantDidTasks {
		didTasksID, err = l.store.QualTypeID(ctx, l.cfg.QualDidTasksName)
		if err != nil || didTasksID == "" {
			log.Printf("[ledger] cannot resolve did-qualification type: %v", err)
		}
	}

	workers, err := l.store.WorkersByIDs(ctx, workerIDs)
	if err != nil {
		log.Printf("[ledger] fetch workers for score sync error: %v", err)
		return
	}
	for _, w := range workers {
		if didTasksID != "" {
			if err := l.market.AssignQualification(ctx, didTasksID, w.ID, nil); err != nil {
				log.Printf("[ledger] grant did-qualification to worker %s error: %v", w.ID, err)
			}
		}
		total := w.TotalScore()
		if err := l.market.AssignQualification(ctx, pointsID, w.ID, &total); err != nil {
			log.Printf("[ledger] push score %d for worker %s error: %v", total, w.ID, err)
		}
	}
}
