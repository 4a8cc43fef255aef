package pipeline

import (
	"context"
	"errors"
	"log"
)

// NotifyWorkers sends a marketplace message to the given workers.
func (s *Service) NotifyWorkers(ctx context.Context, subject, text string, workerIDs []string) error {
	if len(workerIDs) == 0 {
		return errors.New("no workers to notify")
	}
	if err := s.market.NotifyWorkers(ctx, subject, text, workerIDs); err != nil {
		return err
	}
	log.Printf("[pipeline] notified %d workers", len(workerIDs))
	return nil
}

// NotifyWorkersInPointRange messages every worker whose verification points
// fall inside the given bounds. A nil bound is open.
func (s *Service) NotifyWorkersInPointRange(ctx context.Context, subject, text string, min, max *int) error {
	workers, err := s.store.WorkersInPointRange(ctx, min, max)
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		return errors.New("no workers in the given point range")
	}
	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	return s.NotifyWorkers(ctx, subject, text, ids)
}
