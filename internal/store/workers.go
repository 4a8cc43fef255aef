package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/pagecrowd/pagecrowd/internal/model"
)

// ─────────────────────────────────────────────
// Worker ledger writes
//
// Point deltas are pushed down to the database as atomic increments so
// concurrent reviews touching the same worker cannot lose updates.
// ─────────────────────────────────────────────

// WorkerUpdate is the typed per-worker update command. All fields combine
// into a single upsert statement.
type WorkerUpdate struct {
	PointsDelta     int
	AddQualPage     string // set-semantics append to qual_pages_completed
	SetDidQualTasks bool
}

// ApplyWorkerUpdates upserts each worker document independently.
func (s *Store) ApplyWorkerUpdates(ctx context.Context, updates map[string]WorkerUpdate) error {
	var errs []error
	modified := 0
	for workerID, u := range updates {
		if err := s.applyWorkerUpdate(ctx, workerID, u); err != nil {
			log.Printf("[store] worker update %s error: %v", workerID, err)
			errs = append(errs, fmt.Errorf("worker %s: %w", workerID, err))
			continue
		}
		modified++
	}
	log.Printf("[store] updated %d/%d worker document(s)", modified, len(updates))
	return errors.Join(errs...)
}

func (s *Store) applyWorkerUpdate(ctx context.Context, workerID string, u WorkerUpdate) error {
	qualPages := "[]"
	if u.AddQualPage != "" {
		b, err := json.Marshal([]string{u.AddQualPage})
		if err != nil {
			return err
		}
		qualPages = string(b)
	}

	return s.db.WithContext(ctx).Exec(`
		INSERT INTO workers (id, verification_points, qual_pages_completed, did_qualification_tasks, environment, updated_at)
		VALUES (?, ?, ?::jsonb, ?, ?, now())
		ON CONFLICT (id) DO UPDATE SET
			verification_points = workers.verification_points + EXCLUDED.verification_points,
			qual_pages_completed = CASE
				WHEN EXCLUDED.qual_pages_completed = '[]'::jsonb THEN workers.qual_pages_completed
				WHEN workers.qual_pages_completed @> EXCLUDED.qual_pages_completed THEN workers.qual_pages_completed
				ELSE COALESCE(workers.qual_pages_completed, '[]'::jsonb) || EXCLUDED.qual_pages_completed
			END,
			did_qualification_tasks = workers.did_qualification_tasks OR EXCLUDED.did_qualification_tasks,
			updated_at = now()`,
		workerID, u.PointsDelta, qualPages, u.SetDidQualTasks, s.cfg.EnvName).Error
}

// ─────────────────────────────────────────────
// Worker queries
// ─────────────────────────────────────────────

// WorkersByIDs fetches worker records; absent workers are simply missing.
func (s *Store) WorkersByIDs(ctx context.Context, ids []string) ([]model.Worker, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var workers []model.Worker
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&workers).Error; err != nil {
		return nil, err
	}
	return workers, nil
}

// WorkersInPointRange returns workers whose verification points fall into
// the given (optional) bounds.
func (s *Store) WorkersInPointRange(ctx context.Context, min, max *int) ([]model.Worker, error) {
	q := s.db.WithContext(ctx).Model(&model.Worker{})
	if min != nil {
		q = q.Where("verification_points >= ?", *min)
	}
	if max != nil {
		q = q.Where("verification_points <= ?", *max)
	}
	var workers []model.Worker
	err := q.Find(&workers).Error
	return workers, err
}

// WorkerPointsDistribution buckets workers by verification points into
// nrBuckets-1 equal-width histogram buckets between the observed min and
// max (inclusive).
func (s *Store) WorkerPointsDistribution(ctx context.Context, nrBuckets int) ([]model.WorkerPointsBucket, error) {
	var bounds struct {
		Min *float64
		Max *float64
	}
	err := s.db.WithContext(ctx).Model(&model.Worker{}).
		Select("MIN(verification_points) AS min, MAX(verification_points) AS max").
		Scan(&bounds).Error
	if err != nil {
		return nil, err
	}
	if bounds.Min == nil || bounds.Max == nil {
		return nil, nil // no workers yet
	}
	lo, hi := *bounds.Min, *bounds.Max+1

	type bucketRow struct {
		Bucket int
		Count  int
	}
	var rows []bucketRow
	err = s.db.WithContext(ctx).Raw(`
		SELECT width_bucket(verification_points, ?, ?, ?) AS bucket, COUNT(*) AS count
		FROM workers GROUP BY bucket`,
		lo, hi, nrBuckets-1).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int, len(rows))
	for _, r := range rows {
		counts[r.Bucket] = r.Count
	}

	width := (hi - lo) / float64(nrBuckets-1)
	buckets := make([]model.WorkerPointsBucket, 0, nrBuckets-1)
	for i := 1; i < nrBuckets; i++ {
		begin := lo + float64(i-1)*width
		end := math.Min(lo+float64(i)*width, hi)
		n := counts[i]
		if i == nrBuckets-1 {
			// width_bucket puts values equal to the upper bound in bucket n+1
			n += counts[nrBuckets]
		}
		buckets = append(buckets, model.WorkerPointsBucket{Begin: begin, End: end, Count: n})
	}
	return buckets, nil
}
