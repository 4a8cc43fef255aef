package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// fakeStore applies worker update commands to in-memory worker records with
// the same increment and set semantics as the SQL upsert.
type fakeStore struct {
	workers   map[string]*model.Worker
	qualTypes map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workers: make(map[string]*model.Worker),
		qualTypes: map[string]string{
			"did-tasks": "QT_DID",
			"points":    "QT_POINTS",
		},
	}
}

func (f *fakeStore) ApplyWorkerUpdates(_ context.Context, updates map[string]store.WorkerUpdate) error {
	for id, u := range updates {
		w, ok := f.workers[id]
		if !ok {
			w = &model.Worker{ID: id}
			f.workers[id] = w
		}
		w.VerificationPoints += u.PointsDelta
		if u.AddQualPage != "" && !w.QualPagesCompleted.Contains(u.AddQualPage) {
			w.QualPagesCompleted = append(w.QualPagesCompleted, u.AddQualPage)
		}
		if u.SetDidQualTasks {
			w.DidQualificationTasks = true
		}
	}
	return nil
}

func (f *fakeStore) WorkersByIDs(_ context.Context, ids []string) ([]model.Worker, error) {
	var out []model.Worker
	for _, id := range ids {
		if w, ok := f.workers[id]; ok {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeStore) QualTypeID(_ context.Context, name string) (string, error) {
	return f.qualTypes[name], nil
}

type grant struct {
	qualTypeID string
	workerID   string
	value      *int
}

type fakeMarket struct {
	grants []grant
	err    error
}

func (f *fakeMarket) AssignQualification(_ context.Context, qualTypeID, workerID string, value *int) error {
	if f.err != nil {
		return f.err
	}
	f.grants = append(f.grants, grant{qualTypeID, workerID, value})
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		QualDidTasksName:          "did-tasks",
		QualPointsName:            "points",
		RejectedAssignmentPenalty: 2,
	}
}

func (f *fakeMarket) lastScoreFor(workerID string) *int {
	var last *int
	for _, g := range f.grants {
		if g.workerID == workerID && g.qualTypeID == "QT_POINTS" {
			last = g.value
		}
	}
	return last
}

func TestAwardVerificationPoint(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	market := &fakeMarket{}
	ledg := NewLedger(st, market, testConfig())

	require.NoError(t, ledg.AwardVerificationPoint(ctx, "W1", false))
	assert.Equal(t, 1, st.workers["W1"].VerificationPoints)

	// score push carries the new total
	score := market.lastScoreFor("W1")
	require.NotNil(t, score)
	assert.Equal(t, 1, *score)
}

func TestAwardVerificationPoint_ReversesPenalty(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.workers["W1"] = &model.Worker{ID: "W1", VerificationPoints: -2}
	ledg := NewLedger(st, &fakeMarket{}, testConfig())

	require.NoError(t, ledg.AwardVerificationPoint(ctx, "W1", true))

	// -2 + 1 + penalty refund of 2
	assert.Equal(t, 1, st.workers["W1"].VerificationPoints)
}

func TestApplyRejectionPenalty(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.workers["W1"] = &model.Worker{ID: "W1", VerificationPoints: 5}
	market := &fakeMarket{}
	ledg := NewLedger(st, market, testConfig())

	require.NoError(t, ledg.ApplyRejectionPenalty(ctx, []string{"W1", "W2"}))

	assert.Equal(t, 3, st.workers["W1"].VerificationPoints)
	assert.Equal(t, -2, st.workers["W2"].VerificationPoints)

	score := market.lastScoreFor("W2")
	require.NotNil(t, score)
	assert.Equal(t, -2, *score)
}

func TestRecordQualificationAttempt(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	ledg := NewLedger(st, &fakeMarket{}, testConfig())

	require.NoError(t, ledg.RecordQualificationAttempt(ctx, "W1", "doc-01", true))
	require.NoError(t, ledg.RecordQualificationAttempt(ctx, "W1", "doc-02", false))
	// repeat pass keeps set semantics
	require.NoError(t, ledg.RecordQualificationAttempt(ctx, "W1", "doc-01", true))

	w := st.workers["W1"]
	assert.True(t, w.DidQualificationTasks)
	assert.Equal(t, model.StringList{"doc-01"}, w.QualPagesCompleted)
}

func TestTotalScoreInvariant(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	market := &fakeMarket{}
	ledg := NewLedger(st, market, testConfig())

	require.NoError(t, ledg.RecordQualificationAttempt(ctx, "W1", "doc-01", true))
	require.NoError(t, ledg.RecordQualificationAttempt(ctx, "W1", "doc-02", true))
	require.NoError(t, ledg.AwardVerificationPoint(ctx, "W1", false))
	require.NoError(t, ledg.ApplyRejectionPenalty(ctx, []string{"W1"}))

	w := st.workers["W1"]
	assert.Equal(t, w.VerificationPoints+len(w.QualPagesCompleted), w.TotalScore())
	assert.Equal(t, 1, w.TotalScore()) // 1 - 2 points, 2 qual pages

	score := market.lastScoreFor("W1")
	require.NotNil(t, score)
	assert.Equal(t, w.TotalScore(), *score)
}

func TestSyncQualificationGrants(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.workers["W1"] = &model.Worker{ID: "W1", VerificationPoints: 3}
	market := &fakeMarket{}
	ledg := NewLedger(st, market, testConfig())

	ledg.SyncQualificationGrants(ctx, []string{"W1"})

	require.Len(t, market.grants, 2)
	assert.Equal(t, "QT_DID", market.grants[0].qualTypeID)
	assert.Nil(t, market.grants[0].value)
	assert.Equal(t, "QT_POINTS", market.grants[1].qualTypeID)
	require.NotNil(t, market.grants[1].value)
	assert.Equal(t, 3, *market.grants[1].value)
}

func TestSyncScores_MarketFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	market := &fakeMarket{err: errors.New("marketplace down")}
	ledg := NewLedger(st, market, testConfig())

	// the local mutation must succeed even though the push fails
	require.NoError(t, ledg.AwardVerificationPoint(ctx, "W1", false))
	assert.Equal(t, 1, st.workers["W1"].VerificationPoints)
}
