package review

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// ─────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────

type statusMark struct {
	assignmentID string
	status       *model.AssignmentStatus
	reviewed     bool
}

type fakeStore struct {
	pages   map[string]*model.Page
	updates map[string]store.PageUpdate
	marks   []statusMark
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pages:   make(map[string]*model.Page),
		updates: make(map[string]store.PageUpdate),
	}
}

func (f *fakeStore) AssertQualTypesExist(_ context.Context) error { return nil }

func (f *fakeStore) PageByID(_ context.Context, id string) (*model.Page, error) {
	p, ok := f.pages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ApplyPageUpdates(_ context.Context, updates map[string]store.PageUpdate) error {
	for id, u := range updates {
		f.updates[id] = u
	}
	return nil
}

func (f *fakeStore) UpdateAssignmentStatus(_ context.Context, _, assignmentID string, status *model.AssignmentStatus, reviewed bool) error {
	f.marks = append(f.marks, statusMark{assignmentID, status, reviewed})
	return nil
}

type fakeMarket struct {
	approved []string
	rejected []string
}

func (f *fakeMarket) ApproveAssignment(_ context.Context, assignmentID, _ string) error {
	f.approved = append(f.approved, assignmentID)
	return nil
}

func (f *fakeMarket) RejectAssignment(_ context.Context, assignmentID, _ string) error {
	f.rejected = append(f.rejected, assignmentID)
	return nil
}

type awardCall struct {
	workerID       string
	reversePenalty bool
}

type fakeLedger struct {
	awards    []awardCall
	penalized [][]string
}

func (f *fakeLedger) AwardVerificationPoint(_ context.Context, workerID string, reversePenalty bool) error {
	f.awards = append(f.awards, awardCall{workerID, reversePenalty})
	return nil
}

func (f *fakeLedger) ApplyRejectionPenalty(_ context.Context, workerIDs []string) error {
	f.penalized = append(f.penalized, workerIDs)
	return nil
}

func (f *fakeLedger) RecordQualificationAttempt(_ context.Context, _, _ string, _ bool) error {
	return nil
}

func (f *fakeLedger) SyncScores(_ context.Context, _ []string)              {}
func (f *fakeLedger) SyncQualificationGrants(_ context.Context, _ []string) {}

func newTestService() (*Service, *fakeStore, *fakeMarket, *fakeLedger) {
	st := newFakeStore()
	market := &fakeMarket{}
	ledg := &fakeLedger{}
	svc := NewService(st, market, ledg, &config.Config{EnvName: "sandbox", RejectedAssignmentPenalty: 2})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, st, market, ledg
}

func statusOf(s model.AssignmentStatus) *model.AssignmentStatus { return &s }

func deferredPage(assignments ...model.Assignment) model.Page {
	return model.Page{
		ID:          "doc-1",
		Status:      model.PageStatusDeferred,
		Assignments: model.AssignmentList(assignments),
	}
}

// inside the auto-approval window relative to the pinned clock
var approvalOpen = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// ─────────────────────────────────────────────
// AcceptAsIs
// ─────────────────────────────────────────────

func TestAcceptAsIs(t *testing.T) {
	ctx := context.Background()
	svc, st, market, ledg := newTestService()
	p := deferredPage(model.Assignment{ID: "A1", WorkerID: "W1", AutoApprovalTime: approvalOpen})
	st.pages["doc-1"] = &p

	require.NoError(t, svc.AcceptAsIs(ctx, "doc-1", "A1"))

	u := st.updates["doc-1"]
	require.NotNil(t, u.SetStatus)
	assert.Equal(t, model.PageStatusVerified, *u.SetStatus)
	require.NotNil(t, u.SetAcceptedAssignment)
	assert.Equal(t, "A1", *u.SetAcceptedAssignment)

	require.Len(t, ledg.awards, 1)
	assert.Equal(t, awardCall{"W1", false}, ledg.awards[0])
	assert.Equal(t, []string{"A1"}, market.approved)

	require.Len(t, st.marks, 1)
	require.NotNil(t, st.marks[0].status)
	assert.Equal(t, model.AssignmentManuallyAccepted, *st.marks[0].status)
	assert.True(t, st.marks[0].reviewed)
}

func TestAcceptAsIs_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, st, market, ledg := newTestService()
	p := deferredPage(model.Assignment{
		ID:               "A1",
		WorkerID:         "W1",
		AutoApprovalTime: approvalOpen,
		Status:           statusOf(model.AssignmentManuallyAccepted),
		Reviewed:         true,
	})
	st.pages["doc-1"] = &p

	require.NoError(t, svc.AcceptAsIs(ctx, "doc-1", "A1"))

	// page state is re-applied, but no second reward or approval
	require.NotNil(t, st.updates["doc-1"].SetStatus)
	assert.Equal(t, model.PageStatusVerified, *st.updates["doc-1"].SetStatus)
	assert.Empty(t, ledg.awards)
	assert.Empty(t, market.approved)
	assert.Empty(t, st.marks)
}

func TestAcceptAsIs_ReversesEarlierRejection(t *testing.T) {
	ctx := context.Background()
	svc, st, _, ledg := newTestService()
	p := deferredPage(model.Assignment{
		ID:               "A1",
		WorkerID:         "W1",
		AutoApprovalTime: approvalOpen,
		Status:           statusOf(model.AssignmentManuallyRejected),
		Reviewed:         true,
	})
	st.pages["doc-1"] = &p

	require.NoError(t, svc.AcceptAsIs(ctx, "doc-1", "A1"))

	require.Len(t, ledg.awards, 1)
	assert.Equal(t, awardCall{"W1", true}, ledg.awards[0])
}

func TestAcceptAsIs_PastApprovalWindow(t *testing.T) {
	ctx := context.Background()
	svc, st, market, _ := newTestService()
	closed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p := deferredPage(model.Assignment{ID: "A1", WorkerID: "W1", AutoApprovalTime: closed})
	st.pages["doc-1"] = &p

	require.NoError(t, svc.AcceptAsIs(ctx, "doc-1", "A1"))

	// already auto-approved on the marketplace, no explicit call
	assert.Empty(t, market.approved)
}

func TestAcceptAsIs_UnknownAssignment(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService()
	p := deferredPage(model.Assignment{ID: "A1", WorkerID: "W1"})
	st.pages["doc-1"] = &p

	err := svc.AcceptAsIs(ctx, "doc-1", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// ─────────────────────────────────────────────
// AcceptEdited
// ─────────────────────────────────────────────

func TestAcceptEdited(t *testing.T) {
	ctx := context.Background()
	svc, st, _, ledg := newTestService()
	p := deferredPage(model.Assignment{ID: "A1", WorkerID: "W1", Answer: model.Answer{Comment: "orig"}})
	st.pages["doc-1"] = &p

	edited := model.Answer{CanvasWidth: 800, CanvasHeight: 600, Comment: "edited"}
	require.NoError(t, svc.AcceptEdited(ctx, "doc-1", "A1", edited))

	u := st.updates["doc-1"]
	require.NotNil(t, u.SetStatus)
	assert.Equal(t, model.PageStatusVerified, *u.SetStatus)

	require.Len(t, u.PushAssignments, 1)
	added := u.PushAssignments[0]
	assert.Regexp(t, regexp.MustCompile(`^ADMIN_A1_[A-Z0-9]{6}$`), added.ID)
	assert.Equal(t, AdminWorkerID, added.WorkerID)
	assert.Equal(t, "edited", added.Answer.Comment)
	assert.True(t, added.Reviewed)

	require.NotNil(t, u.SetAcceptedAssignment)
	assert.Equal(t, added.ID, *u.SetAcceptedAssignment)

	// edits never reward anyone
	assert.Empty(t, ledg.awards)
}

// ─────────────────────────────────────────────
// Reject
// ─────────────────────────────────────────────

func TestReject_PenalizesLastTwoUnflagged(t *testing.T) {
	ctx := context.Background()
	svc, st, market, ledg := newTestService()
	p := deferredPage(
		model.Assignment{ID: "A1", WorkerID: "W1", AutoApprovalTime: approvalOpen},
		model.Assignment{ID: "A2", WorkerID: "W2", AutoApprovalTime: approvalOpen},
	)
	accepted := "A1"
	p.AcceptedAssignmentID = &accepted
	st.pages["doc-1"] = &p

	require.NoError(t, svc.Reject(ctx, "doc-1", "boxes too loose"))

	assert.ElementsMatch(t, []string{"A1", "A2"}, market.rejected)
	require.Len(t, ledg.penalized, 1)
	assert.ElementsMatch(t, []string{"W1", "W2"}, ledg.penalized[0])

	require.Len(t, st.marks, 2)
	for _, m := range st.marks {
		require.NotNil(t, m.status)
		assert.Equal(t, model.AssignmentManuallyRejected, *m.status)
		assert.True(t, m.reviewed)
	}

	u := st.updates["doc-1"]
	require.NotNil(t, u.SetStatus)
	assert.Equal(t, model.PageStatusRejected, *u.SetStatus)
	assert.True(t, u.ClearAcceptedAssignment)
}

func TestReject_SkipsAssignmentsWithManualStatus(t *testing.T) {
	ctx := context.Background()
	svc, st, market, ledg := newTestService()
	p := deferredPage(
		model.Assignment{
			ID: "A1", WorkerID: "W1", AutoApprovalTime: approvalOpen,
			Status: statusOf(model.AssignmentManuallyRejected), Reviewed: true,
		},
		model.Assignment{ID: "A2", WorkerID: "W2", AutoApprovalTime: approvalOpen},
	)
	st.pages["doc-1"] = &p

	require.NoError(t, svc.Reject(ctx, "doc-1", ""))

	// the already-rejected assignment is not penalized again
	assert.Equal(t, []string{"A2"}, market.rejected)
	require.Len(t, ledg.penalized, 1)
	assert.Equal(t, []string{"W2"}, ledg.penalized[0])
}

func TestReject_OnlyLastTwoConsidered(t *testing.T) {
	ctx := context.Background()
	svc, st, market, _ := newTestService()
	p := deferredPage(
		model.Assignment{ID: "A1", WorkerID: "W1", AutoApprovalTime: approvalOpen},
		model.Assignment{ID: "A2", WorkerID: "W2", AutoApprovalTime: approvalOpen},
		model.Assignment{ID: "A3", WorkerID: "W3", AutoApprovalTime: approvalOpen},
	)
	st.pages["doc-1"] = &p

	require.NoError(t, svc.Reject(ctx, "doc-1", ""))

	assert.ElementsMatch(t, []string{"A2", "A3"}, market.rejected)
	assert.True(t, st.updates["doc-1"].ClearAcceptedAssignment)
}
