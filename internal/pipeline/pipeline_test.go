package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/marketplace"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/store"
)

// ─────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────

type fakeStore struct {
	pages     map[string]*model.Page
	hitType   *model.HITType
	qualTypes map[string]string

	updates       map[string]store.PageUpdate
	reviewedMarks []string // "<pageID>/<assignmentID>"
	savedQual     []*model.QualType
	savedHITTypes []*model.HITType
	ingested      []model.Page
	workers       []model.Worker
	accepted      []store.AcceptedAssignment
	excludedIDs   []string
}

func newPipelineFakeStore() *fakeStore {
	return &fakeStore{
		pages:   make(map[string]*model.Page),
		hitType: &model.HITType{ID: "HT1", Reward: "0.15", Active: true},
		qualTypes: map[string]string{
			"did-tasks": "QT_DID",
			"points":    "QT_POINTS",
		},
		updates: make(map[string]store.PageUpdate),
	}
}

func (f *fakeStore) addPage(p model.Page) {
	cp := p
	f.pages[p.ID] = &cp
}

func (f *fakeStore) RandomPagesByStatus(_ context.Context, statuses []model.PageStatus, count int) ([]model.Page, error) {
	var out []model.Page
	for _, p := range f.pages {
		for _, st := range statuses {
			if p.Status == st {
				out = append(out, *p)
				break
			}
		}
	}
	if len(out) == 0 || (count > 0 && len(out) < count) {
		return nil, store.ErrNoPages
	}
	if count > 0 {
		out = out[:count]
	}
	return out, nil
}

func (f *fakeStore) PageByID(_ context.Context, id string) (*model.Page, error) {
	p, ok := f.pages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) PagesByIDs(_ context.Context, ids []string) ([]model.Page, error) {
	var out []model.Page
	for _, id := range ids {
		if p, ok := f.pages[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) Assignment(_ context.Context, pageID, assignmentID string) (*model.Assignment, error) {
	p, ok := f.pages[pageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a := p.AssignmentByID(assignmentID); a != nil {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) QualificationPages(_ context.Context) ([]model.Page, error) {
	var out []model.Page
	for _, p := range f.pages {
		if p.QualificationPage {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyPageUpdates(_ context.Context, updates map[string]store.PageUpdate) error {
	for id, u := range updates {
		f.updates[id] = u
	}
	return nil
}

func (f *fakeStore) UpdateAssignmentStatus(_ context.Context, pageID, assignmentID string, _ *model.AssignmentStatus, reviewed bool) error {
	if reviewed {
		f.reviewedMarks = append(f.reviewedMarks, pageID+"/"+assignmentID)
	}
	return nil
}

func (f *fakeStore) AssertQualTypesExist(_ context.Context) error {
	if f.qualTypes["did-tasks"] == "" || f.qualTypes["points"] == "" {
		return store.ErrQualTypesMissing
	}
	return nil
}

func (f *fakeStore) QualTypeID(_ context.Context, name string) (string, error) {
	return f.qualTypes[name], nil
}

func (f *fakeStore) SaveQualType(_ context.Context, qt *model.QualType) error {
	f.qualTypes[qt.Name] = qt.ID
	f.savedQual = append(f.savedQual, qt)
	return nil
}

func (f *fakeStore) SaveHITType(_ context.Context, ht *model.HITType) error {
	f.savedHITTypes = append(f.savedHITTypes, ht)
	return nil
}

func (f *fakeStore) ActiveHITType(_ context.Context, _ string) (*model.HITType, error) {
	if f.hitType == nil {
		return nil, store.ErrNotFound
	}
	return f.hitType, nil
}

func (f *fakeStore) AcceptedAssignments(_ context.Context, excludeIDs []string) ([]store.AcceptedAssignment, error) {
	f.excludedIDs = excludeIDs
	var out []store.AcceptedAssignment
	for _, aa := range f.accepted {
		skip := false
		for _, id := range excludeIDs {
			if aa.PageID == id {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, aa)
		}
	}
	return out, nil
}

func (f *fakeStore) IngestPages(_ context.Context, pages []model.Page) (int64, error) {
	f.ingested = append(f.ingested, pages...)
	return int64(len(pages)), nil
}

func (f *fakeStore) WorkersInPointRange(_ context.Context, _, _ *int) ([]model.Worker, error) {
	return f.workers, nil
}

func (f *fakeStore) StatusCounts(_ context.Context) ([]model.StatusCount, error) {
	counts := make(map[model.PageStatus]int64)
	for _, p := range f.pages {
		counts[p.Status]++
	}
	var out []model.StatusCount
	for st, c := range counts {
		out = append(out, model.StatusCount{Status: st, Count: c})
	}
	return out, nil
}

type fakeMarket struct {
	createdHITs   []string // question payloads
	failAfter     int      // fail the n+1th CreateHIT when >= 0
	hitStatus     map[string]*model.HITStatusInfo
	hitResults    map[string][]model.SubmittedAssignment
	notified      [][]string
	qualCreated   []string
	hitTypeID     string
	nextHITSerial int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		failAfter:  -1,
		hitStatus:  make(map[string]*model.HITStatusInfo),
		hitResults: make(map[string][]model.SubmittedAssignment),
		hitTypeID:  "HT1",
	}
}

func (f *fakeMarket) CreateHITType(_ context.Context, _ marketplace.HITTypeParams) (string, error) {
	return f.hitTypeID, nil
}

func (f *fakeMarket) CreateHIT(_ context.Context, _, question string, _, _ int, _ []model.QualRequirement) (*model.CreatedHIT, error) {
	if f.failAfter >= 0 && len(f.createdHITs) >= f.failAfter {
		return nil, errors.New("marketplace unavailable")
	}
	f.createdHITs = append(f.createdHITs, question)
	f.nextHITSerial++
	return &model.CreatedHIT{ID: fmt.Sprintf("HIT%d", f.nextHITSerial), HTTPStatus: 200}, nil
}

func (f *fakeMarket) HITStatus(_ context.Context, hitID string) (*model.HITStatusInfo, error) {
	info, ok := f.hitStatus[hitID]
	if !ok {
		return nil, errors.New("unknown hit")
	}
	return info, nil
}

func (f *fakeMarket) HITResults(_ context.Context, hitID string) ([]model.SubmittedAssignment, error) {
	return f.hitResults[hitID], nil
}

func (f *fakeMarket) CreateQualType(_ context.Context, name, _ string) (string, error) {
	f.qualCreated = append(f.qualCreated, name)
	return "QT_" + name, nil
}

func (f *fakeMarket) NotifyWorkers(_ context.Context, _, _ string, workerIDs []string) error {
	if len(workerIDs) > 100 {
		return marketplace.ErrTooManyRecipients
	}
	f.notified = append(f.notified, workerIDs)
	return nil
}

// fakeComparer matches answers by their Comment field.
type fakeComparer struct {
	err error
}

func (f *fakeComparer) Compare(_ context.Context, _ string, a, b model.Answer) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return a.Comment == b.Comment, nil
}

func (f *fakeComparer) CropAnswer(_ context.Context, _ string, a model.Answer) (model.Answer, error) {
	return a, f.err
}

type qualAttempt struct {
	workerID string
	pageID   string
	passed   bool
}

type fakeLedger struct {
	attempts  []qualAttempt
	awarded   []string
	penalized [][]string
	synced    [][]string
	granted   [][]string
}

func (f *fakeLedger) AwardVerificationPoint(_ context.Context, workerID string, _ bool) error {
	f.awarded = append(f.awarded, workerID)
	return nil
}

func (f *fakeLedger) ApplyRejectionPenalty(_ context.Context, workerIDs []string) error {
	f.penalized = append(f.penalized, workerIDs)
	return nil
}

func (f *fakeLedger) RecordQualificationAttempt(_ context.Context, workerID, pageID string, passed bool) error {
	f.attempts = append(f.attempts, qualAttempt{workerID, pageID, passed})
	return nil
}

func (f *fakeLedger) SyncScores(_ context.Context, workerIDs []string) {
	f.synced = append(f.synced, workerIDs)
}

func (f *fakeLedger) SyncQualificationGrants(_ context.Context, workerIDs []string) {
	f.granted = append(f.granted, workerIDs)
}

func pipelineTestConfig() *config.Config {
	return &config.Config{
		EnvName:          "sandbox",
		ExternalURL:      "https://annotate.example.com",
		ImageURLBase:     "https://img.example.com/",
		ImageExtension:   ".png",
		MaxAssignments:   2,
		HITLifetimeSec:   600,
		MarketplaceCut:   0.2,
		MinimumFee:       0.01,
		AcceptPrompts:    true,
		QualDidTasksName: "did-tasks",
		QualPointsName:   "points",
	}
}

func newTestService() (*Service, *fakeStore, *fakeMarket, *fakeLedger) {
	st := newPipelineFakeStore()
	market := newFakeMarket()
	ledg := &fakeLedger{}
	svc := NewService(st, market, &fakeComparer{}, ledg, pipelineTestConfig())
	return svc, st, market, ledg
}
