package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/btimofeyev/tutor-ai-sub003/internal/dto"
	"github.com/btimofeyev/tutor-ai-sub003/internal/models"
	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

type fakeWorkItems struct {
	items map[string][]models.WorkItem
	err   error
	calls int
}

func (f *fakeWorkItems) ListPending(_ context.Context, learnerID string, _, _ time.Time) ([]models.WorkItem, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.items[learnerID], nil
}

type fakePreferences struct {
	prefs map[string]*models.SchedulePreference
	err   error
}

func (f *fakePreferences) GetByLearner(_ context.Context, learnerID string) (*models.SchedulePreference, error) {
	if f.err != nil {
		return nil, f.err
	}
	pref, ok := f.prefs[learnerID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "preferences not found")
	}
	return pref, nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	existing []models.StudySession
	listErr  error
	failIDs  map[string]bool
	created  []models.StudySession
	listed   []string
}

func (f *fakeSessionStore) ListByLearners(_ context.Context, learnerIDs []string, _, _ time.Time) ([]models.StudySession, error) {
	f.listed = append(f.listed, learnerIDs...)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.existing, nil
}

func (f *fakeSessionStore) Create(_ context.Context, session *models.StudySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[session.ID] {
		return errors.New("connection reset")
	}
	f.created = append(f.created, *session)
	return nil
}

type fakeEngine struct {
	learnerReq scheduler.LearnerRequest
	familyReq  scheduler.FamilyRequest
	result     *scheduler.ScheduleResult
	family     *scheduler.FamilyResult
	err        error
}

func (f *fakeEngine) Generate(_ context.Context, req scheduler.LearnerRequest) (*scheduler.ScheduleResult, error) {
	f.learnerReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) CoordinateFamily(_ context.Context, req scheduler.FamilyRequest) (*scheduler.FamilyResult, error) {
	f.familyReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.family, nil
}

type fakePersistRecorder struct {
	ok, failed int
}

func (f *fakePersistRecorder) ObserveSessionPersist(ok bool) {
	if ok {
		f.ok++
		return
	}
	f.failed++
}

func studySessions(ids ...string) []models.StudySession {
	out := make([]models.StudySession, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.StudySession{ID: id, LearnerID: "learner-1", SubjectName: "Mathematics", StartTime: "16:00", DurationMinutes: 45})
	}
	return out
}

func defaultScheduleConfig() StudyScheduleConfig {
	return StudyScheduleConfig{
		StoreTimeout:     time.Second,
		SessionLength:    "medium",
		Distribution:     "evenly_distributed",
		CoordinationMode: "balanced",
		BlockedWindows:   []string{"12:00-13:00"},
	}
}

func TestStudyScheduleServiceGenerateLoadsMissingInputs(t *testing.T) {
	items := &fakeWorkItems{items: map[string][]models.WorkItem{
		"learner-1": {{ID: "w1", LearnerID: "learner-1", SubjectName: "Mathematics", ContentType: "lesson"}},
	}}
	maxMinutes := 90
	prefs := &fakePreferences{prefs: map[string]*models.SchedulePreference{
		"learner-1": {LearnerID: "learner-1", MaxDailyStudyMinutes: &maxMinutes},
	}}
	store := &fakeSessionStore{existing: studySessions("existing-1")}
	engine := &fakeEngine{result: &scheduler.ScheduleResult{LearnerID: "learner-1", Sessions: studySessions("s1", "s2")}}
	recorder := &fakePersistRecorder{}

	svc := NewStudyScheduleService(items, prefs, store, engine, recorder, nil, zap.NewNop(), defaultScheduleConfig())
	resp, err := svc.Generate(context.Background(), dto.GenerateScheduleRequest{
		LearnerID: "learner-1",
		StartDate: "2024-09-02",
		EndDate:   "2024-09-08",
	})
	require.NoError(t, err)

	req := engine.learnerReq
	assert.Equal(t, time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), req.StartDate)
	assert.Equal(t, time.Date(2024, 9, 8, 0, 0, 0, 0, time.UTC), req.EndDate)
	require.Len(t, req.Materials, 1)
	assert.Equal(t, "w1", req.Materials[0].ID)
	require.NotNil(t, req.Preferences)
	assert.Equal(t, 90, *req.Preferences.MaxDailyStudyMinutes)
	assert.Len(t, req.ExistingSessions, 1)
	assert.Equal(t, "medium", req.SessionLength)
	assert.Equal(t, "evenly_distributed", req.Distribution)
	require.Len(t, req.BlockedWindows, 1)
	assert.Equal(t, "12:00-13:00", req.BlockedWindows[0].String())
	assert.False(t, req.DisableAdvisory)

	assert.Equal(t, 2, resp.SessionsPersisted)
	assert.Zero(t, resp.PersistFailures)
	assert.Len(t, store.created, 2)
	assert.Equal(t, 2, recorder.ok)
}

func TestStudyScheduleServiceGenerateKeepsProvidedInputs(t *testing.T) {
	items := &fakeWorkItems{}
	engine := &fakeEngine{result: &scheduler.ScheduleResult{LearnerID: "learner-1"}}
	store := &fakeSessionStore{}
	useAdvisory := false
	persist := false

	svc := NewStudyScheduleService(items, &fakePreferences{}, store, engine, nil, nil, nil, defaultScheduleConfig())
	_, err := svc.Generate(context.Background(), dto.GenerateScheduleRequest{
		LearnerID:      "learner-1",
		StartDate:      "2024-09-02",
		EndDate:        "2024-09-03",
		Materials:      []models.WorkItem{},
		SessionLength:  "long",
		Distribution:   "front_loaded",
		BlockedWindows: []string{},
		UseAdvisory:    &useAdvisory,
		Persist:        &persist,
	})
	require.NoError(t, err)

	assert.Zero(t, items.calls)
	assert.Empty(t, engine.learnerReq.Materials)
	assert.Nil(t, engine.learnerReq.Preferences)
	assert.Empty(t, engine.learnerReq.BlockedWindows)
	assert.Equal(t, "long", engine.learnerReq.SessionLength)
	assert.Equal(t, "front_loaded", engine.learnerReq.Distribution)
	assert.True(t, engine.learnerReq.DisableAdvisory)
	assert.Empty(t, store.created)
}

func TestStudyScheduleServiceStoreReadFailuresDefault(t *testing.T) {
	items := &fakeWorkItems{err: errors.New("timeout")}
	prefs := &fakePreferences{err: errors.New("timeout")}
	store := &fakeSessionStore{listErr: errors.New("timeout")}
	engine := &fakeEngine{result: &scheduler.ScheduleResult{LearnerID: "learner-1"}}

	svc := NewStudyScheduleService(items, prefs, store, engine, nil, nil, nil, defaultScheduleConfig())
	resp, err := svc.Generate(context.Background(), dto.GenerateScheduleRequest{LearnerID: "learner-1", StartDate: "2024-09-02", EndDate: "2024-09-03"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Nil(t, engine.learnerReq.Materials)
	assert.Nil(t, engine.learnerReq.Preferences)
	assert.Nil(t, engine.learnerReq.ExistingSessions)
}

func TestStudyScheduleServiceCountsPersistFailures(t *testing.T) {
	store := &fakeSessionStore{failIDs: map[string]bool{"s2": true}}
	engine := &fakeEngine{result: &scheduler.ScheduleResult{LearnerID: "learner-1", Sessions: studySessions("s1", "s2", "s3")}}
	recorder := &fakePersistRecorder{}

	svc := NewStudyScheduleService(nil, nil, store, engine, recorder, nil, nil, defaultScheduleConfig())
	resp, err := svc.Generate(context.Background(), dto.GenerateScheduleRequest{LearnerID: "learner-1", StartDate: "2024-09-02", EndDate: "2024-09-03", Materials: []models.WorkItem{}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.SessionsPersisted)
	assert.Equal(t, 1, resp.PersistFailures)
	assert.Len(t, resp.Sessions, 3)
	assert.Equal(t, 2, recorder.ok)
	assert.Equal(t, 1, recorder.failed)
}

func TestStudyScheduleServiceValidation(t *testing.T) {
	engine := &fakeEngine{}
	svc := NewStudyScheduleService(nil, nil, nil, engine, nil, nil, nil, defaultScheduleConfig())

	cases := map[string]dto.GenerateScheduleRequest{
		"missing learner":   {StartDate: "2024-09-02", EndDate: "2024-09-03"},
		"bad date":          {LearnerID: "l", StartDate: "02/09/2024", EndDate: "2024-09-03"},
		"bad length":        {LearnerID: "l", StartDate: "2024-09-02", EndDate: "2024-09-03", SessionLength: "huge"},
		"bad distribution":  {LearnerID: "l", StartDate: "2024-09-02", EndDate: "2024-09-03", Distribution: "random"},
		"bad blocked range": {LearnerID: "l", StartDate: "2024-09-02", EndDate: "2024-09-03", BlockedWindows: []string{"13:00-12:00"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Generate(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
}

func TestStudyScheduleServicePropagatesEngineValidation(t *testing.T) {
	engine := &fakeEngine{err: appErrors.Clone(appErrors.ErrValidation, "date range exceeds 92 days")}
	svc := NewStudyScheduleService(nil, nil, nil, engine, nil, nil, nil, defaultScheduleConfig())
	_, err := svc.Generate(context.Background(), dto.GenerateScheduleRequest{LearnerID: "l", StartDate: "2024-01-01", EndDate: "2024-12-31"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestStudyScheduleServiceGenerateFamily(t *testing.T) {
	items := &fakeWorkItems{items: map[string][]models.WorkItem{
		"a": {{ID: "a1", SubjectName: "Mathematics"}},
		"b": {{ID: "b1", SubjectName: "History"}},
	}}
	store := &fakeSessionStore{existing: studySessions("prior")}
	engine := &fakeEngine{family: &scheduler.FamilyResult{
		FamilyID: "fam",
		Schedules: []scheduler.ScheduleResult{
			{LearnerID: "a", Sessions: studySessions("a-s1")},
			{LearnerID: "b", Sessions: studySessions("b-s1", "b-s2")},
		},
		Conflicts: []scheduler.Conflict{},
		Metadata:  scheduler.FamilyMetadata{Mode: scheduler.ModeStaggered},
	}}

	svc := NewStudyScheduleService(items, &fakePreferences{}, store, engine, nil, nil, nil, defaultScheduleConfig())
	resp, err := svc.GenerateFamily(context.Background(), dto.FamilyScheduleRequest{
		FamilyID:         "fam",
		Learners:         []dto.FamilyLearnerRequest{{LearnerID: "a"}, {LearnerID: "b", Distribution: "back_loaded"}},
		StartDate:        "2024-09-02",
		EndDate:          "2024-09-06",
		CoordinationMode: "staggered",
	})
	require.NoError(t, err)

	req := engine.familyReq
	assert.Equal(t, "staggered", req.Mode)
	assert.Equal(t, "medium", req.SessionLength)
	require.Len(t, req.Learners, 2)
	assert.Equal(t, "a1", req.Learners[0].Materials[0].ID)
	assert.Equal(t, "evenly_distributed", req.Learners[0].Distribution)
	assert.Equal(t, "back_loaded", req.Learners[1].Distribution)
	assert.Len(t, req.ExistingSessions, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, store.listed)
	require.Len(t, req.BlockedWindows, 1)

	assert.Equal(t, "fam", resp.FamilyID)
	assert.Equal(t, 3, resp.SessionsPersisted)
	assert.Equal(t, scheduler.ModeStaggered, resp.Metadata.Mode)
}

func TestStudyScheduleServiceGenerateFamilyValidation(t *testing.T) {
	svc := NewStudyScheduleService(nil, nil, nil, &fakeEngine{}, nil, nil, nil, defaultScheduleConfig())
	_, err := svc.GenerateFamily(context.Background(), dto.FamilyScheduleRequest{StartDate: "2024-09-02", EndDate: "2024-09-03"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.GenerateFamily(context.Background(), dto.FamilyScheduleRequest{
		Learners:         []dto.FamilyLearnerRequest{{LearnerID: "a"}},
		StartDate:        "2024-09-02",
		EndDate:          "2024-09-03",
		CoordinationMode: "round_robin",
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestStudyScheduleServiceWithEngine(t *testing.T) {
	engine := scheduler.NewEngine(scheduler.Options{Now: func() time.Time { return time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC) }})
	store := &fakeSessionStore{}
	svc := NewStudyScheduleService(nil, nil, store, engine, nil, nil, nil, defaultScheduleConfig())

	due := time.Date(2024, 9, 4, 0, 0, 0, 0, time.UTC)
	resp, err := svc.Generate(context.Background(), dto.GenerateScheduleRequest{
		LearnerID: "learner-1",
		StartDate: "2024-09-02",
		EndDate:   "2024-09-06",
		Materials: []models.WorkItem{
			{ID: "w1", LearnerID: "learner-1", SubjectName: "Mathematics", ContentType: "lesson", DueDate: &due},
			{ID: "w2", LearnerID: "learner-1", SubjectName: "History", ContentType: "reading"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, scheduler.GeneratorRuleBased, resp.Metadata.Generator)
	assert.Len(t, resp.Sessions, 2)
	assert.Equal(t, 2, resp.SessionsPersisted)
	assert.Len(t, store.created, 2)
}
