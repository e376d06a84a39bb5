package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btimofeyev/tutor-ai-sub003/internal/dto"
	"github.com/btimofeyev/tutor-ai-sub003/internal/scheduler"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
)

type studySchedulerMock struct {
	learner dto.GenerateScheduleRequest
	family  dto.FamilyScheduleRequest
	err     error
}

func (m *studySchedulerMock) Generate(_ context.Context, req dto.GenerateScheduleRequest) (*dto.ScheduleResponse, error) {
	m.learner = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.ScheduleResponse{
		LearnerID: req.LearnerID,
		Metadata:  scheduler.Metadata{Generator: scheduler.GeneratorRuleBased, Confidence: 0.75},
	}, nil
}

func (m *studySchedulerMock) GenerateFamily(_ context.Context, req dto.FamilyScheduleRequest) (*dto.FamilyScheduleResponse, error) {
	m.family = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.FamilyScheduleResponse{FamilyID: req.FamilyID, Metadata: scheduler.FamilyMetadata{Mode: scheduler.ModeBalanced}}, nil
}

func performJSON(handler gin.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	handler(c)
	return w
}

func TestScheduleHandlerGenerate(t *testing.T) {
	mock := &studySchedulerMock{}
	h := &ScheduleHandler{service: mock}

	w := performJSON(h.Generate, "/schedules/generate", `{"learner_id":"ada","start_date":"2024-09-02","end_date":"2024-09-06","use_advisory":false}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ada", mock.learner.LearnerID)
	require.NotNil(t, mock.learner.UseAdvisory)
	assert.False(t, *mock.learner.UseAdvisory)

	var body struct {
		Data dto.ScheduleResponse   `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ada", body.Data.LearnerID)
	assert.Equal(t, scheduler.GeneratorRuleBased, body.Meta["generator"])
}

func TestScheduleHandlerGenerateMalformedJSON(t *testing.T) {
	h := &ScheduleHandler{service: &studySchedulerMock{}}
	w := performJSON(h.Generate, "/schedules/generate", `{"learner_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleHandlerGenerateServiceError(t *testing.T) {
	h := &ScheduleHandler{service: &studySchedulerMock{err: appErrors.Clone(appErrors.ErrValidation, "date range exceeds 92 days")}}
	w := performJSON(h.Generate, "/schedules/generate", `{"learner_id":"ada","start_date":"2024-01-01","end_date":"2024-12-31"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestScheduleHandlerGenerateFamily(t *testing.T) {
	mock := &studySchedulerMock{}
	h := &ScheduleHandler{service: mock}

	w := performJSON(h.GenerateFamily, "/schedules/family", `{"family_id":"fam","learners":[{"learner_id":"a"},{"learner_id":"b"}],"start_date":"2024-09-02","end_date":"2024-09-06","coordination_mode":"synchronized"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "synchronized", mock.family.CoordinationMode)
	assert.Len(t, mock.family.Learners, 2)
	assert.Contains(t, w.Body.String(), `"coordination_mode":"balanced"`)
}

func TestScheduleHandlerGenerateFamilyTooManyLearners(t *testing.T) {
	mock := &studySchedulerMock{}
	h := &ScheduleHandler{service: mock}

	learners := make([]string, maxFamilyLearners+1)
	for i := range learners {
		learners[i] = `{"learner_id":"l` + string(rune('a'+i)) + `"}`
	}
	body := `{"learners":[` + strings.Join(learners, ",") + `],"start_date":"2024-09-02","end_date":"2024-09-06"}`
	w := performJSON(h.GenerateFamily, "/schedules/family", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mock.family.Learners)
}
