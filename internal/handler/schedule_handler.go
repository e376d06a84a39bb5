package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/btimofeyev/tutor-ai-sub003/internal/dto"
	"github.com/btimofeyev/tutor-ai-sub003/internal/service"
	appErrors "github.com/btimofeyev/tutor-ai-sub003/pkg/errors"
	"github.com/btimofeyev/tutor-ai-sub003/pkg/response"
)

const maxFamilyLearners = 16

type studyScheduler interface {
	Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.ScheduleResponse, error)
	GenerateFamily(ctx context.Context, req dto.FamilyScheduleRequest) (*dto.FamilyScheduleResponse, error)
}

// ScheduleHandler exposes study schedule generation.
type ScheduleHandler struct {
	service studyScheduler
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(svc *service.StudyScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// Generate godoc
// @Summary Generate a study schedule for one learner
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.GenerateScheduleRequest true "Generate schedule payload"
// @Success 200 {object} response.Envelope
// @Router /schedules/generate [post]
func (h *ScheduleHandler) Generate(c *gin.Context) {
	var req dto.GenerateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}
	resp, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, map[string]interface{}{
		"generator":  resp.Metadata.Generator,
		"confidence": resp.Metadata.Confidence,
	})
}

// GenerateFamily godoc
// @Summary Generate coordinated study schedules for a household
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.FamilyScheduleRequest true "Family schedule payload"
// @Success 200 {object} response.Envelope
// @Router /schedules/family [post]
func (h *ScheduleHandler) GenerateFamily(c *gin.Context) {
	var req dto.FamilyScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid family schedule payload"))
		return
	}
	if len(req.Learners) > maxFamilyLearners {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "too many learners in one household request"))
		return
	}
	resp, err := h.service.GenerateFamily(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, map[string]interface{}{
		"coordination_mode":  resp.Metadata.Mode,
		"conflicts_resolved": resp.Metadata.ConflictsResolved,
	})
}
