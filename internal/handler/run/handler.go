package run

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/engine"
	"github.com/mailroom-io/mailroom/internal/handler"
	campaignService "github.com/mailroom-io/mailroom/internal/service/campaign"
)

type Handler struct {
	service campaignService.CampaignServicer
}

func NewHandler(service campaignService.CampaignServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	runs := r.Group("/runs")
	{
		runs.GET("/:id", h.GetRun)
		runs.GET("/:id/recipients", h.ListRecipients)
		runs.POST("/:id/pause", h.PauseRun)
		runs.POST("/:id/resume", h.ResumeRun)
	}
}

func (h *Handler) GetRun(c *gin.Context) {
	runID, ok := h.runID(c)
	if !ok {
		return
	}
	run, err := h.service.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("run not found"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(run))
}

func (h *Handler) ListRecipients(c *gin.Context) {
	runID, ok := h.runID(c)
	if !ok {
		return
	}
	recipients, err := h.service.ListRecipients(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("run not found"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(recipients))
}

func (h *Handler) PauseRun(c *gin.Context) {
	runID, ok := h.runID(c)
	if !ok {
		return
	}
	run, err := h.service.PauseRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidState) {
			c.JSON(http.StatusConflict, handler.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to pause run"))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(run))
}

func (h *Handler) ResumeRun(c *gin.Context) {
	runID, ok := h.runID(c)
	if !ok {
		return
	}
	run, err := h.service.ResumeRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidState) {
			c.JSON(http.StatusConflict, handler.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to resume run"))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(run))
}

func (h *Handler) runID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid run ID"))
		return uuid.Nil, false
	}
	return id, true
}
