package campaign

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
	campaigns := r.Group("/campaigns")
	{
		campaigns.POST("/:id/trigger", h.TriggerCampaign)
	}
}

type triggerRequest struct {
	ManualOverride bool `json:"manual_override"`
}

// TriggerCampaign queues a run and returns 202 with the run id; the
// caller polls the run endpoint for progress.
func (h *Handler) TriggerCampaign(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign ID"))
		return
	}

	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	run, err := h.service.Trigger(c.Request.Context(), campaignID, req.ManualOverride)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidState) {
			c.JSON(http.StatusConflict, handler.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to trigger campaign"))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(run))
}
