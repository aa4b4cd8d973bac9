package suppression

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mailroom-io/mailroom/internal/handler"
	"github.com/mailroom-io/mailroom/internal/model"
	suppressionService "github.com/mailroom-io/mailroom/internal/service/suppression"
)

type Handler struct {
	service suppressionService.SuppressionServicer
}

func NewHandler(service suppressionService.SuppressionServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	suppressions := r.Group("/workspaces/:workspaceId/suppressions")
	{
		suppressions.GET("", h.ListSuppressions)
		suppressions.POST("", h.AddSuppression)
	}
}

type addSuppressionRequest struct {
	Email  string `json:"email" binding:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) ListSuppressions(c *gin.Context) {
	workspaceID, ok := h.workspaceID(c)
	if !ok {
		return
	}
	suppressions, err := h.service.List(c.Request.Context(), workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse("failed to list suppressions"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(suppressions))
}

func (h *Handler) AddSuppression(c *gin.Context) {
	workspaceID, ok := h.workspaceID(c)
	if !ok {
		return
	}
	var req addSuppressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	sup, err := h.service.Add(c.Request.Context(), workspaceID, req.Email, model.SuppressionReason(req.Reason))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(sup))
}

func (h *Handler) workspaceID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid workspace ID"))
		return uuid.Nil, false
	}
	return id, true
}
