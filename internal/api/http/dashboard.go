package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tracklet/tracklet/internal/dashboard"
	"github.com/tracklet/tracklet/internal/platform/logger"
)

// ViewBuilder produces the dashboard view model.
type ViewBuilder interface {
	Build(ctx context.Context) (*dashboard.View, error)
}

// DashboardHandler serves GET / and GET /api/dashboard.
type DashboardHandler struct {
	views ViewBuilder
	log   *logger.Logger
}

func NewDashboardHandler(views ViewBuilder, log *logger.Logger) *DashboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &DashboardHandler{
		views: views,
		log:   log.With("handler", "DashboardHandler"),
	}
}

// Page renders the HTML dashboard.
func (h *DashboardHandler) Page(c *gin.Context) {
	view, err := h.views.Build(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to build dashboard", "error", err)
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	c.HTML(http.StatusOK, "dashboard.html", view)
}

// JSON returns the same view model as JSON.
func (h *DashboardHandler) JSON(c *gin.Context) {
	view, err := h.views.Build(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to build dashboard", "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
