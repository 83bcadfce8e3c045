package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/voxhome/voxhome-backend/internal/observability"
)

type HealthHandler struct {
	metrics *observability.Metrics
}

func NewHealthHandler(metrics *observability.Metrics) *HealthHandler {
	return &HealthHandler{metrics: metrics}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"metrics": h.metrics.Snapshot(),
	})
}
