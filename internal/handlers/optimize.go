package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voxhome/voxhome-backend/internal/domain"
	"github.com/voxhome/voxhome-backend/internal/platform/logger"
	"github.com/voxhome/voxhome-backend/internal/services"
)

type OptimizeHandler struct {
	log      *logger.Logger
	locSvc   services.EntityLocationService
	optSvc   services.SkillOptimizerService
	embedder services.Embedder
}

func NewOptimizeHandler(
	log *logger.Logger,
	locSvc services.EntityLocationService,
	optSvc services.SkillOptimizerService,
	embedder services.Embedder,
) *OptimizeHandler {
	return &OptimizeHandler{
		log:      log.With("handler", "OptimizeHandler"),
		locSvc:   locSvc,
		optSvc:   optSvc,
		embedder: embedder,
	}
}

type optimizeRequest struct {
	TestCases     []domain.OptimizationTestCase `json:"test_cases" binding:"required"`
	InitialParams *domain.HybridMatchOptions    `json:"initial_params,omitempty"`
}

// POST /api/optimize
// Runs coordinate descent against the current snapshot's entities and
// returns the calibrated parameters; persisting them is the caller's job.
func (h *OptimizeHandler) Optimize(c *gin.Context) {
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	runID := uuid.New()
	log := h.log.With("run_id", runID.String())

	candidates := h.locSvc.Matchables(c.Request.Context())
	result, err := h.optSvc.Optimize(
		c.Request.Context(),
		req.TestCases,
		candidates,
		h.embedder,
		req.InitialParams,
		func(p domain.OptimizationProgress) {
			log.Debug("optimization progress",
				"iteration", p.Iteration,
				"score", p.Score,
				"step", p.StepSize,
				"evaluated_points", p.EvaluatedPoints,
			)
		},
	)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "optimize_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"run_id": runID,
		"result": result,
	})
}
