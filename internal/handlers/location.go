package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voxhome/voxhome-backend/internal/platform/logger"
	"github.com/voxhome/voxhome-backend/internal/services"
)

var errMissingName = errors.New("query parameter 'name' is required")

type LocationHandler struct {
	log    *logger.Logger
	locSvc services.EntityLocationService
}

func NewLocationHandler(log *logger.Logger, locSvc services.EntityLocationService) *LocationHandler {
	return &LocationHandler{
		log:    log.With("handler", "LocationHandler"),
		locSvc: locSvc,
	}
}

// GET /api/locations/floors
func (h *LocationHandler) GetFloors(c *gin.Context) {
	RespondOK(c, gin.H{"floors": h.locSvc.Floors(c.Request.Context())})
}

// GET /api/locations/areas
func (h *LocationHandler) GetAreas(c *gin.Context) {
	RespondOK(c, gin.H{"areas": h.locSvc.Areas(c.Request.Context())})
}

// GET /api/locations/entities
func (h *LocationHandler) GetEntities(c *gin.Context) {
	RespondOK(c, gin.H{
		"entities":  h.locSvc.Entities(c.Request.Context()),
		"loaded_at": h.locSvc.LastLoadedAt(),
	})
}

// GET /api/locations/search?name=kitchen&domains=light,switch
func (h *LocationHandler) Search(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		RespondError(c, http.StatusBadRequest, "missing_name", errMissingName)
		return
	}
	var domains []string
	if raw := strings.TrimSpace(c.Query("domains")); raw != "" {
		domains = strings.Split(raw, ",")
	}

	entities, err := h.locSvc.FindEntitiesByLocation(c.Request.Context(), name, domains)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "search_failed", err)
		return
	}
	RespondOK(c, gin.H{"entities": entities})
}

// GET /api/locations/entities/:entityId/area
func (h *LocationHandler) GetAreaForEntity(c *gin.Context) {
	area := h.locSvc.AreaForEntity(c.Request.Context(), c.Param("entityId"))
	if area == nil {
		c.Status(http.StatusNoContent)
		return
	}
	RespondOK(c, gin.H{"area": area})
}

// GET /api/locations/areas/:areaId/floor
func (h *LocationHandler) GetFloorForArea(c *gin.Context) {
	floor := h.locSvc.FloorForArea(c.Request.Context(), c.Param("areaId"))
	if floor == nil {
		c.Status(http.StatusNoContent)
		return
	}
	RespondOK(c, gin.H{"floor": floor})
}

// POST /api/locations/reload
func (h *LocationHandler) Reload(c *gin.Context) {
	if err := h.locSvc.InvalidateAndReload(c.Request.Context()); err != nil {
		RespondError(c, http.StatusBadGateway, "reload_failed", err)
		return
	}
	RespondOK(c, gin.H{"loaded_at": h.locSvc.LastLoadedAt()})
}
