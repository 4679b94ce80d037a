package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/records-live-go/internal/middleware"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/service"
	"github.com/jengzang/records-live-go/pkg/response"
)

// GeofenceHandler handles HTTP requests for geofences
type GeofenceHandler struct {
	geofenceService *service.GeofenceService
}

// NewGeofenceHandler creates a new geofence handler
func NewGeofenceHandler(geofenceService *service.GeofenceService) *GeofenceHandler {
	return &GeofenceHandler{
		geofenceService: geofenceService,
	}
}

// ListGeofences handles GET /api/v1/geofences
func (h *GeofenceHandler) ListGeofences(c *gin.Context) {
	geofences, err := h.geofenceService.List(c.Request.Context(), middleware.PrincipalID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, geofences)
}

// CreateGeofence handles POST /api/v1/geofences
func (h *GeofenceHandler) CreateGeofence(c *gin.Context) {
	var req models.CreateGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	g, err := h.geofenceService.Create(c.Request.Context(), middleware.PrincipalID(c), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Created(c, g)
}

// DeleteGeofence handles DELETE /api/v1/geofences/:id
func (h *GeofenceHandler) DeleteGeofence(c *gin.Context) {
	g, err := h.geofenceService.Delete(c.Request.Context(), middleware.PrincipalID(c), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, g)
}
