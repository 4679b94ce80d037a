package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/records-live-go/internal/middleware"
	"github.com/jengzang/records-live-go/internal/models"
	"github.com/jengzang/records-live-go/internal/service"
	"github.com/jengzang/records-live-go/pkg/response"
)

// LocationHandler handles HTTP requests for stored locations
type LocationHandler struct {
	locationService *service.LocationService
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(locationService *service.LocationService) *LocationHandler {
	return &LocationHandler{
		locationService: locationService,
	}
}

// GetLocations handles GET /api/v1/locations
func (h *LocationHandler) GetLocations(c *gin.Context) {
	var filter models.LocationFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	result, err := h.locationService.Recent(c.Request.Context(), middleware.PrincipalID(c), filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}
