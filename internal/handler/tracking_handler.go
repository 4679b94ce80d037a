package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/records-live-go/internal/middleware"
	"github.com/jengzang/records-live-go/internal/service"
	"github.com/jengzang/records-live-go/pkg/response"
)

// TrackingHandler exposes live tracking sessions over HTTP
type TrackingHandler struct {
	sessions *service.TrackingSessionManager
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(sessions *service.TrackingSessionManager) *TrackingHandler {
	return &TrackingHandler{sessions: sessions}
}

// ListSessions handles GET /api/v1/tracking/sessions
func (h *TrackingHandler) ListSessions(c *gin.Context) {
	response.Success(c, h.sessions.ListForPrincipal(middleware.PrincipalID(c)))
}

// GetSession handles GET /api/v1/tracking/sessions/:id
func (h *TrackingHandler) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(middleware.PrincipalID(c), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, s)
}
