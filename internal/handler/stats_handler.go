package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/records-live-go/internal/realtime"
	"github.com/jengzang/records-live-go/internal/service"
	"github.com/jengzang/records-live-go/pkg/response"
)

// StatsHandler reports live and flush counters
type StatsHandler struct {
	hub       *realtime.Handler
	scheduler *service.FlushScheduler
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(hub *realtime.Handler, scheduler *service.FlushScheduler) *StatsHandler {
	return &StatsHandler{hub: hub, scheduler: scheduler}
}

// GetStats handles GET /api/v1/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	response.Success(c, gin.H{
		"live":  h.hub.Stats(),
		"flush": h.scheduler.Stats(),
	})
}
