package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/records-live-go/internal/handler"
	"github.com/jengzang/records-live-go/internal/middleware"
)

// Handlers groups the HTTP handlers mounted by SetupRouter.
type Handlers struct {
	WebSocket *handler.WebSocketHandler
	Geofences *handler.GeofenceHandler
	Tracking  *handler.TrackingHandler
	Locations *handler.LocationHandler
	Stats     *handler.StatsHandler
}

// RouterConfig carries the middleware settings.
type RouterConfig struct {
	Principal   middleware.PrincipalConfig
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// SetupRouter builds the gin engine
func SetupRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(cfg.Logger))

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.PrincipalHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Live location service is running",
		})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.Logger(cfg.Logger))
	api.Use(middleware.Principal(cfg.Principal))
	api.Use(middleware.RequirePrincipal())
	{
		// the socket applies its own per-message limit
		api.GET("/ws", h.WebSocket.Serve)

		rest := api.Group("")
		if cfg.RateLimiter != nil {
			rest.Use(middleware.RateLimit(cfg.RateLimiter))
		}

		geofences := rest.Group("/geofences")
		{
			geofences.GET("", h.Geofences.ListGeofences)
			geofences.POST("", h.Geofences.CreateGeofence)
			geofences.DELETE("/:id", h.Geofences.DeleteGeofence)
		}

		tracking := rest.Group("/tracking")
		{
			tracking.GET("/sessions", h.Tracking.ListSessions)
			tracking.GET("/sessions/:id", h.Tracking.GetSession)
		}

		rest.GET("/locations", h.Locations.GetLocations)
		rest.GET("/stats", h.Stats.GetStats)
	}

	return r
}
