package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/middleware"
)

type RouterConfig struct {
	CORSOrigin  string
	Swagger     bool
	RateLimiter *middleware.IPRateLimiter
	// Health reports whether the store is reachable. Nil means always healthy.
	Health func(ctx context.Context) error
	// WebSocket serves /ws. Nil leaves the route out.
	WebSocket gin.HandlerFunc
}

// NewRouter wires every HTTP route.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(), middleware.Metrics(), middleware.CORS(cfg.CORSOrigin))

	router.GET("/health", healthHandler(cfg.Health))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Swagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Authentication routes
	auth := router.Group("/api")
	auth.Use(middleware.RateLimit(cfg.RateLimiter))
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	// Protected routes
	api := router.Group("/api")
	api.Use(middleware.RateLimit(cfg.RateLimiter), middleware.JWTAuth(h.tokens))
	{
		api.POST("/logout", h.Logout)
		api.GET("/me", h.Me)

		// Room routes
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/owned", h.GetOwnedRooms)
		api.GET("/rooms/joined", h.GetJoinedRooms)
		api.POST("/rooms/join", h.JoinRoom)
		api.GET("/rooms/code/:code", h.GetRoomByCode)
		api.GET("/rooms/:id", h.GetRoom)
		api.DELETE("/rooms/:id", h.DeleteRoom)
		api.POST("/rooms/:id/leave", h.LeaveRoom)

		// Location routes
		api.GET("/rooms/:id/locations", h.ListLocations)
		api.PUT("/rooms/:id/position", h.UpdatePosition)
		api.POST("/rooms/:id/markers", h.AddMarker)
		api.DELETE("/locations/:id", h.DeleteLocation)
	}

	if cfg.WebSocket != nil {
		router.GET("/ws", cfg.WebSocket)
	}
	return router
}

// healthHandler godoc
// @Summary Liveness and store reachability
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string "ok"
// @Failure 503 {object} map[string]string "store unreachable"
// @Router /health [get]
func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
