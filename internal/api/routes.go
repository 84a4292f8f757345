package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with health, metrics and the v1 API.
func NewRouter(h *Handlers, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router.Group("/api/v1"), h)
	return router
}

// RegisterRoutes mounts the device routes on group.
func RegisterRoutes(group *gin.RouterGroup, h *Handlers) {
	devices := group.Group("/devices/:id")

	devices.GET("/contacts", h.ListContacts)
	devices.POST("/contacts", h.AddContact)
	devices.DELETE("/contacts", h.RemoveContact)

	devices.GET("/settings", h.GetSettings)
	devices.PUT("/settings", h.UpdateSettings)

	devices.POST("/triggers/:name", h.Trigger)

	devices.POST("/tracking", h.StartTracking)
	devices.DELETE("/tracking", h.StopTracking)

	devices.POST("/checkin", h.ScheduleCheckIn)

	devices.GET("/status", h.Status)
	devices.GET("/alerts", h.Alerts)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
