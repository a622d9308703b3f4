// Package server exposes the catalog, tile and elevation operations over HTTP.
package server

import (
	"time"

	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler, l logger.Logger, telemetryEnabled bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware())
	}

	r.Use(ginZapLogger(l))

	api := r.Group("/api")
	v1 := api.Group("/v1")

	v1.GET("/healthz", h.Healthz)
	v1.GET("/sources", h.ListSources)
	v1.POST("/sources", h.AddSource)
	v1.DELETE("/sources", h.RemoveSource)
	v1.GET("/tiles/:source/:z/:x/:y", h.Tile)
	v1.GET("/elevation", h.Elevation)
	v1.POST("/mosaic/preload", h.Preload)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", l)

		if c.Request.URL.Path == "/api/v1/healthz" {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		latency := time.Since(start)

		l.Info("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
		)
	}
}
