// Package httpapi wires the Gin transport to the attribution engine. It
// centralizes cross-cutting concerns such as tracing, correlation ids,
// logging, panic recovery, metrics, CORS, compression and rate limiting.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-outcomes/internal/agent"
	"github.com/tbourn/go-outcomes/internal/config"
	"github.com/tbourn/go-outcomes/internal/http/handlers"
	"github.com/tbourn/go-outcomes/internal/http/middleware"
)

var (
	corsMethods       = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-Device-ID"}
	corsExposeHeaders = []string{"X-Request-ID", "Content-Length", "Retry-After"}
)

// RegisterRoutes attaches all middleware and the agent endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and DeviceID: correlation
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per device/IP)
//  8. CORS and gzip
//  9. API response headers on the agent group
func RegisterRoutes(r *gin.Engine, a *agent.Agent, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.DeviceID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByDeviceOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(a.Sessions, a.Outcomes, a.Params)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.APIHeaders(middleware.HeaderOptions{NoStore: true}))
	{
		api.POST("/notifications/received", h.NotificationReceived)
		api.POST("/notifications/opened", h.NotificationOpened)

		api.POST("/iams/received", h.IAMReceived)
		api.POST("/iams/clicked", h.IAMClicked)
		api.POST("/iams/click-finished", h.IAMClickFinished)

		api.POST("/sessions", h.StartSession)
		api.GET("/sessions/influences", h.GetInfluences)

		api.POST("/outcomes", h.ReportOutcome)
		api.POST("/outcomes/flush", h.FlushOutcomes)
		api.GET("/outcomes/pending", h.ListPending)

		api.PUT("/remote-params", h.PutRemoteParams)
	}
}

// corsMiddleware allows every origin when none is configured, otherwise
// only the allowlist.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     corsMethods,
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    corsExposeHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(c)
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap make downstream body reads fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
