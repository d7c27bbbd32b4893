// Package httpapi exposes credential issuance and attendance sessions over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/apperr"
	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logging"
)

var errNoRoute = apperr.NewNotFound("route not found")

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps is everything the router needs.
type Deps struct {
	Registry        *attendance.Registry
	Coordinator     *attendance.Coordinator
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	Health          map[string]HealthCheck
	// Metrics serves /metrics; nil uses the default Prometheus registry.
	Metrics http.Handler
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.RequestLogger("/healthz", "/metrics"))
	r.Use(requestMetrics())
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	metricsHandler := d.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
	r.GET("/healthz", healthz(d.Health))

	h := &handler{registry: d.Registry, coordinator: d.Coordinator}
	limiter := httpmiddleware.NewTokenBucket(d.RateLimitPerMin, d.RateLimitPerMin)

	v1 := r.Group("/v1", auth.Authenticate(d.SigningKey, d.Issuer), limiter.GinMiddleware(auth.CallerIDKey))
	v1.GET("/me/credential", h.myCredential)
	v1.GET("/users/:userId/credential", auth.RequireRole(string(attendance.RoleSuperAdmin)), h.userCredential)

	lecturer := v1.Group("/attendance", auth.RequireRole(string(attendance.RoleLecturer)))
	lecturer.POST("/sessions", h.startSession)
	lecturer.GET("/courses/:courseId/session", h.activeSession)
	lecturer.GET("/sessions/:sessionId", h.sessionDetails)
	lecturer.PATCH("/sessions/:sessionId/end", h.endSession)
	lecturer.POST("/scan", h.scan)
	lecturer.POST("/manual", h.manual)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, apperr.ResponseOf(errNoRoute))
	})
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, check := range checks {
			healthy := check(c.Request.Context())
			body[name] = healthy
			if !healthy {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}
