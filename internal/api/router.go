// Package api exposes the attendance engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/httpmiddleware"
	"presence/internal/queue"
	"presence/internal/standing"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the handlers need. All are owned by main.
type Deps struct {
	Lifecycle *attendance.Lifecycle
	Authority *attendance.Authority
	Verifier  *attendance.Verifier
	Standing  *standing.Service
	Queue     queue.Queue
	Revoker   auth.Revoker
	Limiter   httpmiddleware.Limiter

	JWTIssuer     string
	JWTSigningKey string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	CORSOrigins   []string

	Health map[string]HealthCheck
}

// Handler holds the HTTP handlers.
type Handler struct {
	Deps
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) *gin.Engine {
	h := &Handler{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1")
	if d.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(d.Limiter))
	}
	v1.POST("/auth/refresh", h.refresh)

	authed := v1.Group("", auth.Authenticate(d.JWTSigningKey, d.JWTIssuer, d.Revoker))
	authed.POST("/auth/logout", h.logout)

	staff := authed.Group("", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin))
	staff.POST("/sessions", h.createSession)
	staff.GET("/sessions/:id", h.getSession)
	staff.POST("/sessions/:id/start", h.startSession)
	staff.POST("/sessions/:id/end", h.endSession)
	staff.GET("/sessions/:id/token", h.currentToken)
	staff.GET("/sessions/:id/token/stream", h.streamTokens)
	staff.POST("/sessions/:id/token/rotate", h.rotateToken)

	authed.GET("/subjects/:id/report",
		auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin, auth.RoleDeptHead, auth.RoleTrackHead), h.subjectReport)
	authed.GET("/subjects/:id/standing", h.subjectStanding)

	authed.POST("/scans", auth.RequireRole(auth.RoleStudent), h.scan)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
