// Package httpapi exposes sessions, check-ins and the admin views over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/auth"
	"checkin/internal/httpmiddleware"
	"checkin/internal/session"
	"checkin/internal/speech"
)

// Config carries the token settings and limits of the API.
type Config struct {
	Issuer       string
	SigningKey   string
	TokenTTL     time.Duration
	SecureCookie bool
	RatePerMin   int
}

// Server holds the handlers' collaborators.
type Server struct {
	cfg         Config
	sessions    *session.Registry
	transcriber speech.Transcriber
	checks      map[string]func(context.Context) bool
}

// New builds a server. A nil transcriber makes the voice routes answer
// speech.ErrUnsupported. checks report whether each named dependency is
// reachable.
func New(cfg Config, sessions *session.Registry, transcriber speech.Transcriber, checks map[string]func(context.Context) bool) *Server {
	return &Server{cfg: cfg, sessions: sessions, transcriber: transcriber, checks: checks}
}

// Router returns the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	// public routes are limited per IP, authenticated ones per user
	perIP := httpmiddleware.NewSimpleTokenBucket(s.cfg.RatePerMin, s.cfg.RatePerMin).GinMiddleware()
	perUser := httpmiddleware.NewSimpleTokenBucket(s.cfg.RatePerMin, s.cfg.RatePerMin).GinMiddleware()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", perIP, s.health)

	public := r.Group("/v1", perIP)
	public.POST("/register", s.register)
	public.POST("/login", s.login)
	public.POST("/voice/register", s.voiceRegister)
	public.POST("/voice/login", s.voiceLogin)

	authed := r.Group("/v1", auth.SessionAuth(s.cfg.SigningKey, s.cfg.Issuer), perUser, s.resolveSession)
	authed.POST("/logout", s.logout)
	authed.POST("/camera/frames", s.pushFrame)
	authed.POST("/checkins", s.checkIn)
	authed.GET("/attendance", s.myAttendance)

	admin := authed.Group("/admin", auth.RequireAdmin())
	admin.GET("/attendance", s.allAttendance)
	admin.DELETE("/attendance/:index", s.deleteAttendance)
	admin.GET("/logs", s.logs)

	return r
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok", "sessions": s.sessions.Len()}
	status := http.StatusOK
	for name, check := range s.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
