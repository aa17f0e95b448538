// Package api provides the inbound webhook HTTP surface for devpipe: a
// Gin handler that accepts and persists webhook deliveries, plus a thin
// read-only surface for task status/memory. The dashboard/chat surface the
// teacher builds here is explicit Non-goal territory (spec §Non-goals);
// this package keeps the teacher's request-handling shape (bind, validate,
// persist, respond — pkg/api/handler_alert.go) and Gin's own health-check
// idiom (cmd/tarsy/main.go) rather than its dashboard routes. /api/v1/events
// is the one exception: a read-only WebSocket event stream (pkg/hooks.Stream)
// for a dashboard or CLI to watch a task's lifecycle live.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oakforge/devpipe/ent"
	"github.com/oakforge/devpipe/pkg/config"
	"github.com/oakforge/devpipe/pkg/database"
	"github.com/oakforge/devpipe/pkg/hooks"
	"github.com/oakforge/devpipe/pkg/memory/session"
)

// Server is the HTTP API server for inbound webhook intake.
type Server struct {
	router        *gin.Engine
	httpServer    *http.Server
	cfg           *config.Config
	dbClient      *database.Client
	client        *ent.Client
	sessionSvc    *session.Service
	webhookSecret string
	stream        *hooks.Stream

	intake *intakeWorker
}

// NewServer creates a new webhook-intake API server. webhookSecret is the
// resolved value of the env var named by cfg.Webhook.SecretEnv (resolved
// by the caller, matching how pkg/integrations/codehost and
// pkg/integrations/issuetracker take an already-resolved token rather than
// reading the environment themselves). bus may be nil, in which case
// /api/v1/events is not registered.
func NewServer(cfg *config.Config, dbClient *database.Client, sessionSvc *session.Service, webhookSecret string, bus *hooks.Bus) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		router:        router,
		cfg:           cfg,
		dbClient:      dbClient,
		client:        dbClient.Client,
		sessionSvc:    sessionSvc,
		webhookSecret: webhookSecret,
		intake:        newIntakeWorker(dbClient.Client, sessionSvc, cfg.Queue),
	}
	if bus != nil {
		s.stream = hooks.NewStream(bus)
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readyHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/webhooks/:provider", s.webhookHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/tasks/:id", s.getTaskHandler)
	v1.GET("/tasks/:id/memory", s.getTaskMemoryHandler)
	if s.stream != nil {
		v1.GET("/events", gin.WrapF(s.stream.ServeHTTP))
	}
}

// Start starts the HTTP server and the intake worker's background polling
// loop (non-blocking for the worker; blocking for the HTTP server, matching
// net/http.Server.ListenAndServe's own contract).
func (s *Server) Start(ctx context.Context, addr string) error {
	s.intake.Start(ctx)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and the intake worker.
func (s *Server) Shutdown(ctx context.Context) error {
	s.intake.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// securityHeaders sets the same standard response headers as the teacher's
// echo middleware (pkg/api/middleware.go), ported to Gin.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// healthHandler handles GET /healthz.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": dbHealth})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": dbHealth})
}

// readyHandler handles GET /readyz: ready means the database is reachable.
// Split from healthHandler so a load balancer can gate traffic on
// readiness without conflating it with the richer health payload.
func (s *Server) readyHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *gin.Context) {
	t, err := s.client.Task.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if ent.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           t.ID,
		"repo":         t.Repo,
		"issue_number": t.IssueNumber,
		"status":       t.Status,
		"pr_url":       t.PrURL,
		"last_error":   t.LastError,
	})
}

// getTaskMemoryHandler handles GET /api/v1/tasks/:id/memory, returning the
// task's SessionMemory row (phase, agent outputs, context) as-is.
func (s *Server) getTaskMemoryHandler(c *gin.Context) {
	mem, err := s.sessionSvc.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if ent.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session memory for task"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session memory"})
		return
	}
	c.JSON(http.StatusOK, mem)
}
