// Package api exposes the HTTP surface: session creation and streaming,
// history queries, model discovery and health.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/solvr-ai/solvr/pkg/history"
	"github.com/solvr-ai/solvr/pkg/queue"
	"github.com/solvr-ai/solvr/pkg/session"
)

// Server wires the HTTP handlers to the session manager, the background
// runner and the history repository.
type Server struct {
	manager *session.Manager
	runner  *queue.Runner
	repo    history.Repository
	logger  *slog.Logger

	models       []string
	defaultModel string
}

// NewServer creates the API server. repo may be nil when persistence is
// disabled; history routes then answer 404.
func NewServer(manager *session.Manager, runner *queue.Runner, repo history.Repository, models []string, defaultModel string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:      manager,
		runner:       runner,
		repo:         repo,
		logger:       logger,
		models:       models,
		defaultModel: defaultModel,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	r.GET("/healthz", s.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sessions", s.CreateSession)
		v1.GET("/sessions", s.ListSessions)
		v1.GET("/sessions/:id", s.GetSession)
		v1.GET("/sessions/:id/stream", s.StreamSession)
		v1.DELETE("/sessions/:id", s.DeleteSession)

		v1.GET("/history", s.ListHistory)
		v1.GET("/history/search", s.SearchHistory)
		v1.GET("/history/:id", s.GetHistory)
		v1.GET("/history/:id/stream", s.StreamHistory)
		v1.DELETE("/history/:id", s.DeleteHistory)

		v1.GET("/models", s.ListModels)
	}
	return r
}

// requestID tags every request with a correlation id so log lines from
// one request can be tied together. Incoming X-Request-ID is honored.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) supportsModel(model string) bool {
	for _, m := range s.models {
		if m == model {
			return true
		}
	}
	return false
}
