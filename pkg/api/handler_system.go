package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solvr-ai/solvr/pkg/models"
	"github.com/solvr-ai/solvr/pkg/version"
)

// ListModels handles GET /api/v1/models.
func (s *Server) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, models.ModelsResponse{
		Models:  s.models,
		Default: s.defaultModel,
	})
}

// Health handles GET /healthz. Store reachability is checked with a
// short timeout so a hung backend cannot stall the probe.
func (s *Server) Health(c *gin.Context) {
	store := "disabled"
	healthy := true
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.repo.Ping(ctx); err != nil {
			store = "unreachable: " + err.Error()
			healthy = false
		} else {
			store = "ok"
		}
	}

	body := gin.H{
		"status":          "healthy",
		"version":         version.Full(),
		"store":           store,
		"active_sessions": s.manager.Count(),
	}
	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
