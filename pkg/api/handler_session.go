package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/solvr-ai/solvr/pkg/models"
	"github.com/solvr-ai/solvr/pkg/session"
)

// CreateSession handles POST /api/v1/sessions. The run is spawned in the
// background; the response only acknowledges the session id.
func (s *Server) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must not be empty"})
		return
	}
	if req.Model != "" && !s.supportsModel(req.Model) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "unsupported model: " + req.Model,
			"supported": s.models,
		})
		return
	}

	model := s.resolveModel(req.Model)
	v := s.manager.CreateSession(req.Query, model)
	s.runner.Run(v.SessionID, req.Query, model, req.ThinkingLevel, req.Context)

	c.JSON(http.StatusAccepted, models.CreateSessionResponse{SessionID: v.SessionID})
}

func (s *Server) resolveModel(model string) string {
	if model == "" {
		return s.defaultModel
	}
	return model
}

// ListSessions handles GET /api/v1/sessions.
func (s *Server) ListSessions(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	c.JSON(http.StatusOK, gin.H{"sessions": s.manager.ListSessions(limit, offset)})
}

// GetSession handles GET /api/v1/sessions/:id.
func (s *Server) GetSession(c *gin.Context) {
	v, ok := s.manager.GetSession(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, v)
}

// StreamSession handles GET /api/v1/sessions/:id/stream. Events already
// recorded are replayed first, then the live tail follows until the
// session ends or the client disconnects. Disconnecting does not cancel
// the background run.
func (s *Server) StreamSession(c *gin.Context) {
	events, cancel, err := s.manager.Subscribe(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	clientGone := c.Request.Context().Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("message", ev)
			c.Writer.Flush()
			if ev.Type == models.EventEnd {
				return
			}
		case <-clientGone:
			return
		}
	}
}

// DeleteSession handles DELETE /api/v1/sessions/:id. An in-flight run
// is cancelled; the session is persisted and evicted immediately.
func (s *Server) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.manager.GetSession(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	s.runner.Cancel(id)
	err := s.manager.CleanupSession(c.Request.Context(), id)
	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err != nil {
		s.logger.Error("session delete failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
