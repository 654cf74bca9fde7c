package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/solvr-ai/solvr/pkg/history"
	"github.com/solvr-ai/solvr/pkg/models"
)

// ListHistory handles GET /api/v1/history.
func (s *Server) ListHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history persistence is disabled"})
		return
	}
	records, err := s.repo.List(c.Request.Context(), queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		s.logger.Error("history list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records})
}

// SearchHistory handles GET /api/v1/history/search?q=.
func (s *Server) SearchHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history persistence is disabled"})
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q parameter is required"})
		return
	}
	records, err := s.repo.Search(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("history search failed", "q", q, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records, "query": q})
}

// GetHistory handles GET /api/v1/history/:id.
func (s *Server) GetHistory(c *gin.Context) {
	rec, ok := s.loadRecord(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StreamHistory handles GET /api/v1/history/:id/stream, replaying the
// persisted event log in the same SSE framing as a live stream.
func (s *Server) StreamHistory(c *gin.Context) {
	rec, ok := s.loadRecord(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	for _, ev := range rec.StreamEvents() {
		c.SSEvent("message", ev)
		c.Writer.Flush()
	}
}

// DeleteHistory handles DELETE /api/v1/history/:id.
func (s *Server) DeleteHistory(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history persistence is disabled"})
		return
	}
	id := c.Param("id")
	err := s.repo.Delete(c.Request.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session record not found"})
		return
	}
	if err != nil {
		s.logger.Error("history delete failed", "session_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) loadRecord(c *gin.Context) (*models.SessionRecord, bool) {
	if s.repo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history persistence is disabled"})
		return nil, false
	}
	record, err := s.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session record not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("history get failed", "session_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return nil, false
	}
	return record, true
}
