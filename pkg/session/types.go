// Package session tracks in-flight solver runs: their event logs, their
// live subscribers, and their lifecycle from creation to persisted
// cleanup.
package session

import (
	"sync"
	"time"

	"github.com/solvr-ai/solvr/pkg/models"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// subscriberBuffer is the per-subscriber live queue depth. A subscriber
// that falls this far behind starts losing events rather than stalling
// the broadcast.
const subscriberBuffer = 256

// Session is one tracked run. The manager owns it exclusively;
// subscribers only hold receive channels.
type Session struct {
	mu sync.Mutex

	id          string
	query       string
	model       string
	status      Status
	createdAt   time.Time
	completedAt *time.Time
	events      []models.Event
	errMsg      string

	subscribers map[int]chan models.Event
	nextSubID   int
}

// View is an immutable snapshot of a session for API responses.
type View struct {
	SessionID       string     `json:"session_id"`
	Query           string     `json:"query"`
	Model           string     `json:"model"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	EventCount      int        `json:"event_count"`
	SubscriberCount int        `json:"subscriber_count"`
	Error           string     `json:"error,omitempty"`
}

func (s *Session) view() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		SessionID:       s.id,
		Query:           s.query,
		Model:           s.model,
		Status:          s.status,
		CreatedAt:       s.createdAt,
		CompletedAt:     s.completedAt,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subscribers),
		Error:           s.errMsg,
	}
}

// record builds the persisted form of the session. Final answer and
// success are lifted from the terminal event when present.
func (s *Session) record() *models.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &models.SessionRecord{
		SessionID:  s.id,
		Timestamp:  s.createdAt,
		Query:      s.query,
		Events:     append([]models.Event(nil), s.events...),
		Model:      s.model,
		Status:     string(s.status),
		CreatedAt:  s.createdAt,
		EventCount: len(s.events),
		Error:      s.errMsg,
	}
	if s.completedAt != nil {
		t := *s.completedAt
		rec.CompletedAt = &t
		rec.DurationSeconds = t.Sub(s.createdAt).Seconds()
	}
	for _, ev := range s.events {
		if ev.Type == models.EventFinalAnswer {
			rec.FinalAnswer = ev.Content
			if ev.Success != nil {
				rec.Success = *ev.Success
			}
		}
	}
	return rec
}
