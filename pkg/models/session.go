package models

import "time"

// SessionRecord is the stable persisted form of a completed session.
// All repository backends (file, MongoDB, PostgreSQL) store and return
// this exact shape.
type SessionRecord struct {
	SessionID       string     `json:"session_id" bson:"session_id"`
	Timestamp       time.Time  `json:"timestamp" bson:"timestamp"`
	Query           string     `json:"query" bson:"query"`
	Events          []Event    `json:"events" bson:"events"`
	FinalAnswer     string     `json:"final_answer" bson:"final_answer"`
	Success         bool       `json:"success" bson:"success"`
	DurationSeconds float64    `json:"duration_seconds" bson:"duration_seconds"`
	Model           string     `json:"model" bson:"model"`
	Status          string     `json:"status" bson:"status"`
	CreatedAt       time.Time  `json:"created_at" bson:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	EventCount      int        `json:"event_count" bson:"event_count"`
	Error           string     `json:"error,omitempty" bson:"error,omitempty"`
}

// StreamEvents re-derives the ordered event stream from a persisted record
// so a stored session can be replayed to a client exactly as live
// subscribers saw it.
func (r *SessionRecord) StreamEvents() []Event {
	out := make([]Event, len(r.Events))
	copy(out, r.Events)
	return out
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	Query         string         `json:"query"`
	Model         string         `json:"model,omitempty"`
	ThinkingLevel string         `json:"thinking_level,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// CreateSessionResponse acknowledges a spawned background run.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// ModelsResponse lists the models accepted by request validation.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}
