// Package models defines the shared data shapes of the solver:
// stream events, persisted session records, and API request/response types.
package models

import "time"

// EventType identifies a stream event kind.
type EventType string

// Stream event types emitted by the ReAct engine.
const (
	EventStart       EventType = "start"
	EventThought     EventType = "thought"
	EventAction      EventType = "action"
	EventObservation EventType = "observation"
	EventFinalAnswer EventType = "final_answer"
	EventError       EventType = "error"
	EventEnd         EventType = "end"
)

// Event is a single frame of a session's event stream.
// Type is always present; the other fields are present iff applicable.
// Events are append-only within a session; the order is the serialization
// order produced by the engine.
type Event struct {
	Type       EventType      `json:"type" bson:"type"`
	Content    string         `json:"content,omitempty" bson:"content,omitempty"`
	Timestamp  time.Time      `json:"timestamp" bson:"timestamp"`
	Query      string         `json:"query,omitempty" bson:"query,omitempty"`
	Tool       string         `json:"tool,omitempty" bson:"tool,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty" bson:"tool_input,omitempty"`
	ToolOutput any            `json:"tool_output,omitempty" bson:"tool_output,omitempty"`
	ToolResult any            `json:"tool_result,omitempty" bson:"tool_result,omitempty"`
	Error      string         `json:"error,omitempty" bson:"error,omitempty"`
	Success    *bool          `json:"success,omitempty" bson:"success,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
