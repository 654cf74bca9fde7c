// Package tools defines the tool contract exposed to the LLM and the
// registry that dispatches tool invocations by name.
package tools

import "context"

// Tool is a callable exposed to the LLM. Implementations perform network
// or disk I/O and must honor ctx cancellation.
type Tool interface {
	// Name returns the unique registry key for this tool.
	Name() string

	// Description is the human/LLM-readable summary used in the system prompt.
	Description() string

	// Schema returns a JSON-Schema-shaped mapping describing the tool's
	// parameters. May return nil when the tool takes no arguments.
	Schema() map[string]any

	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the uniform envelope every tool invocation produces.
// Invariant: Success=false implies Error is non-empty.
type Result struct {
	Success  bool           `json:"success"`
	Value    any            `json:"value,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Override is an in-band signal a tool may return as its Result value,
// instructing the engine how to render the observation.
//
// When SkipLLM is true the engine uses ObservationText verbatim and does
// not ask the LLM to summarize the tool output. This is how the
// final-answer tool short-circuits the loop.
type Override struct {
	Data            any    `json:"data,omitempty"`
	ObservationText string `json:"observation_text"`
	Error           string `json:"error,omitempty"`
	StoreOutput     bool   `json:"store_output"`
	StoreResult     bool   `json:"store_result"`
	SkipLLM         bool   `json:"skip_llm"`
	LogQuery        bool   `json:"log_query"`
	LogResponse     bool   `json:"log_response"`
}
