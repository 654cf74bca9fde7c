// Package llm provides the model-provider boundary and the stateful chat
// session used by the ReAct engine. Providers are thin adapters over
// vendor SDKs; the chat session owns conversation state, rate limiting,
// and usage accounting.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a non-streaming completion result. Usage may be nil when
// the vendor reports nothing; RawUsage carries whatever metadata the
// vendor attached, in its own vocabulary.
type Response struct {
	Content  string
	Usage    *Usage
	RawUsage map[string]any
}

// Provider generates completions for a conversation. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Generate performs a blocking completion over the full conversation.
	Generate(ctx context.Context, model string, messages []Message) (*Response, error)

	// GenerateStream yields text chunks as they arrive. The chunk channel
	// is closed when the stream ends; at most one error is sent on the
	// error channel.
	GenerateStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error)
}
