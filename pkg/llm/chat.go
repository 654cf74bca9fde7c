package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/solvr-ai/solvr/pkg/ratelimit"
)

// ChatSession is a stateful multi-turn conversation bound to one model.
// It is driven by a single goroutine (the engine); it is not safe for
// concurrent use.
type ChatSession struct {
	provider Provider
	model    string
	limiter  *ratelimit.Limiter
	messages []Message
}

// NewChatSession starts a conversation with the given system prompt.
// Additional seed turns may be supplied via initial.
func NewChatSession(provider Provider, model string, limiter *ratelimit.Limiter, systemPrompt string, initial ...Message) *ChatSession {
	messages := make([]Message, 0, 1+len(initial))
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, initial...)
	return &ChatSession{
		provider: provider,
		model:    model,
		limiter:  limiter,
		messages: messages,
	}
}

// Model returns the model this session is bound to.
func (s *ChatSession) Model() string { return s.model }

// History returns a copy of the conversation so far.
func (s *ChatSession) History() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Send appends a user message, performs a blocking completion, appends
// the assistant reply and returns it. The rate limiter gates the request
// and records the reported (or estimated) usage afterwards.
func (s *ChatSession) Send(ctx context.Context, message string) (*Response, error) {
	if s.limiter != nil {
		if err := s.limiter.WaitIfNeeded(ctx, s.model); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	s.messages = append(s.messages, Message{Role: RoleUser, Content: message})
	resp, err := s.provider.Generate(ctx, s.model, s.messages)
	if err != nil {
		// Drop the unanswered user turn so a retry does not duplicate it.
		s.messages = s.messages[:len(s.messages)-1]
		return nil, err
	}
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: resp.Content})

	s.recordUsage(message, resp)
	return resp, nil
}

// Stream has the same conversation semantics as Send but yields chunks
// as they arrive. When the provider produces no chunks it falls back to
// Send and yields the single result.
func (s *ChatSession) Stream(ctx context.Context, message string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		if s.limiter != nil {
			if err := s.limiter.WaitIfNeeded(ctx, s.model); err != nil {
				errs <- fmt.Errorf("rate limiter: %w", err)
				return
			}
		}

		s.messages = append(s.messages, Message{Role: RoleUser, Content: message})
		chunks, streamErrs := s.provider.GenerateStream(ctx, s.model, s.messages)

		var full strings.Builder
		got := false
		for chunk := range chunks {
			got = true
			full.WriteString(chunk)
			select {
			case out <- chunk:
			case <-ctx.Done():
				s.messages = s.messages[:len(s.messages)-1]
				errs <- ctx.Err()
				return
			}
		}
		if err := <-streamErrs; err != nil {
			s.messages = s.messages[:len(s.messages)-1]
			errs <- err
			return
		}

		if !got {
			// Empty stream, fall back to a blocking completion.
			s.messages = s.messages[:len(s.messages)-1]
			resp, err := s.Send(ctx, message)
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- resp.Content:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
			return
		}

		content := full.String()
		s.messages = append(s.messages, Message{Role: RoleAssistant, Content: content})
		s.recordUsage(message, &Response{Content: content})
	}()

	return out, errs
}

// PruneLastExchange removes the most recent user/assistant turn pair.
// The engine uses this after the planning pass so the plan counts as
// context, not dialogue.
func (s *ChatSession) PruneLastExchange() {
	n := len(s.messages)
	if n >= 2 && s.messages[n-1].Role == RoleAssistant && s.messages[n-2].Role == RoleUser {
		s.messages = s.messages[:n-2]
	}
}

// recordUsage feeds the limiter with reported usage, falling back to the
// vendor metadata vocabulary and finally a local estimate.
func (s *ChatSession) recordUsage(prompt string, resp *Response) {
	if s.limiter == nil {
		return
	}
	tokens := 0
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		tokens = resp.Usage.TotalTokens
	} else if n := totalTokensFrom(resp.RawUsage); n > 0 {
		tokens = n
	} else {
		tokens = estimateTokens(prompt) + estimateTokens(resp.Content)
	}
	s.limiter.RecordUsage(s.model, tokens)
}
