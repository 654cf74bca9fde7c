package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedProvider replays canned responses in order. It backs engine
// and session tests the same way a stub tool executor backs tool tests.
// When the script runs out, the last response repeats.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []string
	index     int
	err       error

	// Calls records every conversation passed to Generate, for assertions.
	Calls [][]Message
}

// NewScriptedProvider creates a provider replaying the given responses.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Fail makes every subsequent call return err.
func (p *ScriptedProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *ScriptedProvider) next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if len(p.responses) == 0 {
		return "", fmt.Errorf("scripted provider has no responses")
	}
	resp := p.responses[min(p.index, len(p.responses)-1)]
	p.index++
	return resp, nil
}

func (p *ScriptedProvider) Generate(ctx context.Context, _ string, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.next()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	snapshot := make([]Message, len(messages))
	copy(snapshot, messages)
	p.Calls = append(p.Calls, snapshot)
	p.mu.Unlock()
	return &Response{Content: resp}, nil
}

func (p *ScriptedProvider) GenerateStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		resp, err := p.Generate(ctx, model, messages)
		if err != nil {
			errs <- err
			return
		}
		chunks <- resp.Content
	}()
	return chunks, errs
}
