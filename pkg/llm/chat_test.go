package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvr-ai/solvr/pkg/ratelimit"
)

func TestChatSession_SendAppendsTurns(t *testing.T) {
	provider := NewScriptedProvider("hello there")
	sess := NewChatSession(provider, "gemini-2.5-flash", nil, "You are a test.")

	resp, err := sess.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)

	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, RoleUser, history[1].Role)
	assert.Equal(t, "hi", history[1].Content)
	assert.Equal(t, RoleAssistant, history[2].Role)
}

func TestChatSession_SendErrorDropsUserTurn(t *testing.T) {
	provider := NewScriptedProvider("unused")
	provider.Fail(fmt.Errorf("upstream down"))
	sess := NewChatSession(provider, "gemini-2.5-flash", nil, "sys")

	_, err := sess.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Len(t, sess.History(), 1, "failed send must not leave a dangling user turn")
}

func TestChatSession_RecordsUsage(t *testing.T) {
	provider := NewScriptedProvider("a reasonably sized answer with several tokens in it")
	limiter := ratelimit.New(nil)
	sess := NewChatSession(provider, "gemini-2.5-flash", limiter, "sys")

	_, err := sess.Send(context.Background(), "question")
	require.NoError(t, err)
	assert.Greater(t, limiter.WindowUsage("gemini-2.5-flash"), 0,
		"usage must be recorded even when the provider reports none")
}

func TestChatSession_StreamCollectsAssistantTurn(t *testing.T) {
	provider := NewScriptedProvider("streamed answer")
	sess := NewChatSession(provider, "gemini-2.5-flash", nil, "sys")

	chunks, errs := sess.Stream(context.Background(), "go")
	var got string
	for c := range chunks {
		got += c
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "streamed answer", got)

	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, "streamed answer", history[2].Content)
}

func TestChatSession_PruneLastExchange(t *testing.T) {
	provider := NewScriptedProvider("plan text", "real answer")
	sess := NewChatSession(provider, "gemini-2.5-flash", nil, "sys")

	_, err := sess.Send(context.Background(), "make a plan")
	require.NoError(t, err)
	sess.PruneLastExchange()
	assert.Len(t, sess.History(), 1, "planning turns must not count as dialogue")

	_, err = sess.Send(context.Background(), "now solve")
	require.NoError(t, err)
	assert.Len(t, sess.History(), 3)
}

func TestTotalTokensFrom_VendorVariance(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want int
	}{
		{"openai total", map[string]any{"total_tokens": 42}, 42},
		{"gemini total", map[string]any{"total_token_count": 17}, 17},
		{"anthropic split", map[string]any{"input_tokens": 10, "output_tokens": 5}, 15},
		{"gemini split", map[string]any{"prompt_token_count": 8, "candidates_token_count": 4}, 12},
		{"floats from json", map[string]any{"total_tokens": float64(33)}, 33},
		{"nothing", map[string]any{}, 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, totalTokensFrom(tt.meta))
		})
	}
}

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "plain", normalizeContent("plain"))
	assert.Equal(t, "a b", normalizeContent([]any{
		map[string]any{"text": "a "},
		map[string]any{"text": "b"},
	}))
	assert.Equal(t, "xy", normalizeContent([]any{"x", "y"}))
	assert.Equal(t, "", normalizeContent(42))
}
