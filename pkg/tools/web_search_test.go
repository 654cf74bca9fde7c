package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearch_MissingKey(t *testing.T) {
	tool := NewWebSearchTool("", nil)

	res, err := tool.Execute(context.Background(), map[string]any{"query": "golang"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not configured")
}

func TestWebSearch_EmptyQuery(t *testing.T) {
	tool := NewWebSearchTool("key", nil)

	res, err := tool.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestWebSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Go is a programming language."}}],
			"citations": ["https://go.dev"]
		}`))
	}))
	defer srv.Close()

	tool := NewWebSearchTool("test-key", srv.Client())
	tool.url = srv.URL

	res, err := tool.Execute(context.Background(), map[string]any{"query": "what is Go"})
	require.NoError(t, err)
	require.True(t, res.Success)

	value, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, value["answer"], "programming language")
}

func TestWebSearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := NewWebSearchTool("test-key", srv.Client())
	tool.url = srv.URL

	res, err := tool.Execute(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "429")
}
