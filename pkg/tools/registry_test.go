package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a configurable in-memory tool for registry tests.
type fakeTool struct {
	name    string
	schema  map[string]any
	execute func(ctx context.Context, args map[string]any) (*Result, error)
}

func (t *fakeTool) Name() string           { return t.name }
func (t *fakeTool) Description() string    { return "fake tool for tests" }
func (t *fakeTool) Schema() map[string]any { return t.schema }
func (t *fakeTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return t.execute(ctx, args)
}

func okTool(name string) *fakeTool {
	return &fakeTool{
		name: name,
		execute: func(_ context.Context, args map[string]any) (*Result, error) {
			return &Result{Success: true, Value: args}, nil
		},
	}
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(okTool("alpha")))

	err := r.Register(okTool("alpha"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateTool))
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()

	res := r.Execute(context.Background(), "missing", nil)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "tool not found")
}

func TestRegistry_MetadataOnEveryResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(okTool("alpha")))

	for i := 1; i <= 3; i++ {
		res := r.Execute(context.Background(), "alpha", map[string]any{"n": i})
		require.True(t, res.Success)
		assert.Contains(t, res.Metadata, "execution_time_seconds")
		assert.Equal(t, i, res.Metadata["invocation_count"])
		assert.Equal(t, 1.0, res.Metadata["success_rate"])
	}
}

func TestRegistry_FailingToolNeverPropagatesError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{
		name: "broken",
		execute: func(_ context.Context, _ map[string]any) (*Result, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}))

	res := r.Execute(context.Background(), "broken", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "connection refused", res.Error)
	assert.Equal(t, 0.0, res.Metadata["success_rate"])
}

func TestRegistry_PanickingToolIsContained(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{
		name: "panicky",
		execute: func(_ context.Context, _ map[string]any) (*Result, error) {
			panic("boom")
		},
	}))

	res := r.Execute(context.Background(), "panicky", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestRegistry_SchemaValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{
		name: "typed",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
			},
			"required": []any{"count"},
		},
		execute: func(_ context.Context, args map[string]any) (*Result, error) {
			return &Result{Success: true, Value: args}, nil
		},
	}))

	res := r.Execute(context.Background(), "typed", map[string]any{"count": 3})
	assert.True(t, res.Success)

	res = r.Execute(context.Background(), "typed", map[string]any{"count": "three"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments")

	res = r.Execute(context.Background(), "typed", nil)
	assert.False(t, res.Success)
}

func TestRegistry_SuccessRateTracksFailures(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register(&fakeTool{
		name: "flaky",
		execute: func(_ context.Context, _ map[string]any) (*Result, error) {
			calls++
			if calls%2 == 0 {
				return &Result{Success: false, Error: "even call"}, nil
			}
			return &Result{Success: true}, nil
		},
	}))

	var last *Result
	for i := 0; i < 4; i++ {
		last = r.Execute(context.Background(), "flaky", nil)
	}
	assert.Equal(t, 4, last.Metadata["invocation_count"])
	assert.Equal(t, 0.5, last.Metadata["success_rate"])
}

func TestFinalAnswerTool_ReturnsSkipLLMOverride(t *testing.T) {
	tool := NewFinalAnswerTool(DefaultFinalAnswerFormat)

	res, err := tool.Execute(context.Background(), map[string]any{"answer": "42"})
	require.NoError(t, err)
	require.True(t, res.Success)

	ov, ok := res.Value.(*Override)
	require.True(t, ok, "value should be an *Override")
	assert.True(t, ov.SkipLLM)
	assert.Contains(t, ov.ObservationText, "42")
}

func TestFinalAnswerTool_EmptyAnswerFails(t *testing.T) {
	tool := NewFinalAnswerTool(nil)

	res, err := tool.Execute(context.Background(), map[string]any{"answer": "  "})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
