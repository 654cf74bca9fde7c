package tools

import (
	"context"
	"fmt"
	"strings"
)

// FinalAnswerToolName is the registry key of the final-answer tool.
const FinalAnswerToolName = "final_answer"

// FormatFunc renders the final answer text for the observation. It is
// injected as configuration so this package does not import the prompt
// package (which the engine composes with tools).
type FormatFunc func(answer string) string

// FinalAnswerTool lets the model conclude a run in a single step. Its
// result carries an Override with SkipLLM=true so the engine pivots into
// the final-answer step without another observation-summarization call.
type FinalAnswerTool struct {
	format FormatFunc
}

// NewFinalAnswerTool creates the final-answer tool. format may be nil,
// in which case the answer is used verbatim.
func NewFinalAnswerTool(format FormatFunc) *FinalAnswerTool {
	if format == nil {
		format = func(answer string) string { return answer }
	}
	return &FinalAnswerTool{format: format}
}

func (t *FinalAnswerTool) Name() string { return FinalAnswerToolName }

func (t *FinalAnswerTool) Description() string {
	return "Provide the final answer to the user's query. Call this when the task is complete."
}

func (t *FinalAnswerTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"description": "The complete final answer to the original query.",
			},
		},
		"required": []any{"answer"},
	}
}

func (t *FinalAnswerTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	answer, _ := args["answer"].(string)
	if strings.TrimSpace(answer) == "" {
		return &Result{Success: false, Error: "final_answer requires a non-empty 'answer'"}, nil
	}

	return &Result{
		Success: true,
		Value: &Override{
			Data:            answer,
			ObservationText: t.format(answer),
			StoreOutput:     true,
			StoreResult:     false,
			SkipLLM:         true,
			LogQuery:        true,
			LogResponse:     true,
		},
	}, nil
}

// DefaultFinalAnswerFormat is the stock observation rendering.
func DefaultFinalAnswerFormat(answer string) string {
	return fmt.Sprintf("Final answer recorded: %s", answer)
}
