package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CodeExecutorToolName is the registry key of the code execution tool.
const CodeExecutorToolName = "code_executor"

// DefaultCodeTimeout bounds a single code execution.
const DefaultCodeTimeout = 30 * time.Second

// CodeExecutor runs Python snippets in a subprocess. Exceeding the
// timeout yields a failed Result, never a panic.
type CodeExecutor struct {
	timeout time.Duration
	python  string
}

// NewCodeExecutor creates a code executor with the given timeout.
// A non-positive timeout falls back to DefaultCodeTimeout.
func NewCodeExecutor(timeout time.Duration) *CodeExecutor {
	if timeout <= 0 {
		timeout = DefaultCodeTimeout
	}
	return &CodeExecutor{timeout: timeout, python: "python3"}
}

func (t *CodeExecutor) Name() string { return CodeExecutorToolName }

func (t *CodeExecutor) Description() string {
	return "Execute a Python code snippet and return its stdout/stderr. Use print() to emit results."
}

func (t *CodeExecutor) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python source to execute.",
			},
		},
		"required": []any{"code"},
	}
}

func (t *CodeExecutor) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return &Result{Success: false, Error: "code_executor requires non-empty 'code'"}, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, t.python, "-c", code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := strings.TrimRight(stdout.String(), "\n")
	errText := strings.TrimRight(stderr.String(), "\n")

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("execution timed out after %s", t.timeout),
			Value:   map[string]any{"output": output, "stderr": errText},
		}, nil
	}
	if err != nil {
		msg := errText
		if msg == "" {
			msg = err.Error()
		}
		return &Result{
			Success: false,
			Error:   msg,
			Value:   map[string]any{"output": output, "stderr": errText},
		}, nil
	}

	return &Result{
		Success: true,
		Value:   map[string]any{"output": output, "stderr": errText},
	}, nil
}
