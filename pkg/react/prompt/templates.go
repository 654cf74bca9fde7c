// Package prompt builds the prompt text for each phase of the ReAct loop
// and parses model responses back into per-step fields. Stateless;
// all state comes from parameters.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ToolInfo describes one registered tool for the system prompt. Kept as
// a local type so this package stays free of the tools package (the
// final-answer tool is configured with a formatter, not an import).
type ToolInfo struct {
	Name        string
	Description string
}

// Markers the observation prompt asks the model to end with.
const (
	MarkerNextTask    = "<next_task_required/>"
	MarkerFinalAnswer = "<final_answer_ready/>"
)

const outputRules = `OUTPUT RULES:
- To call a tool, respond with EXACTLY ONE of:
  1. A fenced python code block (it is routed to the code_executor tool):
     ` + "```python" + `
     print(...)
     ` + "```" + `
  2. A single valid JSON object: {"tool": "<tool_name>", "parameters": {...}}
- Do not wrap the JSON object in prose or markdown.
- For reasoning, observations and final answers, respond with plain text only.`

// BuildSystemPrompt embeds the current date, the tool catalog and the
// strict output rules.
func BuildSystemPrompt(now time.Time, tools []ToolInfo) string {
	var sb strings.Builder
	sb.WriteString("You are a methodical problem-solving assistant. ")
	sb.WriteString("You solve tasks step by step by reasoning, calling tools, and observing their results.\n\n")
	fmt.Fprintf(&sb, "Current date: %s\n\n", now.Format("2006-01-02"))

	sb.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "  - %s: %s\n", t.Name, t.Description)
	}
	sb.WriteString("\n")
	sb.WriteString(outputRules)
	return sb.String()
}

// MinimalSystemPrompt is the fallback when the caller skips the default
// prompt without supplying its own context.
const MinimalSystemPrompt = "You are a helpful problem-solving assistant."

// BuildPlanningPrompt asks for a short prose plan before the loop starts.
func BuildPlanningPrompt(query string, tools []ToolInfo) string {
	var sb strings.Builder
	sb.WriteString("Before solving, outline a short plan (3-5 numbered steps) for this task. ")
	sb.WriteString("Respond with the plan only, no tool calls.\n\n")
	fmt.Fprintf(&sb, "Task: %s\n\n", query)
	sb.WriteString("Tools you will have available:\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "  - %s\n", t.Name)
	}
	return sb.String()
}

// BuildThoughtPrompt echoes the original query and the thought-cycle count.
func BuildThoughtPrompt(query string, cycle, maxCycles int) string {
	return fmt.Sprintf(
		"Original task: %s\n\nThis is thought %d of %d. "+
			"Reason about the current state of the task and what to do next. Respond with plain text.",
		query, cycle, maxCycles)
}

// BuildActionPrompt restates the output rules with the current time.
func BuildActionPrompt(now time.Time) string {
	return fmt.Sprintf(
		"Current time: %s\n\nChoose the next action.\n\n%s",
		now.Format(time.RFC3339), outputRules)
}

// BuildObservationPrompt echoes the tool outcome and asks the model to
// close with a continuation marker.
func BuildObservationPrompt(toolName string, success bool, output, errMsg string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tool %s finished.\n", toolName)
	fmt.Fprintf(&sb, "success: %t\n", success)
	if output != "" {
		fmt.Fprintf(&sb, "output: %s\n", output)
	}
	if errMsg != "" {
		fmt.Fprintf(&sb, "error: %s\n", errMsg)
	}
	sb.WriteString("\nSummarize what this result means for the task. ")
	fmt.Fprintf(&sb, "End your response with %s if more work is needed, or %s if you can answer now.",
		MarkerNextTask, MarkerFinalAnswer)
	return sb.String()
}

// BuildFinalAnswerPrompt echoes the original query and asks for the answer.
func BuildFinalAnswerPrompt(query string) string {
	return fmt.Sprintf(
		"Original task: %s\n\nProvide the final answer now, as plain text addressed to the user.",
		query)
}

// roleLabels are stripped from the front of model responses.
var roleLabels = []string{
	"Thought:", "Action:", "Observation:", "Final Answer:", "Plan:", "Answer:",
}

// ParseResponse tolerantly cleans a model response. Leading role labels
// are stripped and the cleaned text is returned under every step key so
// the engine can pick the field matching the step it is executing.
func ParseResponse(text string) map[string]string {
	cleaned := strings.TrimSpace(text)
	for changed := true; changed; {
		changed = false
		for _, label := range roleLabels {
			if strings.HasPrefix(cleaned, label) {
				cleaned = strings.TrimSpace(cleaned[len(label):])
				changed = true
			}
		}
	}
	return map[string]string{
		"thought":      cleaned,
		"action":       cleaned,
		"observation":  cleaned,
		"final_answer": cleaned,
	}
}

// StripTrailingToolCall removes a trailing fenced code block or JSON
// object from a planning response; the plan is prose only.
func StripTrailingToolCall(plan string) string {
	trimmed := strings.TrimSpace(plan)

	// Trailing fenced block.
	if strings.HasSuffix(trimmed, "```") {
		if open := strings.LastIndex(trimmed[:len(trimmed)-3], "```"); open >= 0 {
			return strings.TrimSpace(trimmed[:open])
		}
	}

	// Trailing JSON object mentioning a tool.
	if strings.HasSuffix(trimmed, "}") {
		if loc := trailingToolObject.FindStringIndex(trimmed); loc != nil {
			return strings.TrimSpace(trimmed[:loc[0]])
		}
	}
	return trimmed
}

// trailingToolObject matches a {"tool": ...} object closing the text.
var trailingToolObject = regexp.MustCompile(`(?s)\{\s*"tool".*\}\s*$`)
