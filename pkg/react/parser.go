package react

import (
	"encoding/json"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solvr-ai/solvr/pkg/tools"
)

// ActionParser converts raw model text into a tool invocation. It is
// deliberately tolerant: models misformat, truncate and embellish their
// tool calls, and this is the single place that absorbs all of it.
// ParseAction never fails: when nothing resembles a tool call it
// returns ("", nil), which the engine treats as a non-tool action.
type ActionParser struct {
	knownTools []string
}

// NewActionParser creates a parser aware of the registered tool names.
// The names drive the emergency fallback scan.
func NewActionParser(knownTools []string) *ActionParser {
	return &ActionParser{knownTools: knownTools}
}

var (
	pythonFence = regexp.MustCompile("(?s)^```(?:python|py)\\s*\n(.*?)```")
	anyFence    = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)```")
	toolObject  = regexp.MustCompile(`(?s)\{[^{}]*"tool"\s*:.*?"parameters"\s*:.*\}`)

	keywordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*Tool:\s*([A-Za-z_][\w-]*)`),
		regexp.MustCompile(`(?i)\bUse\s+(?:the\s+)?([A-Za-z_][\w-]*)\s+tool\b`),
		regexp.MustCompile(`(?i)\bExecute\s+([A-Za-z_][\w-]*)\b`),
		regexp.MustCompile(`(?i)\bRun\s+([A-Za-z_][\w-]*)\b`),
	}
	inlineParams = regexp.MustCompile(`(?is)(?:Input|Parameters):\s*(\{.*?\})`)
	keyValuePair = regexp.MustCompile(`(\w+)\s*=\s*"?([^",\n]+)"?`)
)

// ParseAction extracts (toolName, args) from raw action text. An empty
// tool name means the text was not a tool call.
func (p *ActionParser) ParseAction(text string) (string, map[string]any) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}

	// 1. Fenced python blocks route straight to the code executor.
	if m := pythonFence.FindStringSubmatch(trimmed); m != nil {
		return tools.CodeExecutorToolName, map[string]any{"code": strings.TrimSpace(m[1])}
	}

	// 2. Strict JSON, with any code fence stripped first.
	candidate := trimmed
	if m := anyFence.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if name, args, ok := parseToolJSON(candidate); ok {
		return name, args
	}

	// 3. Progressive repair of truncated or embedded JSON.
	if name, args, ok := p.repairJSON(candidate); ok {
		return name, args
	}

	// 4. YAML accepts unquoted keys and sloppy indentation.
	if name, args, ok := parseToolYAML(candidate); ok {
		return name, args
	}

	// 5. Line-based scraping of tool:/parameters: lines.
	if name, args, ok := scrapeLines(trimmed); ok {
		return name, args
	}

	// 6. Prose keyword patterns.
	if name, args, ok := p.parseKeywords(trimmed); ok {
		return name, args
	}

	// 7. Emergency scan for any known tool name.
	if name := p.EmergencyParse(trimmed); name != "" {
		return name, map[string]any{}
	}

	return "", nil
}

// EmergencyParse scans the text for any registered tool name and
// returns the first match, or "".
func (p *ActionParser) EmergencyParse(text string) string {
	lower := strings.ToLower(text)
	for _, name := range p.knownTools {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

// parseToolJSON attempts a strict parse of {"tool": ..., "parameters": ...}.
// An {"action": ...} object without a tool key is an explicit non-tool
// action and parses successfully to ("", nil).
func parseToolJSON(text string) (string, map[string]any, bool) {
	if !strings.HasPrefix(text, "{") {
		return "", nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return "", nil, false
	}
	return toolFromObject(obj)
}

func toolFromObject(obj map[string]any) (string, map[string]any, bool) {
	if name, ok := obj["tool"].(string); ok && name != "" {
		args, _ := obj["parameters"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		return name, args, true
	}
	if _, ok := obj["action"]; ok {
		return "", nil, true
	}
	return "", nil, false
}

// repairJSON tries to rescue truncated or prose-embedded tool objects:
// close missing braces, slice out a {"tool"..."parameters"...} region,
// then parse the first brace-balanced prefix.
func (p *ActionParser) repairJSON(text string) (string, map[string]any, bool) {
	if strings.HasPrefix(text, "{") {
		for _, suffix := range []string{"}", "}}", `"}}`} {
			if name, args, ok := parseToolJSON(text + suffix); ok {
				return name, args, true
			}
		}
	}
	if m := toolObject.FindString(text); m != "" {
		if name, args, ok := parseToolJSON(m); ok {
			return name, args, true
		}
	}
	if start := strings.Index(text, "{"); start >= 0 {
		if prefix := balancedPrefix(text[start:]); prefix != "" {
			if name, args, ok := parseToolJSON(prefix); ok {
				return name, args, true
			}
		}
	}
	return "", nil, false
}

// balancedPrefix returns the shortest prefix of s that forms a
// brace-balanced object, respecting JSON string literals.
func balancedPrefix(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}

func parseToolYAML(text string) (string, map[string]any, bool) {
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return "", nil, false
	}
	name, args, ok := toolFromObject(obj)
	if !ok || name == "" {
		return "", nil, false
	}
	return name, args, true
}

// scrapeLines handles responses that list the call line by line:
//
//	tool: web_search
//	parameters:
//	  query: something
func scrapeLines(text string) (string, map[string]any, bool) {
	var name string
	args := map[string]any{}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "tool:"):
			name = strings.Trim(strings.TrimSpace(trimmed[len("tool:"):]), `"'`)
		case strings.HasPrefix(lower, "parameters:"):
			rest := strings.TrimSpace(trimmed[len("parameters:"):])
			if rest != "" {
				var parsed map[string]any
				if json.Unmarshal([]byte(rest), &parsed) == nil || yaml.Unmarshal([]byte(rest), &parsed) == nil {
					for k, v := range parsed {
						args[k] = v
					}
				}
				continue
			}
			// Indented block below the parameters: line.
			block := collectIndented(lines[i+1:])
			if block != "" {
				var parsed map[string]any
				if yaml.Unmarshal([]byte(block), &parsed) == nil {
					for k, v := range parsed {
						args[k] = v
					}
				}
			}
		}
	}
	if name == "" {
		return "", nil, false
	}
	return name, args, true
}

func collectIndented(lines []string) string {
	var sb strings.Builder
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			break
		}
		sb.WriteString(strings.TrimLeft(line, " \t"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// parseKeywords matches prose like "Use the web_search tool. Input:
// {...}" or "Run code_executor with code=print(1)".
func (p *ActionParser) parseKeywords(text string) (string, map[string]any, bool) {
	var name string
	for _, pat := range keywordPatterns {
		if m := pat.FindStringSubmatch(text); m != nil {
			candidate := m[1]
			if p.isKnownTool(candidate) {
				name = candidate
				break
			}
			if name == "" {
				name = candidate
			}
		}
	}
	if name == "" {
		return "", nil, false
	}
	// Only trust unknown names when nothing else matched at all.
	if !p.isKnownTool(name) && len(p.knownTools) > 0 {
		if known := p.EmergencyParse(text); known != "" {
			name = known
		} else {
			return "", nil, false
		}
	}

	args := map[string]any{}
	if m := inlineParams.FindStringSubmatch(text); m != nil {
		var parsed map[string]any
		if json.Unmarshal([]byte(m[1]), &parsed) == nil {
			args = parsed
		}
	}
	if len(args) == 0 {
		for _, m := range keyValuePair.FindAllStringSubmatch(text, -1) {
			args[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return name, args, true
}

func (p *ActionParser) isKnownTool(name string) bool {
	for _, t := range p.knownTools {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}
