package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// totalTokensFrom extracts a total token count from vendor usage metadata.
// Vendors disagree on key names, so several spellings are tried: a direct
// total (total_tokens, total_token_count) first, then the sum of input
// and output counts under their various names.
func totalTokensFrom(meta map[string]any) int {
	if meta == nil {
		return 0
	}
	for _, key := range []string{"total_tokens", "total_token_count"} {
		if n, ok := intFrom(meta[key]); ok && n > 0 {
			return n
		}
	}

	input := 0
	for _, key := range []string{"input_tokens", "prompt_tokens", "prompt_token_count"} {
		if n, ok := intFrom(meta[key]); ok {
			input = n
			break
		}
	}
	output := 0
	for _, key := range []string{"output_tokens", "completion_tokens", "candidates_token_count"} {
		if n, ok := intFrom(meta[key]); ok {
			output = n
			break
		}
	}
	return input + output
}

func intFrom(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	default:
		return 0, false
	}
}

// normalizeContent flattens a vendor response body into plain text.
// A plain string passes through; a list of parts has its text fields
// concatenated.
func normalizeContent(v any) string {
	switch body := v.(type) {
	case string:
		return body
	case []any:
		var sb strings.Builder
		for _, part := range body {
			switch p := part.(type) {
			case string:
				sb.WriteString(p)
			case map[string]any:
				if text, ok := p["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// estimateTokens approximates the token count of text for rate
// accounting when a provider reports no usage. Uses the cl100k_base
// encoding; if the encoding cannot be loaded, falls back to a
// chars/4 heuristic.
func estimateTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}
