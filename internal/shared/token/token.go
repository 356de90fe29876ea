// Package token counts tokens for Brain Cache budget accounting (spec.md
// §4.4). Grounded on internal/shared/token/tokenutil_test.go, which expects
// a pkoukk/tiktoken-go cl100k_base encoding with a rune-based fallback when
// the encoding can't be loaded (air-gapped environments, etc.).
package token

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var encoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		encoding = enc
	}
}

// CountTokens returns the token count for text using cl100k_base when
// available, falling back to a conservative rune/4 estimate otherwise.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast is a cheap, encoding-free estimate used as a fallback and in
// hot paths where exact counts aren't required (e.g. streaming chunk
// accounting). It floors at word count since short texts with long words
// undercount under a pure rune/4 heuristic.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	runes := utf8.RuneCountInString(trimmed)
	estimate := runes / 4
	if words > estimate {
		return words
	}
	return estimate
}

// TruncateToTokens truncates text to at most maxTokens tokens (approximate
// when falling back to the rune estimate), appending "..." when truncation
// occurred. maxTokens <= 0 is a no-op.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if CountTokens(text) <= maxTokens {
		return text
	}

	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		truncated := encoding.Decode(tokens[:maxTokens])
		return truncated + "..."
	}

	// Rune-estimate fallback: maxTokens*4 is the approximate rune budget.
	budget := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget]) + "..."
}
