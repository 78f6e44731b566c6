// Package tokencache provides a local, network-free token count estimate so
// agents can budget prompt size before making an LLM call, grounded on the
// teacher's local tokenizeCount fallback used for self-hosted models that
// don't expose a tokenizer endpoint.
package tokencache

import "unicode/utf8"

// charsPerToken is the heuristic the teacher falls back to: roughly four
// characters per token for English prose.
const charsPerToken = 4.0

// tokensPerKB is spec.md §4.2's global token budget estimator for
// JPEG image parts: roughly 85 tokens per KB of compressed JPEG.
const tokensPerKB = 85.0

// EstimateText returns an approximate token count for a text string.
func EstimateText(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	est := float64(n) / charsPerToken
	if est < 1 {
		return 1
	}
	return int(est + 0.5)
}

// EstimateImageBytes returns an approximate token count for a JPEG image of
// the given byte size, per spec.md §4.2.
func EstimateImageBytes(jpegBytes int) int {
	kb := float64(jpegBytes) / 1024.0
	return int(kb*tokensPerKB + 0.5)
}

// EstimateMessages sums EstimateText over a slice of plain-text strings
// (e.g. one per message's content), useful for agents that only ever send
// text-only prompts (C4-C9).
func EstimateMessages(texts []string) int {
	total := 0
	for _, t := range texts {
		total += EstimateText(t)
	}
	return total
}
