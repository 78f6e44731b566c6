package imageopt

import "rewind/internal/llm/tokencache"

// EstimateTokens applies the global ~85-tokens-per-KB-of-JPEG budget
// estimator from spec.md §4.2 to a compressed image. The actual constant
// lives in internal/llm/tokencache so every caller shares one estimate.
func EstimateTokens(jpegBytes []byte) int {
	return tokencache.EstimateImageBytes(len(jpegBytes))
}
