package tokencache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rewind/internal/llm/tokencache"
)

func TestEstimateTextScalesWithLength(t *testing.T) {
	assert.Equal(t, 0, tokencache.EstimateText(""))
	short := tokencache.EstimateText("hello")
	long := tokencache.EstimateText("hello world this is a much longer string of prose")
	assert.Greater(t, long, short)
	assert.GreaterOrEqual(t, short, 1)
}

func TestEstimateImageBytesMatchesSpecHeuristic(t *testing.T) {
	got := tokencache.EstimateImageBytes(1024)
	assert.Equal(t, 85, got)
}

func TestEstimateMessagesSums(t *testing.T) {
	total := tokencache.EstimateMessages([]string{"abcd", "abcd"})
	assert.Equal(t, 2, total)
}
