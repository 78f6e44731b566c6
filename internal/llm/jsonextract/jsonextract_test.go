package jsonextract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/llm/jsonextract"
)

func TestExtractStripsFencesAndProse(t *testing.T) {
	raw := "Sure, here is the result:\n```json\n{\"scenes\": [{\"screenshot_index\": 0}]}\n```\nLet me know if you need more."
	got := jsonextract.Extract(raw)
	assert.Equal(t, `{"scenes": [{"screenshot_index": 0}]}`, got)
}

func TestExtractTrimsTrailingComma(t *testing.T) {
	raw := `{"a": 1, "b": [1, 2, 3,],}`
	got := jsonextract.Extract(raw)

	var v map[string]any
	require.NoError(t, jsonextract.Unmarshal(raw, &v))
	assert.Equal(t, float64(1), v["a"])
	_ = got
}

func TestUnmarshalIntoStruct(t *testing.T) {
	type scene struct {
		ScreenshotIndex int `json:"screenshot_index"`
	}
	type payload struct {
		Scenes []scene `json:"scenes"`
	}

	raw := "prose prefix { not json but ignored\n```json\n{\"scenes\":[{\"screenshot_index\":2}]}\n```"
	var p payload
	require.NoError(t, jsonextract.Unmarshal(raw, &p))
	require.Len(t, p.Scenes, 1)
	assert.Equal(t, 2, p.Scenes[0].ScreenshotIndex)
}

func TestExtractNoFencesPlainJSON(t *testing.T) {
	raw := `{"ok": true}`
	assert.Equal(t, raw, jsonextract.Extract(raw))
}
