package scenes

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/imageopt"
	"rewind/internal/llm"
	"rewind/internal/perception"
)

type fakeProvider struct {
	response llm.Response
	err      error
	lastMsgs []llm.Message
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Response, error) {
	f.lastMsgs = messages
	return f.response, f.err
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, messages []llm.Message, params llm.Params, handler llm.StreamHandler) error {
	return nil
}

func jpegRecord(ts time.Time, hash string) perception.RawRecord {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 10), uint8(y * 10), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return perception.RawRecord{Kind: perception.KindScreenshot, Timestamp: ts, ImageBytes: buf.Bytes(), Hash: hash}
}

func TestExtractBuildsMultimodalMessageAndEnrichesScenes(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	screenshots := []perception.RawRecord{
		jpegRecord(base, "hash0"),
		jpegRecord(base.Add(time.Second), "hash1"),
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"scenes": [
		{"screenshot_index": 0, "visual_summary": "editor", "detected_text": "func main()"},
		{"screenshot_index": 1, "visual_summary": "browser"}
	]}`}}

	e := NewExtractor(provider, imageopt.NewPool(2), imageopt.LevelBalanced)
	scenes, err := e.Extract(context.Background(), screenshots, nil, nil)
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	assert.Equal(t, "hash0", scenes[0].ScreenshotHash)
	assert.Equal(t, base, scenes[0].Timestamp)
	assert.Equal(t, "editor", scenes[0].VisualSummary)
	assert.Equal(t, "hash1", scenes[1].ScreenshotHash)
	assert.Equal(t, "browser", scenes[1].VisualSummary)

	require.Len(t, provider.lastMsgs, 2)
	userMsg := provider.lastMsgs[1]
	require.Len(t, userMsg.Parts, 3) // 1 text preamble + 2 images
	assert.NotEmpty(t, userMsg.Parts[0].Text)
	assert.True(t, userMsg.Parts[1].IsImage())
	assert.True(t, userMsg.Parts[2].IsImage())
}

func TestExtractDropsScenesWithOutOfRangeIndex(t *testing.T) {
	screenshots := []perception.RawRecord{jpegRecord(time.Now(), "hash0")}
	provider := &fakeProvider{response: llm.Response{Content: `{"scenes": [
		{"screenshot_index": 5, "visual_summary": "ghost"}
	]}`}}

	e := NewExtractor(provider, nil, imageopt.LevelBalanced)
	scenes, err := e.Extract(context.Background(), screenshots, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, scenes)
}

func TestExtractTruncatesOversizedBatchKeepingNewest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var screenshots []perception.RawRecord
	for i := 0; i < 25; i++ {
		screenshots = append(screenshots, jpegRecord(base.Add(time.Duration(i)*time.Second), "hash"))
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"scenes": []}`}}

	e := NewExtractor(provider, nil, imageopt.LevelBalanced)
	_, err := e.Extract(context.Background(), screenshots, nil, nil)
	require.NoError(t, err)

	userMsg := provider.lastMsgs[1]
	assert.Len(t, userMsg.Parts, maxScreenshotsPerBatch+1)
}

func TestExtractReturnsEmptyOnMalformedJSON(t *testing.T) {
	screenshots := []perception.RawRecord{jpegRecord(time.Now(), "hash0")}
	provider := &fakeProvider{response: llm.Response{Content: "not json at all"}}

	e := NewExtractor(provider, nil, imageopt.LevelBalanced)
	scenes, err := e.Extract(context.Background(), screenshots, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, scenes)
}

func TestExtractReturnsNilForEmptyBatch(t *testing.T) {
	provider := &fakeProvider{}
	e := NewExtractor(provider, nil, imageopt.LevelBalanced)
	scenes, err := e.Extract(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, scenes)
}
