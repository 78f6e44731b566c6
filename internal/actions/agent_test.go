package actions

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
	"rewind/internal/scenes"
	"rewind/internal/store"
)

type fakeProvider struct {
	response llm.Response
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Response, error) {
	return f.response, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, messages []llm.Message, params llm.Params, handler llm.StreamHandler) error {
	return nil
}

type fakeActionRepo struct {
	created []store.Action
}

func (r *fakeActionRepo) Create(ctx context.Context, a store.Action) error {
	r.created = append(r.created, a)
	return nil
}
func (r *fakeActionRepo) Get(ctx context.Context, id string) (store.Action, error) { return store.Action{}, nil }
func (r *fakeActionRepo) ListSince(ctx context.Context, since time.Time) ([]store.Action, error) {
	return nil, nil
}
func (r *fakeActionRepo) ListUnaggregated(ctx context.Context, since time.Time) ([]store.Action, error) {
	return nil, nil
}
func (r *fakeActionRepo) ListForKnowledgeCatchup(ctx context.Context, limit int) ([]store.Action, error) {
	return nil, nil
}
func (r *fakeActionRepo) MarkKnowledgeExtracted(ctx context.Context, id string) error { return nil }
func (r *fakeActionRepo) Delete(ctx context.Context, id string) error                 { return nil }

func testScene(idx int, hash string, ts time.Time) scenes.Scene {
	return scenes.Scene{ScreenshotIndex: idx, ScreenshotHash: hash, Timestamp: ts, VisualSummary: "summary"}
}

func TestExtractAndSaveSceneBasedResolvesHashesAndTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	scns := []scenes.Scene{
		testScene(0, "h0", base),
		testScene(1, "h1", base.Add(time.Minute)),
		testScene(2, "h2", base.Add(2*time.Minute)),
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "Wrote code", "description": "desc", "keywords": ["go"], "scene_index": [1, 0]}
	]}`}}
	repo := &fakeActionRepo{}

	ag := NewAgent(provider, nil, imageopt.LevelBalanced, repo, nil)
	saved, err := ag.ExtractAndSave(context.Background(), FromScenes(scns))
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	require.Len(t, repo.created, 1)

	action := repo.created[0]
	assert.Equal(t, "Wrote code", action.Title)
	assert.Equal(t, base, action.Timestamp) // earliest of referenced scenes 0 and 1
	assert.Equal(t, []string{"h1", "h0"}, []string(action.Screenshots))
	assert.True(t, action.ExtractKnowledge)
}

func TestExtractAndSaveDropsActionWithInvalidIndex(t *testing.T) {
	scns := []scenes.Scene{testScene(0, "h0", time.Now())}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "bad", "description": "d", "scene_index": [5]}
	]}`}}
	repo := &fakeActionRepo{}

	statsRepo := newInMemoryStats()
	ag := NewAgent(provider, nil, imageopt.LevelBalanced, repo, statsRepo)
	saved, err := ag.ExtractAndSave(context.Background(), FromScenes(scns))
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Empty(t, repo.created)
	assert.EqualValues(t, 1, statsRepo.snapshot["actions_filtered"])
}

func TestExtractAndSaveDropsActionWithEmptyIndex(t *testing.T) {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	scns := []scenes.Scene{
		testScene(0, "h0", base.Add(time.Hour)),
		testScene(1, "h1", base),
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "t", "description": "d", "scene_index": []}
	]}`}}
	repo := &fakeActionRepo{}

	statsRepo := newInMemoryStats()
	ag := NewAgent(provider, nil, imageopt.LevelBalanced, repo, statsRepo)
	saved, err := ag.ExtractAndSave(context.Background(), FromScenes(scns))
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Empty(t, repo.created)
	assert.EqualValues(t, 1, statsRepo.snapshot["actions_filtered"])
}

func TestExtractAndSaveCapsScreenshotsAtSix(t *testing.T) {
	base := time.Now()
	var scns []scenes.Scene
	var idxList string
	for i := 0; i < 8; i++ {
		scns = append(scns, testScene(i, hashFor(i), base.Add(time.Duration(i)*time.Second)))
		if i > 0 {
			idxList += ","
		}
		idxList += itoa(i)
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "t", "description": "d", "scene_index": [` + idxList + `]}
	]}`}}
	repo := &fakeActionRepo{}

	ag := NewAgent(provider, nil, imageopt.LevelBalanced, repo, nil)
	_, err := ag.ExtractAndSave(context.Background(), FromScenes(scns))
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Len(t, repo.created[0].Screenshots, 6)
}

func TestExtractAndSaveDropsActionWithInvalidIndexAfterScreenshotCap(t *testing.T) {
	base := time.Now()
	var scns []scenes.Scene
	for i := 0; i < 6; i++ {
		scns = append(scns, testScene(i, hashFor(i), base.Add(time.Duration(i)*time.Second)))
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "bad", "description": "d", "scene_index": [0,1,2,3,4,5,999]}
	]}`}}
	repo := &fakeActionRepo{}

	statsRepo := newInMemoryStats()
	ag := NewAgent(provider, nil, imageopt.LevelBalanced, repo, statsRepo)
	saved, err := ag.ExtractAndSave(context.Background(), FromScenes(scns))
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Empty(t, repo.created)
	assert.EqualValues(t, 1, statsRepo.snapshot["actions_filtered"])
}

func TestExtractAndSaveRespectsExplicitExtractKnowledgeFalse(t *testing.T) {
	scns := []scenes.Scene{testScene(0, "h0", time.Now())}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "t", "description": "d", "scene_index": [0], "extract_knowledge": false}
	]}`}}
	repo := &fakeActionRepo{}

	ag := NewAgent(provider, nil, imageopt.LevelBalanced, repo, nil)
	_, err := ag.ExtractAndSave(context.Background(), FromScenes(scns))
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.False(t, repo.created[0].ExtractKnowledge)
}

func jpegRecord(ts time.Time, hash string) perception.RawRecord {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 20), uint8(y * 20), 50, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return perception.RawRecord{Kind: perception.KindScreenshot, Timestamp: ts, ImageBytes: buf.Bytes(), Hash: hash}
}

func TestExtractAndSaveImageBasedLegacyPath(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []perception.RawRecord{
		jpegRecord(base, "h0"),
		jpegRecord(base.Add(time.Minute), "h1"),
	}
	provider := &fakeProvider{response: llm.Response{Content: `{"actions": [
		{"title": "legacy action", "description": "d", "image_index": [0, 1]}
	]}`}}
	repo := &fakeActionRepo{}

	ag := NewAgent(provider, imageopt.NewPool(2), imageopt.LevelBalanced, repo, nil)
	saved, err := ag.ExtractAndSave(context.Background(), FromScreenshots(records))
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	require.Len(t, repo.created, 1)
	assert.Equal(t, base, repo.created[0].Timestamp)
	assert.Equal(t, []string{"h0", "h1"}, []string(repo.created[0].Screenshots))
}

func TestExtractAndSaveReturnsZeroForEmptyInput(t *testing.T) {
	repo := &fakeActionRepo{}
	ag := NewAgent(&fakeProvider{}, nil, imageopt.LevelBalanced, repo, nil)
	saved, err := ag.ExtractAndSave(context.Background(), FromScenes(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
}

func hashFor(i int) string { return "h" + itoa(i) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

type inMemoryStats struct {
	snapshot map[string]int64
}

func newInMemoryStats() *inMemoryStats {
	return &inMemoryStats{snapshot: make(map[string]int64)}
}

func (s *inMemoryStats) Increment(ctx context.Context, stage, counterName string, delta int64) error {
	s.snapshot[counterName] += delta
	return nil
}
func (s *inMemoryStats) Snapshot(ctx context.Context, stage string) (map[string]int64, error) {
	return s.snapshot, nil
}
func (s *inMemoryStats) All(ctx context.Context) (map[string]map[string]int64, error) {
	return map[string]map[string]int64{"actions": s.snapshot}, nil
}
