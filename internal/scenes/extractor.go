package scenes

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rewind/internal/imageopt"
	"rewind/internal/llm"
	"rewind/internal/llm/jsonextract"
	"rewind/internal/observability"
	"rewind/internal/perception"
)

const maxScreenshotsPerBatch = 20

const systemPrompt = `You are Rewind's scene extraction agent. You will be shown a batch of
desktop screenshots, oldest first. For each screenshot produce a structured description of what
is on screen. Respond with a single JSON object of the form:
{"scenes": [{"screenshot_index": 0, "visual_summary": "...", "detected_text": "...",
"ui_elements": "...", "application_context": "...", "inferred_activity": "...",
"focus_areas": "..."}]}
screenshot_index must refer to the 0-based position of the screenshot within the batch you were
shown, not any external identifier. Return JSON only, no prose, no markdown fences.`

// Extractor runs C3's multimodal scene extraction against a screenshot batch
// pulled from the perception buffer.
type Extractor struct {
	provider        llm.Provider
	pool            *imageopt.Pool
	compressionTier imageopt.CompressionLevel
	params          llm.Params
}

// NewExtractor builds an Extractor. pool bounds the concurrent image-codec
// work Extract performs while preparing a batch; compressionTier picks the
// fixed quality/dimension table entry applied to every screenshot in the
// batch (spec.md §4.2).
func NewExtractor(provider llm.Provider, pool *imageopt.Pool, compressionTier imageopt.CompressionLevel) *Extractor {
	return &Extractor{
		provider:        provider,
		pool:            pool,
		compressionTier: compressionTier,
		params:          llm.Params{MaxTokens: 2048, Temperature: 0.2},
	}
}

// Extract turns a batch of screenshots, plus keyboard/mouse activity
// records pulled from the same window for context, into a slice of Scene.
// It never returns a partial error for an individual malformed scene entry;
// invalid entries are dropped with a warning (spec.md §4.3 step 4). A
// failure of the LLM call itself is returned to the caller.
func (e *Extractor) Extract(ctx context.Context, screenshots, keyboard, mouse []perception.RawRecord) ([]Scene, error) {
	logger := observability.LoggerWithTrace(ctx)
	if len(screenshots) == 0 {
		return nil, nil
	}

	batch := screenshots
	if len(batch) > maxScreenshotsPerBatch {
		logger.Warn().
			Int("available", len(batch)).
			Int("limit", maxScreenshotsPerBatch).
			Msg("scene extraction: truncating screenshot batch, keeping newest")
		batch = batch[len(batch)-maxScreenshotsPerBatch:]
	}

	message, err := e.buildUserMessage(batch, keyboard, mouse)
	if err != nil {
		return nil, fmt.Errorf("build scene extraction message: %w", err)
	}

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, systemPrompt),
		message,
	}

	resp, err := e.provider.ChatCompletion(ctx, messages, e.params)
	if err != nil {
		return nil, fmt.Errorf("scene extraction LLM call: %w", err)
	}

	var parsed sceneResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		logger.Warn().Err(err).Str("content_prefix", truncate(resp.Content, 200)).
			Msg("scene extraction: LLM response was not valid JSON")
		return nil, nil
	}

	return enrich(parsed.Scenes, batch, logger), nil
}

// buildUserMessage assembles the single multimodal user message: a text
// preamble carrying the input-usage hint, followed by one image_url part
// per screenshot in the batch, each compressed through internal/imageopt
// before base64 encoding (grounded on RawAgent._build_scene_extraction_messages).
func (e *Extractor) buildUserMessage(batch, keyboard, mouse []perception.RawRecord) (llm.Message, error) {
	hint := inputUsageHint(keyboard, mouse)

	parts := make([]llm.ContentPart, 0, len(batch)+1)
	parts = append(parts, llm.ContentPart{Text: fmt.Sprintf(
		"Describe each of the following %d screenshots. %s", len(batch), hint)})

	type encoded struct {
		index int
		url   string
	}
	jobs := make([]imageopt.Job[perception.RawRecord, string], len(batch))
	for i, r := range batch {
		jobs[i] = imageopt.Job[perception.RawRecord, string]{
			Input: r,
			Fn: func(r perception.RawRecord) (string, error) {
				compressed := imageopt.CompressWithFallback(r.ImageBytes, e.compressionTier)
				return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(compressed), nil
			},
		}
	}

	var results []imageopt.Result[string]
	if e.pool != nil {
		results = imageopt.SubmitAll(context.Background(), e.pool, jobs)
	} else {
		results = make([]imageopt.Result[string], len(jobs))
		for i, j := range jobs {
			v, err := j.Fn(j.Input)
			results[i] = imageopt.Result[string]{Value: v, Err: err}
		}
	}

	for i, r := range results {
		if r.Err != nil {
			return llm.Message{}, fmt.Errorf("encode screenshot %d: %w", i, r.Err)
		}
		parts = append(parts, llm.ContentPart{ImageURL: r.Value})
	}

	return llm.Message{Role: llm.RoleUser, Parts: parts}, nil
}

// inputUsageHint mirrors RawAgent._build_input_usage_hint: a one-or-two-line
// summary of when keyboard/mouse activity occurred within the batch window,
// or a fixed "no activity" sentence when neither was recorded.
func inputUsageHint(keyboard, mouse []perception.RawRecord) string {
	var lines []string
	if rng, ok := timeRange(keyboard); ok {
		lines = append(lines, "Keyboard activity: "+rng)
	}
	if rng, ok := timeRange(mouse); ok {
		lines = append(lines, "Mouse activity: "+rng)
	}
	if len(lines) == 0 {
		return "No keyboard/mouse activity data available."
	}
	return strings.Join(lines, "\n")
}

func timeRange(records []perception.RawRecord) (string, bool) {
	if len(records) == 0 {
		return "", false
	}
	min, max := records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(min) {
			min = r.Timestamp
		}
		if r.Timestamp.After(max) {
			max = r.Timestamp
		}
	}
	return fmt.Sprintf("%s - %s", min.Format(time.Kitchen), max.Format(time.Kitchen)), true
}

// enrich validates each raw scene's screenshot_index against the batch and
// stitches in the {screenshot_hash, timestamp} the LLM was never shown.
func enrich(raw []rawScene, batch []perception.RawRecord, logger *zerolog.Logger) []Scene {
	out := make([]Scene, 0, len(raw))
	for _, s := range raw {
		if s.ScreenshotIndex < 0 || s.ScreenshotIndex >= len(batch) {
			logger.Warn().
				Int("screenshot_index", s.ScreenshotIndex).
				Int("batch_size", len(batch)).
				Msg("scene extraction: dropping scene with out-of-range screenshot_index")
			continue
		}
		rec := batch[s.ScreenshotIndex]
		out = append(out, Scene{
			ScreenshotIndex:    s.ScreenshotIndex,
			ScreenshotHash:     rec.Hash,
			Timestamp:          rec.Timestamp,
			VisualSummary:      s.VisualSummary,
			DetectedText:       s.DetectedText,
			UIElements:         s.UIElements,
			ApplicationContext: s.ApplicationContext,
			InferredActivity:   s.InferredActivity,
			FocusAreas:         s.FocusAreas,
		})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
