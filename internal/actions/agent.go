package actions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"rewind/internal/imageopt"
	"rewind/internal/llm"
	"rewind/internal/llm/jsonextract"
	"rewind/internal/observability"
	"rewind/internal/perception"
	"rewind/internal/scenes"
	"rewind/internal/store"
)

const maxScreenshotsPerAction = 6

const pipelineStage = "actions"

const sceneSystemPrompt = `You are Rewind's action extraction agent. You will be given a list of scene
descriptions, each already labeled with its position (scene_index) in the batch. Group related scenes
into discrete user actions. Respond with a single JSON object:
{"actions": [{"title": "...", "description": "...", "keywords": ["..."], "scene_index": [0, 1],
"extract_knowledge": true}]}
scene_index must be a list of 0-based positions into the scene array you were given. extract_knowledge
is optional and defaults to true; set it false only for trivial, low-value actions. Return JSON only.`

const imageSystemPrompt = `You are Rewind's action extraction agent. You will be shown a batch of
screenshots, oldest first, each already labeled with its position (image_index) in the batch. Group
related screenshots into discrete user actions. Respond with a single JSON object:
{"actions": [{"title": "...", "description": "...", "keywords": ["..."], "image_index": [0, 1],
"extract_knowledge": true}]}
image_index must be a list of 0-based positions into the screenshot batch you were shown.
extract_knowledge is optional and defaults to true. Return JSON only.`

// rawAction is the shape the LLM returns for each array element. Exactly
// one of SceneIndex/ImageIndex is populated, depending which entry point
// invoked the agent.
type rawAction struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Keywords         []string `json:"keywords"`
	SceneIndex       []int    `json:"scene_index"`
	ImageIndex       []int    `json:"image_index"`
	ExtractKnowledge *bool    `json:"extract_knowledge"`
}

func (a rawAction) indices(sceneBased bool) []int {
	if sceneBased {
		return a.SceneIndex
	}
	return a.ImageIndex
}

type actionResponse struct {
	Actions []rawAction `json:"actions"`
}

// Agent implements C4. A never-blocking Supervisor hook may revise the
// extracted actions list before it is persisted (spec.md §4.4, "Optional
// supervisor pass (C9) may revise the actions list").
type Agent struct {
	provider        llm.Provider
	pool            *imageopt.Pool
	compressionTier imageopt.CompressionLevel
	repo            store.ActionRepository
	stats           store.PipelineStatsRepository
	params          llm.Params
	Supervisor      func(ctx context.Context, actions []store.Action) []store.Action
}

// NewAgent builds a C4 Agent.
func NewAgent(provider llm.Provider, pool *imageopt.Pool, compressionTier imageopt.CompressionLevel, repo store.ActionRepository, stats store.PipelineStatsRepository) *Agent {
	return &Agent{
		provider:        provider,
		pool:            pool,
		compressionTier: compressionTier,
		repo:            repo,
		stats:           stats,
		params:          llm.Params{MaxTokens: 2048, Temperature: 0.2},
	}
}

// ExtractAndSave runs C4 end to end against in. A failure extracting or
// parsing one action drops only that action (incrementing actions_filtered)
// rather than aborting the whole batch (spec.md §4.4 failure policy).
func (ag *Agent) ExtractAndSave(ctx context.Context, in Input) (savedCount int, err error) {
	logger := observability.LoggerWithTrace(ctx)
	if in.length() == 0 {
		return 0, nil
	}

	raw, err := ag.extract(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("extract actions: %w", err)
	}
	ag.incr(ctx, "actions_extracted", int64(len(raw)))

	resolved := make([]store.Action, 0, len(raw))
	for _, a := range raw {
		action, ok := ag.resolve(ctx, in, a)
		if !ok {
			logger.Warn().Str("title", a.Title).Msg("actions: dropping action, could not resolve screenshot hashes")
			ag.incr(ctx, "actions_filtered", 1)
			continue
		}
		resolved = append(resolved, action)
	}

	if ag.Supervisor != nil {
		resolved = ag.Supervisor(ctx, resolved)
	}

	for _, action := range resolved {
		if err := ag.repo.Create(ctx, action); err != nil {
			logger.Warn().Err(err).Str("action_id", action.ID).Msg("actions: failed to save action, dropping")
			ag.incr(ctx, "actions_filtered", 1)
			continue
		}
		savedCount++
	}
	ag.incr(ctx, "actions_saved", int64(savedCount))

	return savedCount, nil
}

// resolve applies the shared hash-resolution and timestamp-calculation
// rules (spec.md §4.4) to a single raw LLM action, returning ok=false when
// the action must be dropped entirely.
func (ag *Agent) resolve(ctx context.Context, in Input, a rawAction) (store.Action, bool) {
	logger := observability.LoggerWithTrace(ctx)
	indices := a.indices(in.IsSceneBased())

	n := in.length()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			logger.Warn().Int("index", idx).Msg("actions: invalid index in action, dropping action")
			return store.Action{}, false
		}
	}

	var validIndices []int
	var hashes []string
	seen := make(map[string]bool)
	for _, idx := range indices {
		validIndices = append(validIndices, idx)
		if len(hashes) >= maxScreenshotsPerAction {
			continue
		}
		hash := in.referenceHash(idx)
		if hash != "" && !seen[hash] {
			seen[hash] = true
			hashes = append(hashes, hash)
		}
	}

	if len(hashes) == 0 {
		logger.Warn().Str("title", a.Title).Msg("actions: empty screenshot index, dropping action")
		return store.Action{}, false
	}

	timestamp := ag.calculateTimestamp(in, validIndices)

	extractKnowledge := true
	if a.ExtractKnowledge != nil {
		extractKnowledge = *a.ExtractKnowledge
	}

	return store.NewAction(a.Title, a.Description, a.Keywords, hashes, timestamp, extractKnowledge), true
}

// calculateTimestamp mirrors _calculate_action_timestamp /
// _calculate_action_timestamp_from_scenes: earliest timestamp among valid
// referenced indices; falling back to the earliest element overall when
// validIndices is empty (unreachable in practice since resolve already
// drops the action once its hash list is empty, but kept for safety);
// falling back to now() if the input itself is empty.
func (ag *Agent) calculateTimestamp(in Input, validIndices []int) time.Time {
	if len(validIndices) > 0 {
		earliest := in.referenceTimestamp(validIndices[0])
		for _, idx := range validIndices[1:] {
			if t := in.referenceTimestamp(idx); t.Before(earliest) {
				earliest = t
			}
		}
		return earliest
	}
	if t, ok := in.earliestOverall(); ok {
		return t
	}
	return time.Now().UTC()
}

func (ag *Agent) incr(ctx context.Context, counter string, delta int64) {
	if ag.stats == nil || delta == 0 {
		return
	}
	if err := ag.stats.Increment(ctx, pipelineStage, counter, delta); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("counter", counter).Msg("actions: failed to record pipeline stat")
	}
}

// extract dispatches to the scene-based or image-based LLM call depending
// on which arm of Input is populated.
func (ag *Agent) extract(ctx context.Context, in Input) ([]rawAction, error) {
	var messages []llm.Message
	var err error
	if in.IsSceneBased() {
		messages, err = ag.buildSceneMessages(in.scenes)
	} else {
		messages, err = ag.buildImageMessages(ctx, in.screenshots)
	}
	if err != nil {
		return nil, err
	}

	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return nil, fmt.Errorf("action extraction LLM call: %w", err)
	}

	var parsed actionResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).
			Msg("actions: LLM response was not valid JSON")
		return nil, nil
	}
	return parsed.Actions, nil
}

// buildSceneMessages builds the text-only prompt for the preferred path:
// scenes already carry everything the LLM needs as text (spec.md §4.3,
// "All subsequent text-only prompts (C4/C7/C8) operate on this scene
// array"), so no image bytes are sent a second time.
func (ag *Agent) buildSceneMessages(scns []scenes.Scene) ([]llm.Message, error) {
	encoded, err := json.Marshal(scns)
	if err != nil {
		return nil, fmt.Errorf("encode scenes: %w", err)
	}
	return []llm.Message{
		llm.TextMessage(llm.RoleSystem, sceneSystemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}, nil
}

// buildImageMessages builds the multimodal prompt for the legacy fallback
// path, mirroring scenes.Extractor's batch-compress-encode pipeline.
func (ag *Agent) buildImageMessages(ctx context.Context, records []perception.RawRecord) ([]llm.Message, error) {
	parts := make([]llm.ContentPart, 0, len(records)+1)
	parts = append(parts, llm.ContentPart{Text: fmt.Sprintf("Group the following %d screenshots into actions.", len(records))})

	jobs := make([]imageopt.Job[perception.RawRecord, string], len(records))
	for i, r := range records {
		jobs[i] = imageopt.Job[perception.RawRecord, string]{
			Input: r,
			Fn: func(r perception.RawRecord) (string, error) {
				compressed := imageopt.CompressWithFallback(r.ImageBytes, ag.compressionTier)
				return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(compressed), nil
			},
		}
	}

	var results []imageopt.Result[string]
	if ag.pool != nil {
		results = imageopt.SubmitAll(ctx, ag.pool, jobs)
	} else {
		results = make([]imageopt.Result[string], len(jobs))
		for i, j := range jobs {
			v, err := j.Fn(j.Input)
			results[i] = imageopt.Result[string]{Value: v, Err: err}
		}
	}

	for i, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("encode screenshot %d: %w", i, r.Err)
		}
		parts = append(parts, llm.ContentPart{ImageURL: r.Value})
	}

	return []llm.Message{
		llm.TextMessage(llm.RoleSystem, imageSystemPrompt),
		{Role: llm.RoleUser, Parts: parts},
	}, nil
}
