// Package todos implements the TODO Agent (C8): extracts actionable TODO
// items from screenshots or a scene batch, runs them through an optional
// Supervisor (C9) pass, and periodically merges related items. Grounded on
// original_source/backend/agents/todo_agent.py's TodoAgent (extract_todos,
// _merge_todos), adapted from its asyncio timer loop to the cron-driven
// Merge entry point the Coordinator invokes. Unlike Knowledge, TODO has no
// catch-up timer (spec.md §4.7 step 3, "Knowledge only").
package todos

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

const pipelineStage = "todos"

const extractSystemPrompt = `You are Rewind's TODO extraction agent. Identify concrete, actionable tasks
the user has committed to or implied they need to do: things explicitly written down, mentioned in
chat, or clearly implied by an unfinished workflow. Do not invent tasks from routine browsing.
Respond with a single JSON object:
{"todos": [{"title": "...", "description": "...", "keywords": ["..."], "scheduled_date": "YYYY-MM-DD or null", "scheduled_time": "HH:MM or null"}]}
Return an empty array if nothing qualifies. Return JSON only, no prose, no markdown fences.`

const mergeSystemPrompt = `You are Rewind's TODO merge agent. You will be given a numbered list of TODO
items, each with an index, title, description, and keywords. Group items that describe the same
underlying task. Respond with a single JSON object:
{"merged": [{"title": "...", "description": "...", "keywords": ["..."], "source": [1, 2]}]}
source must be a list of the 1-based indices you were given; a cluster needs at least two indices.
Items with no related item can be left out entirely. Return JSON only.`

// DefaultMergeInterval is the spec.md §4.7 default merge cadence.
const DefaultMergeInterval = 1200 * time.Second

type rawTodo struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Keywords      []string `json:"keywords"`
	ScheduledDate *string  `json:"scheduled_date"`
	ScheduledTime *string  `json:"scheduled_time"`
}

type extractResponse struct {
	Todos []rawTodo `json:"todos"`
}

type todoView struct {
	Index       int      `json:"index"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

type rawMerged struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Source      []int    `json:"source"`
}

type mergeResponse struct {
	Merged []rawMerged `json:"merged"`
}

// Agent implements C8. A never-blocking Supervisor hook may revise an
// extracted TODO batch before it is persisted (spec.md §4.7 step 1, §4.8).
type Agent struct {
	provider        llm.Provider
	pool            *imageopt.Pool
	compressionTier imageopt.CompressionLevel
	todos           store.TodoRepository
	stats           store.PipelineStatsRepository
	params          llm.Params

	MergeInterval time.Duration
	Supervisor    func(ctx context.Context, items []store.Todo) []store.Todo
}

// NewAgent builds a C8 Agent.
func NewAgent(
	provider llm.Provider,
	pool *imageopt.Pool,
	compressionTier imageopt.CompressionLevel,
	todosRepo store.TodoRepository,
	stats store.PipelineStatsRepository,
) *Agent {
	return &Agent{
		provider:        provider,
		pool:            pool,
		compressionTier: compressionTier,
		todos:           todosRepo,
		stats:           stats,
		params:          llm.Params{MaxTokens: 2048, Temperature: 0.2},
		MergeInterval:   DefaultMergeInterval,
	}
}

// ExtractFromScreenshots extracts TODOs from raw screenshots, mirroring
// extract_todos's multimodal path.
func (ag *Agent) ExtractFromScreenshots(ctx context.Context, records []perception.RawRecord, sourceActionID *string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	messages, err := ag.buildImageMessages(ctx, records)
	if err != nil {
		return 0, err
	}
	return ag.extractAndSave(ctx, messages, sourceActionID)
}

// ExtractFromScenes extracts TODOs from a text-only scene batch (spec.md
// §4.7 step 1, "or on a scene batch"), mirroring the Knowledge Agent's
// scene-based entry point.
func (ag *Agent) ExtractFromScenes(ctx context.Context, scns []scenes.Scene, sourceActionID *string) (int, error) {
	if len(scns) == 0 {
		return 0, nil
	}
	encoded, err := json.Marshal(scns)
	if err != nil {
		return 0, fmt.Errorf("encode scenes: %w", err)
	}
	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, extractSystemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}
	return ag.extractAndSave(ctx, messages, sourceActionID)
}

func (ag *Agent) buildImageMessages(ctx context.Context, records []perception.RawRecord) ([]llm.Message, error) {
	parts := make([]llm.ContentPart, 0, len(records)+1)
	parts = append(parts, llm.ContentPart{Text: fmt.Sprintf("Identify TODOs from the following %d screenshots.", len(records))})

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

	logger := observability.LoggerWithTrace(ctx)
	for _, r := range results {
		if r.Err != nil {
			logger.Warn().Err(r.Err).Msg("todos: failed to encode screenshot, skipping")
			continue
		}
		parts = append(parts, llm.ContentPart{ImageURL: r.Value})
	}

	return []llm.Message{
		llm.TextMessage(llm.RoleSystem, extractSystemPrompt),
		{Role: llm.RoleUser, Parts: parts},
	}, nil
}

func (ag *Agent) extractAndSave(ctx context.Context, messages []llm.Message, sourceActionID *string) (int, error) {
	logger := observability.LoggerWithTrace(ctx)

	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return 0, fmt.Errorf("todo extraction LLM call: %w", err)
	}

	var parsed extractResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("todos: LLM response was not valid JSON")
		return 0, nil
	}
	if len(parsed.Todos) == 0 {
		return 0, nil
	}

	items := make([]store.Todo, 0, len(parsed.Todos))
	for _, rt := range parsed.Todos {
		items = append(items, store.NewTodo(rt.Title, rt.Description, rt.ScheduledDate, rt.ScheduledTime, sourceActionID))
	}

	if ag.Supervisor != nil {
		items = ag.Supervisor(ctx, items)
	}

	saved := 0
	for _, t := range items {
		if err := ag.todos.Create(ctx, t); err != nil {
			logger.Warn().Err(err).Str("todo_id", t.ID).Msg("todos: failed to save item, dropping")
			continue
		}
		saved++
	}
	ag.incr(ctx, "todos_extracted", int64(saved))
	return saved, nil
}

// Merge runs one merge pass (spec.md §4.7 step 2).
func (ag *Agent) Merge(ctx context.Context) error {
	logger := observability.LoggerWithTrace(ctx)

	unmerged, err := ag.todos.ListUnmerged(ctx)
	if err != nil {
		return fmt.Errorf("list unmerged todos: %w", err)
	}
	if len(unmerged) < 2 {
		logger.Debug().Int("candidates", len(unmerged)).Msg("todos: too few unmerged items, skipping merge")
		return nil
	}

	views := make([]todoView, len(unmerged))
	for i, t := range unmerged {
		views[i] = todoView{Index: i + 1, Title: t.Title, Description: t.Description, Keywords: nil}
	}
	encoded, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("encode todo items: %w", err)
	}

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, mergeSystemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}
	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return fmt.Errorf("todo merge LLM call: %w", err)
	}

	var parsed mergeResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("todos: merge LLM response was not valid JSON")
		return nil
	}

	merged := 0
	for _, rm := range parsed.Merged {
		indices := normalizeSourceIndexes(rm.Source, len(unmerged))
		if len(indices) < 2 {
			continue
		}
		sourceIDs := make([]string, len(indices))
		for i, idx := range indices {
			sourceIDs[i] = unmerged[idx-1].ID
		}
		combined := store.NewTodo(rm.Title, rm.Description, nil, nil, nil)
		if err := ag.todos.CreateMerged(ctx, combined, sourceIDs); err != nil {
			logger.Warn().Err(err).Msg("todos: failed to save merged item")
			continue
		}
		merged++
	}

	ag.incr(ctx, "todos_merged", int64(merged))
	return nil
}

// normalizeSourceIndexes keeps only 1-based indices within [1, total],
// deduplicated, order-preserving (mirrors activities.normalizeSourceIndexes).
func normalizeSourceIndexes(raw []int, total int) []int {
	if total <= 0 {
		return nil
	}
	seen := make(map[int]bool, len(raw))
	out := make([]int, 0, len(raw))
	for _, idx := range raw {
		if idx < 1 || idx > total || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

func (ag *Agent) incr(ctx context.Context, counter string, delta int64) {
	if ag.stats == nil || delta == 0 {
		return
	}
	if err := ag.stats.Increment(ctx, pipelineStage, counter, delta); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("counter", counter).Msg("todos: failed to record pipeline stat")
	}
}
