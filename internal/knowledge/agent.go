// Package knowledge implements the Knowledge Agent (C7): extracts reusable
// knowledge items from scenes or a single action's screenshots, runs them
// through an optional Supervisor (C9) pass, and periodically merges
// overlapping items. Grounded on
// original_source/backend/agents/knowledge_agent.py's KnowledgeAgent
// (extract_knowledge, extract_knowledge_from_action,
// extract_knowledge_from_scenes, _merge_knowledge,
// process_pending_extractions), adapted from its asyncio timer loops to the
// cron-driven Catchup and Merge entry points the Coordinator invokes.
package knowledge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"rewind/internal/imageopt"
	"rewind/internal/llm"
	"rewind/internal/llm/jsonextract"
	"rewind/internal/observability"
	"rewind/internal/scenes"
	"rewind/internal/store"
)

const pipelineStage = "knowledge"

const extractSystemPrompt = `You are Rewind's knowledge extraction agent. Identify reusable factual or
procedural knowledge worth remembering long-term: facts learned, decisions made, solutions found,
configuration details, or other information the user would want to recall later. Do not extract
routine or ephemeral activity. Respond with a single JSON object:
{"knowledge": [{"title": "...", "description": "...", "keywords": ["..."]}]}
Return an empty array if nothing qualifies. Return JSON only, no prose, no markdown fences.`

const mergeSystemPrompt = `You are Rewind's knowledge merge agent. You will be given a numbered list of
knowledge items, each with an index, title, description, and keywords. Group items that describe the
same underlying fact or procedure. Respond with a single JSON object:
{"merged": [{"title": "...", "description": "...", "keywords": ["..."], "source": [1, 2]}]}
source must be a list of the 1-based indices you were given; a cluster needs at least two indices.
Items with no related item can be left out entirely. Return JSON only.`

// Default tunables (spec.md §4.7).
const (
	DefaultMergeInterval   = 1200 * time.Second
	DefaultCatchupInterval = 300 * time.Second
	DefaultCatchupBatch    = 20
)

type rawKnowledge struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

type extractResponse struct {
	Knowledge []rawKnowledge `json:"knowledge"`
}

type knowledgeView struct {
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

// Agent implements C7. A never-blocking Supervisor hook may revise an
// extracted knowledge batch before it is persisted (spec.md §4.7 step 1,
// §4.8).
type Agent struct {
	provider        llm.Provider
	pool            *imageopt.Pool
	compressionTier imageopt.CompressionLevel
	knowledge       store.KnowledgeRepository
	actions         store.ActionRepository
	thumbnails      store.ThumbnailRepository
	stats           store.PipelineStatsRepository
	params          llm.Params

	MergeInterval time.Duration
	CatchupBatch  int
	Supervisor    func(ctx context.Context, items []store.Knowledge) []store.Knowledge
}

// NewAgent builds a C7 Agent.
func NewAgent(
	provider llm.Provider,
	pool *imageopt.Pool,
	compressionTier imageopt.CompressionLevel,
	knowledgeRepo store.KnowledgeRepository,
	actionsRepo store.ActionRepository,
	thumbnails store.ThumbnailRepository,
	stats store.PipelineStatsRepository,
) *Agent {
	return &Agent{
		provider:        provider,
		pool:            pool,
		compressionTier: compressionTier,
		knowledge:       knowledgeRepo,
		actions:         actionsRepo,
		thumbnails:      thumbnails,
		stats:           stats,
		params:          llm.Params{MaxTokens: 2048, Temperature: 0.2},
		MergeInterval:   DefaultMergeInterval,
		CatchupBatch:    DefaultCatchupBatch,
	}
}

// ExtractFromScenes extracts knowledge from a text-only scene batch
// (spec.md §4.7 step 1, "called ... on a scene batch"). sourceActionID is
// optional and links the resulting items to the action that triggered them.
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

	timestamp := earliestSceneTimestamp(scns)
	return ag.extractAndSave(ctx, messages, sourceActionID, timestamp)
}

// ExtractFromAction extracts knowledge from a single saved action's
// screenshots (spec.md §4.7 step 1, "called by the action ingestion path"),
// and marks the action knowledge_extracted on success. Screenshot bytes
// that cannot be loaded are skipped rather than failing the whole action.
func (ag *Agent) ExtractFromAction(ctx context.Context, action store.Action) (int, error) {
	logger := observability.LoggerWithTrace(ctx)

	messages, err := ag.buildActionMessages(ctx, action)
	if err != nil {
		return 0, err
	}

	saved, err := ag.extractAndSave(ctx, messages, &action.ID, action.Timestamp)
	if err != nil {
		return 0, err
	}

	if err := ag.actions.MarkKnowledgeExtracted(ctx, action.ID); err != nil {
		logger.Warn().Err(err).Str("action_id", action.ID).Msg("knowledge: failed to mark action extracted")
	}
	return saved, nil
}

func (ag *Agent) buildActionMessages(ctx context.Context, action store.Action) ([]llm.Message, error) {
	logger := observability.LoggerWithTrace(ctx)

	parts := []llm.ContentPart{{Text: fmt.Sprintf(
		"Action: %s\n%s\nKeywords: %v", action.Title, action.Description, []string(action.Keywords),
	)}}

	for _, hash := range action.Screenshots {
		thumb, err := ag.thumbnails.Get(ctx, hash)
		if err != nil {
			logger.Warn().Err(err).Str("hash", hash).Msg("knowledge: thumbnail not found, skipping")
			continue
		}
		data, err := os.ReadFile(thumb.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", thumb.Path).Msg("knowledge: failed to read thumbnail file, skipping")
			continue
		}
		compressed := imageopt.CompressWithFallback(data, ag.compressionTier)
		parts = append(parts, llm.ContentPart{
			ImageURL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(compressed),
		})
	}

	return []llm.Message{
		llm.TextMessage(llm.RoleSystem, extractSystemPrompt),
		{Role: llm.RoleUser, Parts: parts},
	}, nil
}

func (ag *Agent) extractAndSave(ctx context.Context, messages []llm.Message, sourceActionID *string, timestamp time.Time) (int, error) {
	logger := observability.LoggerWithTrace(ctx)

	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return 0, fmt.Errorf("knowledge extraction LLM call: %w", err)
	}

	var parsed extractResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("knowledge: LLM response was not valid JSON")
		return 0, nil
	}
	if len(parsed.Knowledge) == 0 {
		return 0, nil
	}

	items := make([]store.Knowledge, 0, len(parsed.Knowledge))
	for _, rk := range parsed.Knowledge {
		k := store.NewKnowledge(rk.Title, rk.Description, rk.Keywords, sourceActionID)
		if !timestamp.IsZero() {
			k.CreatedAt = timestamp
		}
		items = append(items, k)
	}

	if ag.Supervisor != nil {
		items = ag.Supervisor(ctx, items)
	}

	saved := 0
	for _, k := range items {
		if err := ag.knowledge.Create(ctx, k); err != nil {
			logger.Warn().Err(err).Str("knowledge_id", k.ID).Msg("knowledge: failed to save item, dropping")
			continue
		}
		saved++
	}
	ag.incr(ctx, "knowledge_extracted", int64(saved))
	return saved, nil
}

// earliestSceneTimestamp mirrors _calculate_knowledge_timestamp_from_scenes:
// the earliest timestamp among the scenes, or now() if none parse.
func earliestSceneTimestamp(scns []scenes.Scene) time.Time {
	var earliest time.Time
	for _, s := range scns {
		if s.Timestamp.IsZero() {
			continue
		}
		if earliest.IsZero() || s.Timestamp.Before(earliest) {
			earliest = s.Timestamp
		}
	}
	if earliest.IsZero() {
		return time.Now().UTC()
	}
	return earliest
}

// Catchup scans actions pending knowledge extraction and extracts from each
// (spec.md §4.7 step 3, Knowledge-only catch-up timer).
func (ag *Agent) Catchup(ctx context.Context) error {
	logger := observability.LoggerWithTrace(ctx)

	batch := ag.CatchupBatch
	if batch <= 0 {
		batch = DefaultCatchupBatch
	}

	pending, err := ag.actions.ListForKnowledgeCatchup(ctx, batch)
	if err != nil {
		return fmt.Errorf("list knowledge catchup actions: %w", err)
	}

	for _, action := range pending {
		if _, err := ag.ExtractFromAction(ctx, action); err != nil {
			logger.Warn().Err(err).Str("action_id", action.ID).Msg("knowledge: catchup extraction failed")
		}
	}
	return nil
}

// Merge runs one merge pass (spec.md §4.7 step 2).
func (ag *Agent) Merge(ctx context.Context) error {
	logger := observability.LoggerWithTrace(ctx)

	unmerged, err := ag.knowledge.ListUnmerged(ctx)
	if err != nil {
		return fmt.Errorf("list unmerged knowledge: %w", err)
	}
	if len(unmerged) < 2 {
		logger.Debug().Int("candidates", len(unmerged)).Msg("knowledge: too few unmerged items, skipping merge")
		return nil
	}

	views := make([]knowledgeView, len(unmerged))
	for i, k := range unmerged {
		views[i] = knowledgeView{Index: i + 1, Title: k.Title, Description: k.Description, Keywords: k.Keywords}
	}
	encoded, err := json.Marshal(views)
	if err != nil {
		return fmt.Errorf("encode knowledge items: %w", err)
	}

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, mergeSystemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}
	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return fmt.Errorf("knowledge merge LLM call: %w", err)
	}

	var parsed mergeResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		logger.Warn().Err(err).Msg("knowledge: merge LLM response was not valid JSON")
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
		combined := store.NewKnowledge(rm.Title, rm.Description, rm.Keywords, nil)
		if err := ag.knowledge.CreateMerged(ctx, combined, sourceIDs); err != nil {
			logger.Warn().Err(err).Msg("knowledge: failed to save merged item")
			continue
		}
		merged++
	}

	ag.incr(ctx, "knowledge_merged", int64(merged))
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
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("counter", counter).Msg("knowledge: failed to record pipeline stat")
	}
}
