// Package events implements the Event Agent (C5): a periodic, text-only
// LLM clustering pass that aggregates unaggregated actions into events.
// Grounded on original_source/backend/agents/event_agent.py's EventAgent
// (_get_unaggregated_actions, _aggregate_actions_to_events), adapted from
// its asyncio timer loop to the cron-driven tick Coordinator invokes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rewind/internal/llm"
	"rewind/internal/llm/jsonextract"
	"rewind/internal/observability"
	"rewind/internal/store"
)

const pipelineStage = "events"

const systemPrompt = `You are Rewind's event aggregation agent. You will be given a numbered list of
recent user actions, each with an id, title, description, keywords, and timestamp. Group actions into
events using three signals: semantic similarity (same work segment, most important), time continuity
(actions close together in time), and task consistency (actions forming one coherent goal). Respond
with a single JSON object:
{"events": [{"title": "...", "description": "...", "start_time": "RFC3339", "end_time": "RFC3339",
"source_action_ids": ["..."]}]}
source_action_ids must reference only the action ids you were given. Every action need not appear in
an event; actions with no clear grouping can be left out entirely. Return JSON only.`

type actionView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Timestamp   string   `json:"timestamp"`
}

type rawEvent struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	SourceActionIDs []string `json:"source_action_ids"`
}

type eventResponse struct {
	Events []rawEvent `json:"events"`
}

// DefaultTimeWindow is the spec.md §4.5 default lookback window.
const DefaultTimeWindow = time.Hour

// minCandidateActions is the "fewer than 2 candidates exist, skip" rule
// (spec.md §4.5 step 2).
const minCandidateActions = 2

// Agent implements C5.
type Agent struct {
	provider   llm.Provider
	actions    store.ActionRepository
	events     store.EventRepository
	stats      store.PipelineStatsRepository
	params     llm.Params
	TimeWindow time.Duration
}

// NewAgent builds a C5 Agent.
func NewAgent(provider llm.Provider, actions store.ActionRepository, evs store.EventRepository, stats store.PipelineStatsRepository) *Agent {
	return &Agent{
		provider:   provider,
		actions:    actions,
		events:     evs,
		stats:      stats,
		params:     llm.Params{MaxTokens: 2048, Temperature: 0.2},
		TimeWindow: DefaultTimeWindow,
	}
}

// Tick runs one aggregation pass (spec.md §4.5).
func (ag *Agent) Tick(ctx context.Context) error {
	logger := observability.LoggerWithTrace(ctx)

	since := time.Now().UTC().Add(-ag.TimeWindow)
	candidates, err := ag.actions.ListUnaggregated(ctx, since)
	if err != nil {
		return fmt.Errorf("list unaggregated actions: %w", err)
	}
	if len(candidates) < minCandidateActions {
		logger.Debug().Int("candidates", len(candidates)).Msg("events: too few candidate actions, skipping tick")
		return nil
	}

	byID := make(map[string]store.Action, len(candidates))
	views := make([]actionView, 0, len(candidates))
	for _, a := range candidates {
		byID[a.ID] = a
		views = append(views, actionView{
			ID:          a.ID,
			Title:       a.Title,
			Description: a.Description,
			Keywords:    a.Keywords,
			Timestamp:   a.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	raw, err := ag.aggregate(ctx, views)
	if err != nil {
		return fmt.Errorf("aggregate actions to events: %w", err)
	}

	created := 0
	actionsAggregated := 0
	for _, re := range raw {
		ids := dedupeReferenced(re.SourceActionIDs, byID)
		if len(ids) == 0 {
			logger.Warn().Str("title", re.Title).Msg("events: event has no valid source actions, skipping")
			continue
		}
		start := parseOrFallback(re.StartTime, earliestTimestamp(ids, byID))
		end := parseOrFallback(re.EndTime, start)

		event := store.NewEvent(re.Title, re.Description, nil, ids, start, end)
		if err := ag.events.Create(ctx, event); err != nil {
			logger.Warn().Err(err).Msg("events: failed to save event")
			continue
		}
		created++
		actionsAggregated += len(ids)
	}

	ag.incr(ctx, "events_created", int64(created))
	ag.incr(ctx, "actions_aggregated", int64(actionsAggregated))
	return nil
}

func (ag *Agent) aggregate(ctx context.Context, views []actionView) ([]rawEvent, error) {
	encoded, err := json.Marshal(views)
	if err != nil {
		return nil, fmt.Errorf("encode actions: %w", err)
	}
	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, systemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}

	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return nil, fmt.Errorf("event aggregation LLM call: %w", err)
	}

	var parsed eventResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("events: LLM response was not valid JSON")
		return nil, nil
	}
	return parsed.Events, nil
}

func (ag *Agent) incr(ctx context.Context, counter string, delta int64) {
	if ag.stats == nil || delta == 0 {
		return
	}
	if err := ag.stats.Increment(ctx, pipelineStage, counter, delta); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("counter", counter).Msg("events: failed to record pipeline stat")
	}
}

// dedupeReferenced keeps only ids that reference a real candidate action,
// in order, without duplicates (spec.md §4.5 step 4: "validate that
// source_action_ids is non-empty and references real, undeleted actions").
func dedupeReferenced(ids []string, byID map[string]store.Action) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func earliestTimestamp(ids []string, byID map[string]store.Action) time.Time {
	earliest := byID[ids[0]].Timestamp
	for _, id := range ids[1:] {
		if t := byID[id].Timestamp; t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

func parseOrFallback(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fallback
	}
	return t
}
