// Package activities implements the Session Agent (C6): aggregates events
// into coarse-grained activities, enforces the never-overlap invariant via
// a merge pass, and learns reusable merge/split patterns from user edits.
// Grounded on original_source/backend/agents/session_agent.py's
// SessionAgent (_cluster_events_to_sessions, _merge_overlapping_activities,
// _normalize_source_indexes, _analyze_merge_pattern, _analyze_split_pattern).
package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"rewind/internal/llm"
	"rewind/internal/llm/jsonextract"
	"rewind/internal/observability"
	"rewind/internal/store"
)

const pipelineStage = "activities"

const clusterSystemPrompt = `You are Rewind's session aggregation agent. You will be given a numbered
list of recent events, each with an index, title, description, start_time, and end_time. Cluster
events into activities using thematic relevance (core signal, same topic/project/problem domain),
time continuity (events within 30 minutes tend to belong together), goal association, and workflow
continuity. Respond with a single JSON object:
{"activities": [{"source": [1, 2], "title": "...", "description": "...", "topic_tags": ["..."]}]}
source must be a list of the 1-based indices you were given. Return JSON only.`

const mergePatternSystemPrompt = "You are an expert at analyzing user behavior patterns. Analyze why the user merged these activities and extract a reusable pattern description (max 100 words, one sentence)."
const splitPatternSystemPrompt = "You are an expert at analyzing user behavior patterns. Analyze why the user split this activity and extract a reusable pattern description (max 100 words, one sentence)."

// Default tunables (spec.md §4.6).
const (
	DefaultMinEventActions           = 2
	DefaultMinEventDurationSeconds   = 120
	defaultPreferenceConfidence      = 0.6
)

type eventView struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

type rawActivity struct {
	Source      []int    `json:"source"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TopicTags   []string `json:"topic_tags"`
}

type clusterResponse struct {
	Activities []rawActivity `json:"activities"`
}

// Agent implements C6.
type Agent struct {
	provider        llm.Provider
	events          store.EventRepository
	activities      store.ActivityRepository
	stats           store.PipelineStatsRepository
	params          llm.Params
	MinEventActions int
	MinEventDuration int
}

// NewAgent builds a C6 Agent.
func NewAgent(provider llm.Provider, events store.EventRepository, acts store.ActivityRepository, stats store.PipelineStatsRepository) *Agent {
	return &Agent{
		provider:         provider,
		events:           events,
		activities:       acts,
		stats:            stats,
		params:           llm.Params{MaxTokens: 2048, Temperature: 0.2},
		MinEventActions:  DefaultMinEventActions,
		MinEventDuration: DefaultMinEventDurationSeconds,
	}
}

// clusterInput is an in-memory projection of a candidate event, carrying
// its id alongside the fields the LLM sees.
type clusterInput struct {
	event store.Event
}

// Tick runs one aggregation pass (spec.md §4.6).
func (ag *Agent) Tick(ctx context.Context) error {
	logger := observability.LoggerWithTrace(ctx)

	candidates, err := ag.events.ListCandidatesForSession(ctx, ag.MinEventActions, ag.MinEventDuration)
	if err != nil {
		return fmt.Errorf("list session candidates: %w", err)
	}
	if len(candidates) == 0 {
		logger.Debug().Msg("activities: no candidate events, skipping tick")
		return nil
	}

	clustered, err := ag.cluster(ctx, candidates)
	if err != nil {
		return fmt.Errorf("cluster events to activities: %w", err)
	}
	if len(clustered) == 0 {
		return nil
	}

	merged := mergeOverlapping(clustered)

	created := 0
	eventsAggregated := 0
	for _, ma := range merged {
		activity := store.NewActivity(ma.title, ma.description, ma.sourceEventIDs, ma.topicTags, ma.start, ma.end)
		if err := ag.activities.Create(ctx, activity); err != nil {
			logger.Warn().Err(err).Msg("activities: failed to save activity")
			continue
		}
		for _, eventID := range ma.sourceEventIDs {
			if err := ag.events.MarkAggregated(ctx, eventID, activity.ID); err != nil {
				logger.Warn().Err(err).Str("event_id", eventID).Msg("activities: failed to mark event aggregated")
			}
		}
		created++
		eventsAggregated += len(ma.sourceEventIDs)
	}

	ag.incr(ctx, "activities_created", int64(created))
	ag.incr(ctx, "events_aggregated", int64(eventsAggregated))
	return nil
}

// mergedActivity is the in-memory shape the clustering + overlap-merge
// passes operate on before a store.Activity is constructed.
type mergedActivity struct {
	title          string
	description    string
	start, end     time.Time
	sourceEventIDs []string
	topicTags      []string
}

func (ag *Agent) cluster(ctx context.Context, candidates []store.Event) ([]mergedActivity, error) {
	views := make([]eventView, len(candidates))
	for i, e := range candidates {
		views[i] = eventView{
			Index:       i + 1,
			Title:       e.Title,
			Description: e.Description,
			StartTime:   e.StartTime.UTC().Format(time.RFC3339),
			EndTime:     e.EndTime.UTC().Format(time.RFC3339),
		}
	}
	encoded, err := json.Marshal(views)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, clusterSystemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}
	resp, err := ag.provider.ChatCompletion(ctx, messages, ag.params)
	if err != nil {
		return nil, fmt.Errorf("session clustering LLM call: %w", err)
	}

	var parsed clusterResponse
	if err := jsonextract.Unmarshal(resp.Content, &parsed); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("activities: LLM response was not valid JSON")
		return nil, nil
	}

	out := make([]mergedActivity, 0, len(parsed.Activities))
	for _, ra := range parsed.Activities {
		indices := normalizeSourceIndexes(ra.Source, len(candidates))
		if len(indices) == 0 {
			continue
		}

		var ids []string
		var start, end time.Time
		for _, idx := range indices {
			e := candidates[idx-1]
			ids = append(ids, e.ID)
			if start.IsZero() || e.StartTime.Before(start) {
				start = e.StartTime
			}
			if end.IsZero() || e.EndTime.After(end) {
				end = e.EndTime
			}
		}
		if start.IsZero() {
			start = time.Now().UTC()
		}
		if end.IsZero() {
			end = start
		}

		out = append(out, mergedActivity{
			title:          ra.Title,
			description:    ra.Description,
			start:          start,
			end:            end,
			sourceEventIDs: ids,
			topicTags:      ra.TopicTags,
		})
	}
	return out, nil
}

// normalizeSourceIndexes mirrors _normalize_source_indexes: keeps only
// 1-based indices within [1, total], deduplicated, order-preserving.
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

// mergeOverlapping sorts by start_time and walks left-to-right, merging any
// pair whose intervals intersect (spec.md §4.6 "Overlap-merge pass").
func mergeOverlapping(activities []mergedActivity) []mergedActivity {
	if len(activities) <= 1 {
		return activities
	}

	sorted := make([]mergedActivity, len(activities))
	copy(sorted, activities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start.Before(sorted[j].start) })

	var merged []mergedActivity
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.start.Before(current.end) {
			current = mergePair(current, next)
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)
	return merged
}

func mergePair(a, b mergedActivity) mergedActivity {
	if b.end.After(a.end) {
		a.end = b.end
	}
	a.sourceEventIDs = unionStrings(a.sourceEventIDs, b.sourceEventIDs)
	a.topicTags = unionStrings(a.topicTags, b.topicTags)
	if b.title != "" && b.title != a.title {
		if a.title == "" {
			a.title = b.title
		} else {
			a.title = a.title + "; " + b.title
		}
	}
	if b.description != "" && b.description != a.description {
		if a.description == "" {
			a.description = b.description
		} else {
			a.description = a.description + "\n\n" + b.description
		}
	}
	return a
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (ag *Agent) incr(ctx context.Context, counter string, delta int64) {
	if ag.stats == nil || delta == 0 {
		return
	}
	if err := ag.stats.Increment(ctx, pipelineStage, counter, delta); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("counter", counter).Msg("activities: failed to record pipeline stat")
	}
}

// RecordUserMerge learns a reusable pattern from a user-initiated activity
// merge (spec.md §4.6 "Learning from user edits") and stores it with the
// initial confidence the original assigns new patterns.
func (ag *Agent) RecordUserMerge(ctx context.Context, originalActivities []store.Activity) error {
	pattern, err := ag.analyzePattern(ctx, mergePatternSystemPrompt, originalActivities)
	if err != nil || pattern == "" {
		return err
	}
	return ag.activities.RecordPreference(ctx, store.SessionPreference{
		Pattern:    pattern,
		Kind:       "merge",
		Confidence: defaultPreferenceConfidence,
	})
}

// RecordUserSplit mirrors RecordUserMerge for a user-initiated split.
func (ag *Agent) RecordUserSplit(ctx context.Context, originalActivity store.Activity) error {
	pattern, err := ag.analyzePattern(ctx, splitPatternSystemPrompt, []store.Activity{originalActivity})
	if err != nil || pattern == "" {
		return err
	}
	return ag.activities.RecordPreference(ctx, store.SessionPreference{
		Pattern:    pattern,
		Kind:       "split",
		Confidence: defaultPreferenceConfidence,
	})
}

func (ag *Agent) analyzePattern(ctx context.Context, systemPrompt string, activitiesInvolved []store.Activity) (string, error) {
	encoded, err := json.Marshal(activitiesInvolved)
	if err != nil {
		return "", fmt.Errorf("encode activities: %w", err)
	}
	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, systemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}
	resp, err := ag.provider.ChatCompletion(ctx, messages, llm.Params{MaxTokens: 256, Temperature: 0.3})
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("activities: failed to analyze edit pattern")
		return "", nil
	}
	return resp.Content, nil
}

// RecentPreferences surfaces learned patterns for a future clustering call
// to pass as extra context (spec.md §4.6, "bounded by recency/confidence").
func (ag *Agent) RecentPreferences(ctx context.Context, kind string, limit int) ([]store.SessionPreference, error) {
	return ag.activities.RecentPreferences(ctx, kind, limit)
}
