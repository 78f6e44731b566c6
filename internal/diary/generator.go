// Package diary implements diary generation behind the `generate_diary(date)`
// command (spec.md §6.4): an LLM summarizes a calendar date's activities
// into prose, runs it through the Supervisor (C9) "diary" category, and
// upserts the result. The original source's generation logic was not
// present in the retrieved corpus (only its DB schema, in
// original_source/backend/core/db/diaries.py, and the DiarySupervisor
// contract in original_source/backend/agents/supervisor.py), so the prompt
// and aggregation shape were authored directly from spec.md §3/§4.8/§6.4.
package diary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rewind/internal/llm"
	"rewind/internal/observability"
	"rewind/internal/store"
)

const systemPrompt = `You are Rewind's diary generation agent. You will be given a JSON array of the
user's activities for one calendar date, each with a title, description, start_time, end_time, and
topic_tags. Write a short, coherent first-person diary entry in prose summarizing what the user
accomplished that day. Do not produce a bare list; write connected sentences. Respond with plain text,
no JSON, no markdown headers.`

type activityView struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	TopicTags   []string `json:"topic_tags"`
}

// Validator is the subset of supervisor.Validator's text-validation
// capability the Generator depends on, letting tests substitute a fake
// without importing the supervisor package's LLM plumbing.
type Validator interface {
	ValidateDiaryText(ctx context.Context, content string) string
}

// Generator implements the `generate_diary` command.
type Generator struct {
	provider   llm.Provider
	activities store.ActivityRepository
	diaries    store.DiaryRepository
	params     llm.Params
	Supervisor Validator
}

// NewGenerator builds a diary Generator.
func NewGenerator(provider llm.Provider, activities store.ActivityRepository, diaries store.DiaryRepository) *Generator {
	return &Generator{
		provider:   provider,
		activities: activities,
		diaries:    diaries,
		params:     llm.Params{MaxTokens: 1024, Temperature: 0.5},
	}
}

// Generate builds (or regenerates) the diary for date (YYYY-MM-DD),
// summarizing every activity whose interval overlaps that calendar day.
func (g *Generator) Generate(ctx context.Context, date string) (store.Diary, error) {
	logger := observability.LoggerWithTrace(ctx)

	start, end, err := dayBounds(date)
	if err != nil {
		return store.Diary{}, fmt.Errorf("parse date: %w", err)
	}

	activities, err := g.activities.ListOverlapping(ctx, start, end)
	if err != nil {
		return store.Diary{}, fmt.Errorf("list activities for date: %w", err)
	}
	if len(activities) == 0 {
		return store.Diary{}, fmt.Errorf("no activities found for %s", date)
	}

	content, err := g.summarize(ctx, activities)
	if err != nil {
		return store.Diary{}, fmt.Errorf("summarize activities: %w", err)
	}

	if g.Supervisor != nil {
		content = g.Supervisor.ValidateDiaryText(ctx, content)
	}

	sourceIDs := make([]string, len(activities))
	for i, a := range activities {
		sourceIDs[i] = a.ID
	}

	d := store.NewDiary(date, sourceIDs, content)
	if err := g.diaries.Upsert(ctx, d); err != nil {
		logger.Warn().Err(err).Str("date", date).Msg("diary: failed to save entry")
		return store.Diary{}, fmt.Errorf("save diary: %w", err)
	}
	return d, nil
}

func (g *Generator) summarize(ctx context.Context, activities []store.Activity) (string, error) {
	views := make([]activityView, len(activities))
	for i, a := range activities {
		views[i] = activityView{
			Title:       a.Title,
			Description: a.Description,
			StartTime:   a.StartTime.UTC().Format(time.RFC3339),
			EndTime:     a.EndTime.UTC().Format(time.RFC3339),
			TopicTags:   a.TopicTags,
		}
	}
	encoded, err := json.Marshal(views)
	if err != nil {
		return "", fmt.Errorf("encode activities: %w", err)
	}

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, systemPrompt),
		llm.TextMessage(llm.RoleUser, string(encoded)),
	}
	resp, err := g.provider.ChatCompletion(ctx, messages, g.params)
	if err != nil {
		return "", fmt.Errorf("diary generation LLM call: %w", err)
	}
	return resp.Content, nil
}

// dayBounds converts a YYYY-MM-DD date into the [start, end) UTC interval
// covering that calendar day.
func dayBounds(date string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(24 * time.Hour), nil
}
