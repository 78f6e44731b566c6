// Package supervisor implements the Supervisor (C9): a single generic,
// category-parameterized quality validator shared by the TODO, Knowledge,
// Diary, and Action agents. Grounded on
// original_source/backend/agents/supervisor.py's BaseSupervisor /
// TodoSupervisor / KnowledgeSupervisor / DiarySupervisor, collapsed into one
// Go type parameterized by Category instead of a subclass per category,
// since the three subclasses differ only in prompt text and which JSON key
// carries the revision.
package supervisor

import (
	"context"
	"encoding/json"

	"rewind/internal/llm"
	"rewind/internal/llm/jsonextract"
	"rewind/internal/observability"
)

// Category selects the validation prompt and the JSON key the LLM is asked
// to return revised content under (spec.md §4.8).
type Category string

const (
	CategoryTodo      Category = "todo"
	CategoryKnowledge Category = "knowledge"
	CategoryDiary     Category = "diary"
	CategoryAction    Category = "action"
)

var systemPrompts = map[Category]string{
	CategoryTodo: `You are a quality supervisor for extracted TODO items. Check that each item is a
concrete, actionable task (not vague, not routine browsing) and that title/description are
well-formed. Respond with a single JSON object:
{"is_valid": true, "issues": ["..."], "suggestions": ["..."], "revised_todos": [...]}
revised_todos must be the full list, in the original item shape, with any low-quality items dropped
or corrected. Return JSON only.`,
	CategoryKnowledge: `You are a quality supervisor for extracted knowledge items. Check that each item
describes genuinely reusable, non-ephemeral information and that title/description are well-formed.
Respond with a single JSON object:
{"is_valid": true, "issues": ["..."], "suggestions": ["..."], "revised_knowledge": [...]}
revised_knowledge must be the full list, in the original item shape, with any low-quality items dropped
or corrected. Return JSON only.`,
	CategoryDiary: `You are a quality supervisor for a generated diary entry. Check that the content is
coherent, readable prose summarizing the day's activities, not a bare list. Respond with a single JSON
object:
{"is_valid": true, "issues": ["..."], "suggestions": ["..."], "revised_content": "..."}
revised_content must be the full diary text. Return JSON only.`,
	CategoryAction: `You are a quality supervisor for extracted user actions. Check that each action
describes a real, distinct user action with a clear title/description. Respond with a single JSON
object:
{"is_valid": true, "issues": ["..."], "suggestions": ["..."], "revised_actions": [...]}
revised_actions must be the full list, in the original item shape, with any low-quality items dropped
or corrected. Return JSON only.`,
}

// revisedKey maps a Category to the JSON key its prompt asks the LLM to
// return revised content under (mirrors each Python subclass's
// result.get("revised_<category>", original) call).
var revisedKey = map[Category]string{
	CategoryTodo:      "revised_todos",
	CategoryKnowledge: "revised_knowledge",
	CategoryDiary:     "revised_content",
	CategoryAction:    "revised_actions",
}

// Result mirrors SupervisorResult.to_dict().
type Result struct {
	IsValid     bool            `json:"is_valid"`
	Issues      []string        `json:"issues"`
	Suggestions []string        `json:"suggestions"`
	Revised     json.RawMessage `json:"-"`
}

type rawResult struct {
	IsValid     bool              `json:"is_valid"`
	Issues      []string          `json:"issues"`
	Suggestions []string          `json:"suggestions"`
	Fields      map[string]json.RawMessage `json:"-"`
}

func (r *rawResult) UnmarshalJSON(data []byte) error {
	type alias rawResult
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = rawResult(a)
	return json.Unmarshal(data, &r.Fields)
}

// Validator is the shared C9 implementation. It never returns an error to
// callers: any LLM or parsing failure degrades to is_valid=true with the
// original content (spec.md §4.8, "must never block the pipeline").
type Validator struct {
	provider llm.Provider
	params   llm.Params
}

// NewValidator builds a C9 Validator.
func NewValidator(provider llm.Provider) *Validator {
	return &Validator{provider: provider, params: llm.Params{MaxTokens: 2048, Temperature: 0.1}}
}

// ValidateJSON runs validation over contentJSON (already JSON-encoded) and
// returns the parsed LLM result plus whether revision succeeded. On any
// failure it returns is_valid=true, a descriptive issue, and ok=false so the
// caller knows to keep using its original content.
func (v *Validator) ValidateJSON(ctx context.Context, category Category, contentJSON string) (Result, bool) {
	logger := observability.LoggerWithTrace(ctx)

	prompt, ok := systemPrompts[category]
	if !ok {
		logger.Warn().Str("category", string(category)).Msg("supervisor: unknown category, skipping validation")
		return fallback(), false
	}

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, prompt),
		llm.TextMessage(llm.RoleUser, contentJSON),
	}
	resp, err := v.provider.ChatCompletion(ctx, messages, v.params)
	if err != nil {
		logger.Warn().Err(err).Msg("supervisor: validation LLM call failed")
		return fallback(), false
	}

	var raw rawResult
	if err := jsonextract.Unmarshal(resp.Content, &raw); err != nil {
		logger.Warn().Err(err).Msg("supervisor: validation response was not valid JSON")
		return fallback(), false
	}

	key := revisedKey[category]
	revised, hasRevision := raw.Fields[key]
	result := Result{IsValid: raw.IsValid, Issues: raw.Issues, Suggestions: raw.Suggestions}
	if hasRevision {
		result.Revised = revised
	}
	if !result.IsValid {
		logger.Warn().Strs("issues", result.Issues).Msg("supervisor: validation found issues")
	}
	return result, hasRevision
}

func fallback() Result {
	return Result{IsValid: true, Issues: []string{"Supervisor validation unavailable"}}
}

// ValidateItems runs ValidateJSON over a typed slice and unmarshals the
// revised content back into the same shape, falling back to the original
// items on any failure (mirrors each subclass's "result.get('revised_X',
// original)" behavior). T must be JSON round-trippable.
func ValidateItems[T any](ctx context.Context, v *Validator, category Category, items []T) []T {
	if len(items) == 0 {
		return items
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return items
	}
	result, hasRevision := v.ValidateJSON(ctx, category, string(encoded))
	if !hasRevision {
		return items
	}
	var revised []T
	if err := json.Unmarshal(result.Revised, &revised); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("supervisor: failed to decode revised items, keeping originals")
		return items
	}
	return revised
}

// ValidateText runs ValidateJSON over a single text blob (the Diary shape)
// and returns the revised text, falling back to the original on failure.
func ValidateText(ctx context.Context, v *Validator, category Category, content string) string {
	encoded, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return content
	}
	result, hasRevision := v.ValidateJSON(ctx, category, string(encoded))
	if !hasRevision {
		return content
	}
	var revised string
	if err := json.Unmarshal(result.Revised, &revised); err != nil || revised == "" {
		return content
	}
	return revised
}

// ValidateDiaryText satisfies diary.Validator, letting the Coordinator wire
// a *Validator as the diary Generator's Supervisor without that package
// importing this one's Category type.
func (v *Validator) ValidateDiaryText(ctx context.Context, content string) string {
	return ValidateText(ctx, v, CategoryDiary, content)
}
