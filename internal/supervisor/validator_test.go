package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/llm"
)

type fakeProvider struct {
	response llm.Response
	err      error
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Response, error) {
	return f.response, f.err
}
func (f *fakeProvider) ChatCompletionStream(ctx context.Context, messages []llm.Message, params llm.Params, handler llm.StreamHandler) error {
	return nil
}

type todoItem struct {
	Title string `json:"title"`
}

func TestValidateItemsReturnsRevisedListWhenProvided(t *testing.T) {
	provider := &fakeProvider{response: llm.Response{Content: `{"is_valid": false, "issues": ["vague title"],
		"suggestions": ["be specific"], "revised_todos": [{"title": "File Q3 expense report"}]}`}}
	v := NewValidator(provider)

	items := ValidateItems(context.Background(), v, CategoryTodo, []todoItem{{Title: "do stuff"}})
	require.Len(t, items, 1)
	assert.Equal(t, "File Q3 expense report", items[0].Title)
}

func TestValidateItemsFallsBackToOriginalOnLLMError(t *testing.T) {
	provider := &fakeProvider{err: assertError("boom")}
	v := NewValidator(provider)

	original := []todoItem{{Title: "do stuff"}}
	items := ValidateItems(context.Background(), v, CategoryTodo, original)
	assert.Equal(t, original, items)
}

func TestValidateItemsFallsBackToOriginalOnMalformedJSON(t *testing.T) {
	provider := &fakeProvider{response: llm.Response{Content: "not json at all"}}
	v := NewValidator(provider)

	original := []todoItem{{Title: "do stuff"}}
	items := ValidateItems(context.Background(), v, CategoryTodo, original)
	assert.Equal(t, original, items)
}

func TestValidateItemsFallsBackWhenRevisionKeyAbsent(t *testing.T) {
	provider := &fakeProvider{response: llm.Response{Content: `{"is_valid": true, "issues": [], "suggestions": []}`}}
	v := NewValidator(provider)

	original := []todoItem{{Title: "do stuff"}}
	items := ValidateItems(context.Background(), v, CategoryTodo, original)
	assert.Equal(t, original, items)
}

func TestValidateItemsReturnsEmptyForEmptyInput(t *testing.T) {
	v := NewValidator(&fakeProvider{})
	items := ValidateItems(context.Background(), v, CategoryTodo, []todoItem{})
	assert.Empty(t, items)
}

func TestValidateTextReturnsRevisedDiaryContent(t *testing.T) {
	provider := &fakeProvider{response: llm.Response{Content: `{"is_valid": true, "issues": [], "suggestions": [],
		"revised_content": "A well-written summary of the day."}`}}
	v := NewValidator(provider)

	revised := ValidateText(context.Background(), v, CategoryDiary, "bad draft")
	assert.Equal(t, "A well-written summary of the day.", revised)
}

func TestValidateTextFallsBackOnFailure(t *testing.T) {
	provider := &fakeProvider{err: assertError("boom")}
	v := NewValidator(provider)

	revised := ValidateText(context.Background(), v, CategoryDiary, "original draft")
	assert.Equal(t, "original draft", revised)
}

type assertError string

func (e assertError) Error() string { return string(e) }
