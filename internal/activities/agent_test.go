package activities

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/llm"
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

type fakeEventRepo struct {
	candidates []store.Event
	aggregated map[string]string
}

func (r *fakeEventRepo) Create(ctx context.Context, e store.Event) error { return nil }
func (r *fakeEventRepo) ListCandidatesForSession(ctx context.Context, minActions, minDurationSeconds int) ([]store.Event, error) {
	return r.candidates, nil
}
func (r *fakeEventRepo) MarkAggregated(ctx context.Context, id, activityID string) error {
	if r.aggregated == nil {
		r.aggregated = make(map[string]string)
	}
	r.aggregated[id] = activityID
	return nil
}
func (r *fakeEventRepo) Delete(ctx context.Context, id string) error { return nil }

type fakeActivityRepo struct {
	created      []store.Activity
	preferences  []store.SessionPreference
}

func (r *fakeActivityRepo) Create(ctx context.Context, a store.Activity) error {
	r.created = append(r.created, a)
	return nil
}
func (r *fakeActivityRepo) Get(ctx context.Context, id string) (store.Activity, error) {
	return store.Activity{}, nil
}
func (r *fakeActivityRepo) ListOverlapping(ctx context.Context, start, end time.Time) ([]store.Activity, error) {
	return nil, nil
}
func (r *fakeActivityRepo) ListAll(ctx context.Context) ([]store.Activity, error) { return nil, nil }
func (r *fakeActivityRepo) Update(ctx context.Context, a store.Activity) error    { return nil }
func (r *fakeActivityRepo) Delete(ctx context.Context, id string) error           { return nil }
func (r *fakeActivityRepo) RecordPreference(ctx context.Context, p store.SessionPreference) error {
	r.preferences = append(r.preferences, p)
	return nil
}
func (r *fakeActivityRepo) RecentPreferences(ctx context.Context, kind string, limit int) ([]store.SessionPreference, error) {
	return r.preferences, nil
}

func evt(id string, start, end time.Time) store.Event {
	return store.Event{ID: id, Title: "event " + id, StartTime: start, EndTime: end}
}

func TestTickClustersAndPersistsActivity(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	events := &fakeEventRepo{candidates: []store.Event{
		evt("e1", base, base.Add(10*time.Minute)),
		evt("e2", base.Add(10*time.Minute), base.Add(20*time.Minute)),
	}}
	acts := &fakeActivityRepo{}
	provider := &fakeProvider{response: llm.Response{Content: `{"activities": [
		{"source": [1, 2], "title": "Deep work", "description": "d", "topic_tags": ["coding"]}
	]}`}}

	ag := NewAgent(provider, events, acts, nil)
	require.NoError(t, ag.Tick(context.Background()))

	require.Len(t, acts.created, 1)
	assert.Equal(t, "Deep work", acts.created[0].Title)
	assert.Equal(t, base, acts.created[0].StartTime)
	assert.Equal(t, base.Add(20*time.Minute), acts.created[0].EndTime)
	assert.Len(t, events.aggregated, 2)
}

func TestTickSkipsEmptyClusterFromInvalidIndices(t *testing.T) {
	events := &fakeEventRepo{candidates: []store.Event{evt("e1", time.Now(), time.Now())}}
	acts := &fakeActivityRepo{}
	provider := &fakeProvider{response: llm.Response{Content: `{"activities": [
		{"source": [99], "title": "ghost"}
	]}`}}

	ag := NewAgent(provider, events, acts, nil)
	require.NoError(t, ag.Tick(context.Background()))
	assert.Empty(t, acts.created)
}

func TestMergeOverlappingMergesIntersectingActivities(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	input := []mergedActivity{
		{title: "A", description: "a-desc", start: base, end: base.Add(30 * time.Minute), sourceEventIDs: []string{"e1"}, topicTags: []string{"x"}},
		{title: "B", description: "b-desc", start: base.Add(15 * time.Minute), end: base.Add(45 * time.Minute), sourceEventIDs: []string{"e2"}, topicTags: []string{"y"}},
	}

	merged := mergeOverlapping(input)
	require.Len(t, merged, 1)
	assert.Equal(t, "A; B", merged[0].title)
	assert.Equal(t, "a-desc\n\nb-desc", merged[0].description)
	assert.Equal(t, base.Add(45*time.Minute), merged[0].end)
	assert.ElementsMatch(t, []string{"e1", "e2"}, merged[0].sourceEventIDs)
	assert.ElementsMatch(t, []string{"x", "y"}, merged[0].topicTags)
}

func TestMergeOverlappingLeavesNonOverlappingApart(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	input := []mergedActivity{
		{title: "A", start: base, end: base.Add(10 * time.Minute)},
		{title: "B", start: base.Add(time.Hour), end: base.Add(90 * time.Minute)},
	}
	merged := mergeOverlapping(input)
	assert.Len(t, merged, 2)
}

func TestRecordUserMergeStoresLearnedPattern(t *testing.T) {
	events := &fakeEventRepo{}
	acts := &fakeActivityRepo{}
	provider := &fakeProvider{response: llm.Response{Content: "User tends to merge consecutive code-review activities."}}

	ag := NewAgent(provider, events, acts, nil)
	err := ag.RecordUserMerge(context.Background(), []store.Activity{{ID: "a1"}, {ID: "a2"}})
	require.NoError(t, err)
	require.Len(t, acts.preferences, 1)
	assert.Equal(t, "merge", acts.preferences[0].Kind)
	assert.Equal(t, 0.6, acts.preferences[0].Confidence)
}

func TestNormalizeSourceIndexesDedupesAndDropsOutOfRange(t *testing.T) {
	assert.Equal(t, []int{1, 2}, normalizeSourceIndexes([]int{1, 2, 2, 99, 0}, 2))
}
