package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRepositoryListCandidatesForSessionFilters(t *testing.T) {
	s := openTestStore(t)
	repo := NewEventRepository(s)
	ctx := context.Background()

	now := time.Now().UTC()
	short := NewEvent("short", "d", nil, []string{"a1", "a2"}, now, now.Add(30*time.Second))
	longEnough := NewEvent("long", "d", nil, []string{"a1", "a2", "a3"}, now, now.Add(10*time.Minute))
	tooFewActions := NewEvent("sparse", "d", nil, []string{"a1"}, now, now.Add(10*time.Minute))

	require.NoError(t, repo.Create(ctx, short))
	require.NoError(t, repo.Create(ctx, longEnough))
	require.NoError(t, repo.Create(ctx, tooFewActions))

	candidates, err := repo.ListCandidatesForSession(ctx, 2, 120)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, longEnough.ID, candidates[0].ID)
}

func TestEventRepositoryMarkAggregatedExcludesFromFutureCandidates(t *testing.T) {
	s := openTestStore(t)
	repo := NewEventRepository(s)
	ctx := context.Background()

	now := time.Now().UTC()
	e := NewEvent("e", "d", nil, []string{"a1", "a2"}, now, now.Add(10*time.Minute))
	require.NoError(t, repo.Create(ctx, e))

	require.NoError(t, repo.MarkAggregated(ctx, e.ID, "activity-1"))

	candidates, err := repo.ListCandidatesForSession(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
