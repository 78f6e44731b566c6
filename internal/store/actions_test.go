package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRepositoryCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	repo := NewActionRepository(s)
	ctx := context.Background()

	a := NewAction("Wrote a commit message", "typed in terminal", []string{"git", "commit"}, nil, time.Now().UTC(), true)
	require.NoError(t, repo.Create(ctx, a))

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title)
	assert.Equal(t, []string(a.Keywords), []string(got.Keywords))
	assert.True(t, got.ExtractKnowledge)
	assert.False(t, got.KnowledgeExtracted)
	assert.Nil(t, got.DeletedAt)
}

func TestActionRepositoryDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	repo := NewActionRepository(s)
	ctx := context.Background()

	a := NewAction("t", "d", nil, nil, time.Now().UTC(), false)
	require.NoError(t, repo.Create(ctx, a))

	require.NoError(t, repo.Delete(ctx, a.ID))
	require.NoError(t, repo.Delete(ctx, a.ID)) // second delete is a no-op, not an error

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
}

func TestActionRepositoryListUnaggregatedExcludesReferencedActions(t *testing.T) {
	s := openTestStore(t)
	actions := NewActionRepository(s)
	events := NewEventRepository(s)
	ctx := context.Background()

	now := time.Now().UTC()
	a1 := NewAction("a1", "d", nil, nil, now, false)
	a2 := NewAction("a2", "d", nil, nil, now.Add(time.Minute), false)
	require.NoError(t, actions.Create(ctx, a1))
	require.NoError(t, actions.Create(ctx, a2))

	e := NewEvent("merged event", "d", nil, []string{a1.ID}, now, now.Add(time.Minute))
	require.NoError(t, events.Create(ctx, e))

	unagg, err := actions.ListUnaggregated(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, unagg, 1)
	assert.Equal(t, a2.ID, unagg[0].ID)
}

func TestActionRepositoryListForKnowledgeCatchup(t *testing.T) {
	s := openTestStore(t)
	repo := NewActionRepository(s)
	ctx := context.Background()

	now := time.Now().UTC()
	extracted := NewAction("already extracted", "d", nil, nil, now, true)
	extracted.KnowledgeExtracted = true
	pending := NewAction("pending", "d", nil, nil, now, true)
	notWanted := NewAction("no extraction requested", "d", nil, nil, now, false)

	require.NoError(t, repo.Create(ctx, extracted))
	require.NoError(t, repo.Create(ctx, pending))
	require.NoError(t, repo.Create(ctx, notWanted))

	catchup, err := repo.ListForKnowledgeCatchup(ctx, 10)
	require.NoError(t, err)
	require.Len(t, catchup, 1)
	assert.Equal(t, pending.ID, catchup[0].ID)
}
