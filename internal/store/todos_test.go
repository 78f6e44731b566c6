package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTodoRepositoryMergedPrecedenceAndCompletion(t *testing.T) {
	s := openTestStore(t)
	repo := NewTodoRepository(s)
	ctx := context.Background()

	date := "2026-08-01"
	t1 := NewTodo("Renew passport", "d1", &date, nil, nil)
	t2 := NewTodo("Renew passport before trip", "d2", &date, nil, nil)
	require.NoError(t, repo.Create(ctx, t1))
	require.NoError(t, repo.Create(ctx, t2))

	merged := NewTodo("Renew passport", "combined", &date, nil, nil)
	require.NoError(t, repo.CreateMerged(ctx, merged, []string{t1.ID, t2.ID}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, merged.ID, list[0].ID)

	require.NoError(t, repo.SetCompleted(ctx, merged.ID, true))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Completed)
}

func TestTodoRepositoryDeleteIdempotent(t *testing.T) {
	s := openTestStore(t)
	repo := NewTodoRepository(s)
	ctx := context.Background()

	td := NewTodo("t", "d", nil, nil, nil)
	require.NoError(t, repo.Create(ctx, td))
	require.NoError(t, repo.Delete(ctx, td.ID))
	require.NoError(t, repo.Delete(ctx, td.ID))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
