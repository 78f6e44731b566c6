package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeRepositoryMergedPrecedence(t *testing.T) {
	s := openTestStore(t)
	repo := NewKnowledgeRepository(s)
	ctx := context.Background()

	k1 := NewKnowledge("Uses vim", "d1", []string{"editor"}, nil)
	k2 := NewKnowledge("Prefers vim over emacs", "d2", []string{"editor"}, nil)
	k3 := NewKnowledge("Unrelated fact", "d3", nil, nil)
	require.NoError(t, repo.Create(ctx, k1))
	require.NoError(t, repo.Create(ctx, k2))
	require.NoError(t, repo.Create(ctx, k3))

	merged := NewKnowledge("Strongly prefers vim", "combined", []string{"editor"}, nil)
	require.NoError(t, repo.CreateMerged(ctx, merged, []string{k1.ID, k2.ID}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2) // merged item + k3, never k1/k2 individually

	var sawMerged, sawK3 bool
	for _, k := range list {
		switch k.ID {
		case merged.ID:
			sawMerged = true
			assert.ElementsMatch(t, []string{k1.ID, k2.ID}, []string(k.MergedFromIDs))
		case k3.ID:
			sawK3 = true
		}
	}
	assert.True(t, sawMerged)
	assert.True(t, sawK3)
}

func TestKnowledgeRepositoryListUnmergedExcludesMergedSources(t *testing.T) {
	s := openTestStore(t)
	repo := NewKnowledgeRepository(s)
	ctx := context.Background()

	k1 := NewKnowledge("a", "d", nil, nil)
	k2 := NewKnowledge("b", "d", nil, nil)
	require.NoError(t, repo.Create(ctx, k1))
	require.NoError(t, repo.Create(ctx, k2))

	merged := NewKnowledge("ab", "d", nil, nil)
	require.NoError(t, repo.CreateMerged(ctx, merged, []string{k1.ID}))

	unmerged, err := repo.ListUnmerged(ctx)
	require.NoError(t, err)
	require.Len(t, unmerged, 1)
	assert.Equal(t, k2.ID, unmerged[0].ID)
}
