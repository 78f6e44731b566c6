package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationRepositoryAppendMessageAndIsolation(t *testing.T) {
	s := openTestStore(t)
	repo := NewConversationRepository(s)
	ctx := context.Background()

	c1 := NewConversation()
	c2 := NewConversation()
	require.NoError(t, repo.Create(ctx, c1))
	require.NoError(t, repo.Create(ctx, c2))

	require.NoError(t, repo.AppendMessage(ctx, NewMessage(c1.ID, "user", "hello")))
	require.NoError(t, repo.AppendMessage(ctx, NewMessage(c1.ID, "assistant", "hi there")))
	require.NoError(t, repo.AppendMessage(ctx, NewMessage(c2.ID, "user", "unrelated")))

	msgs1, err := repo.ListMessages(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, msgs1, 2)
	assert.Equal(t, "hello", msgs1[0].Content)

	msgs2, err := repo.ListMessages(ctx, c2.ID)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
}

func TestConversationRepositoryDeleteCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	repo := NewConversationRepository(s)
	ctx := context.Background()

	c := NewConversation()
	require.NoError(t, repo.Create(ctx, c))
	require.NoError(t, repo.AppendMessage(ctx, NewMessage(c.ID, "user", "hello")))

	require.NoError(t, repo.Delete(ctx, c.ID))

	msgs, err := repo.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestConversationRepositorySetTitle(t *testing.T) {
	s := openTestStore(t)
	repo := NewConversationRepository(s)
	ctx := context.Background()

	c := NewConversation()
	require.NoError(t, repo.Create(ctx, c))
	assert.True(t, c.TitleIsPlaceholder)

	require.NoError(t, repo.SetTitle(ctx, c.ID, "Passport renewal discussion", false))

	got, err := repo.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Passport renewal discussion", got.Title)
	assert.False(t, got.TitleIsPlaceholder)
}
