package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMModelRepositorySetActiveEnforcesSingleton(t *testing.T) {
	s := openTestStore(t)
	repo := NewLLMModelRepository(s)
	ctx := context.Background()

	m1 := NewLLMModelConfig("local-gguf", "openaicompat", "http://localhost:8080/v1", "llava", "")
	m2 := NewLLMModelConfig("cloud-vision", "openaicompat", "https://api.example.com/v1", "gpt-vision", "sk-test")
	require.NoError(t, repo.Create(ctx, m1))
	require.NoError(t, repo.Create(ctx, m2))

	require.NoError(t, repo.SetActive(ctx, m1.ID))
	active, err := repo.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, active.ID)

	require.NoError(t, repo.SetActive(ctx, m2.ID))
	active, err = repo.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, active.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, m := range all {
		if m.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestLLMModelRepositoryActiveNotFound(t *testing.T) {
	s := openTestStore(t)
	repo := NewLLMModelRepository(s)
	ctx := context.Background()

	_, err := repo.Active(ctx)
	assert.True(t, errors.Is(err, ErrModelNotFound))
}

func TestLLMModelRepositoryRecordTestResult(t *testing.T) {
	s := openTestStore(t)
	repo := NewLLMModelRepository(s)
	ctx := context.Background()

	m := NewLLMModelConfig("local", "openaicompat", "http://localhost:8080/v1", "llava", "")
	require.NoError(t, repo.Create(ctx, m))

	errMsg := "connection refused"
	require.NoError(t, repo.RecordTestResult(ctx, m.ID, "failed", &errMsg))

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastTestStatus)
	assert.Equal(t, "failed", *got.LastTestStatus)
	require.NotNil(t, got.LastTestError)
	assert.Equal(t, errMsg, *got.LastTestError)
}
