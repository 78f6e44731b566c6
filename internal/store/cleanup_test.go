package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupHardDeletesOldSoftDeletedRows(t *testing.T) {
	s := openTestStore(t)
	actions := NewActionRepository(s)
	thumbnails := NewThumbnailRepository(s)
	ctx := context.Background()

	a := NewAction("stale", "d", nil, nil, time.Now().UTC(), false)
	require.NoError(t, actions.Create(ctx, a))
	require.NoError(t, actions.Delete(ctx, a.ID))

	// Backdate updated_at past the retention window directly, since
	// Delete() always stamps "now".
	old := time.Now().UTC().AddDate(0, 0, -31)
	_, err := s.DB().ExecContext(ctx, `UPDATE actions SET updated_at = ? WHERE id = ?`, isoTime(old), a.ID)
	require.NoError(t, err)

	result, err := Cleanup(ctx, s, thumbnails, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.HardDeletedByTable["actions"])

	_, err = actions.Get(ctx, a.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCleanupGarbageCollectsOrphanedThumbnails(t *testing.T) {
	s := openTestStore(t)
	thumbnails := NewThumbnailRepository(s)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "orphan.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))

	require.NoError(t, thumbnails.Put(ctx, Thumbnail{Hash: "abc123", Path: path, Width: 600, Height: 400, Bytes: 10}))

	result, err := Cleanup(ctx, s, thumbnails, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.OrphanedThumbnails)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = thumbnails.Get(ctx, "abc123")
	assert.ErrorIs(t, err, ErrThumbnailNotFound)
}
