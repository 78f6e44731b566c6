package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestStore opens a fresh, migrated SQLite store backed by a temp file.
// ":memory:" is avoided because the single-writer pool + WAL mode pairing
// behaves oddly with SQLite's private in-memory databases across
// connections; a temp file exercises the real code path.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir+"/rewind_test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
