package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/downloads/store/sqlite"
	"github.com/ubuntu/eofetch/internal/downloads/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) downloads.Store {
		t.Helper()
		s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
		require.NoError(t, err, "Setup: New should not fail")
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRestoreAfterReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := sqlite.New(ctx, path)
	require.NoError(t, err, "Setup: New should not fail")
	item := downloads.NewItem("aws", "/srv", []string{"p1", "p2"})
	require.NoError(t, s.Save(ctx, item), "Save should not fail")
	require.NoError(t, s.Close(), "Close should not fail")

	s, err = sqlite.New(ctx, path)
	require.NoError(t, err, "New should reopen an existing database")
	defer s.Close()

	items, err := s.Restore(ctx)
	require.NoError(t, err, "Restore should not fail")
	assert.Equal(t, []downloads.Item{item}, items, "Restore should return the item saved before the restart")
}

func TestNewFailsOnInvalidPath(t *testing.T) {
	t.Parallel()

	_, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "missing", "queue.db"))
	require.Error(t, err, "New should fail when the parent directory does not exist")
}
