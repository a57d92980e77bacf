// Package storetest checks the behavior shared by every download queue store.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuntu/eofetch/internal/downloads"
	"github.com/ubuntu/eofetch/internal/eodata"
)

// Run runs the store checks against stores returned by newStore. Each call must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) downloads.Store) {
	t.Helper()

	full := downloads.NewItem("aws", "/srv/products", []string{"S2A_MSIL1C_20220105T093321_N0301_R136_T34TFS_20220105T113427", "S2B_MSIL1C_20220107T092309_N0301_R093_T34TFS_20220107T113416"})
	full.LocalArchive = "file:///srv/archive"
	full.Tiles = []string{"34TFS", "34UFA"}
	full.Properties = map[string]string{"requester": "api", "fetchMode": "resume"}

	minimal := downloads.NewItem("scihub", "/tmp/out", []string{"id-1"})

	t.Run("Save then load returns the item", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, item := range []downloads.Item{full, minimal} {
			require.NoError(t, s.Save(ctx, item), "Save should not fail")
			got, err := s.Load(ctx, item.ID)
			require.NoError(t, err, "Load should not fail")
			assert.Equal(t, item, got, "Load should return the saved item")
		}
	})

	t.Run("Save replaces an existing item", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, full), "Save should not fail")
		updated := full
		updated.Tiles = []string{"34TFS"}
		require.NoError(t, s.Save(ctx, updated), "Save of an existing id should not fail")

		got, err := s.Load(ctx, full.ID)
		require.NoError(t, err, "Load should not fail")
		assert.Equal(t, updated, got, "Load should return the last saved version")

		items, err := s.Restore(ctx)
		require.NoError(t, err, "Restore should not fail")
		assert.Len(t, items, 1, "Saving twice should keep one item")
	})

	t.Run("Restore returns items not removed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		third := downloads.NewItem("peps", "/data", []string{"a", "b"})
		for _, item := range []downloads.Item{full, minimal, third} {
			require.NoError(t, s.Save(ctx, item), "Save should not fail")
		}
		require.NoError(t, s.Remove(ctx, minimal.ID), "Remove should not fail")

		items, err := s.Restore(ctx)
		require.NoError(t, err, "Restore should not fail")
		assert.ElementsMatch(t, []downloads.Item{full, third}, items, "Restore should return the remaining items")
		for _, item := range items {
			assert.Equal(t, downloads.ItemID(item.ProductIDs, item.ProviderID, item.Destination), item.ID, "Restored id should be derived from the item")
		}
	})

	t.Run("Load of unknown item is not found", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Load(context.Background(), minimal.ID)
		require.ErrorIs(t, err, eodata.ErrNotFound, "Load should fail with not found")
	})

	t.Run("Remove of unknown item succeeds", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Remove(context.Background(), minimal.ID), "Remove should not fail")
	})

	t.Run("Restore of empty store returns nothing", func(t *testing.T) {
		s := newStore(t)

		items, err := s.Restore(context.Background())
		require.NoError(t, err, "Restore should not fail")
		assert.Empty(t, items, "Restore should return no item")
	})
}
