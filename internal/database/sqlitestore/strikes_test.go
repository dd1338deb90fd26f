package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"strikekeeper/internal/database/storetest"
	"strikekeeper/internal/strikes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStrikeStore(t *testing.T, clock *storetest.Clock) *StrikeStore {
	dbPath := filepath.Join(t.TempDir(), "strikes.sqlite")

	store, err := Open(Options{Path: dbPath, Now: clock.Now})
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestStrikeStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) strikes.Store {
		return setupTestStrikeStore(t, clock)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "strikes.sqlite")

	storetest.RunReopen(t, dbPath, func(t *testing.T, path string, clock *storetest.Clock) strikes.Store {
		store, err := Open(Options{Path: path, Now: clock.Now})
		require.NoError(t, err)
		return store
	})
}

func TestMalformedAnchorReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStrikeStore(t, storetest.NewClock(time.Now()))

	_, err := store.db.ExecContext(ctx, `INSERT INTO bot_state (key, value) VALUES (?, ?)`, anchorKey, ":")
	require.NoError(t, err)

	anchor, err := store.GetSummaryAnchor(ctx)
	require.NoError(t, err)
	assert.Nil(t, anchor)
}
