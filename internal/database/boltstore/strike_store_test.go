package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"strikekeeper/internal/database/storetest"
	"strikekeeper/internal/strikes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func setupTestStrikeStore(t *testing.T, clock *storetest.Clock) *StrikeStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(Options{Path: dbPath, Now: clock.Now})
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store.StrikeStore()
}

func TestStrikeStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) strikes.Store {
		return setupTestStrikeStore(t, clock)
	})
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "strikes.db")

	storetest.RunReopen(t, dbPath, func(t *testing.T, path string, clock *storetest.Clock) strikes.Store {
		db, err := Open(Options{Path: path, Now: clock.Now})
		require.NoError(t, err)
		return db.StrikeStore()
	})
}

func TestDeactivateDropsIndexes(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	store := setupTestStrikeStore(t, clock)

	id, _, err := store.AddStrike(ctx, 42, 7, "spam", time.Hour)
	require.NoError(t, err)

	changed, err := store.DeactivateStrike(ctx, id)
	require.NoError(t, err)
	require.True(t, changed)

	err = store.db.View(func(tx *bolt.Tx) error {
		assert.Equal(t, 0, tx.Bucket(BucketActiveByUser).Stats().KeyN)
		assert.Equal(t, 0, tx.Bucket(BucketActiveByExpiry).Stats().KeyN)

		strike, err := getStrike(tx, id)
		require.NoError(t, err)
		require.NotNil(t, strike)
		assert.False(t, strike.Active)
		assert.True(t, strike.ExpiresAt.Equal(clock.Now().Add(time.Hour)), "expiry is kept")
		return nil
	})
	require.NoError(t, err)
}

func TestMalformedAnchorReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStrikeStore(t, storetest.NewClock(time.Now()))

	err := store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketBotState).Put([]byte(anchorKey), []byte("no-separator"))
	})
	require.NoError(t, err)

	anchor, err := store.GetSummaryAnchor(ctx)
	require.NoError(t, err)
	assert.Nil(t, anchor)
}

func TestWriteGateTimeoutIsStoreError(t *testing.T) {
	ctx := context.Background()
	tmpDir := t.TempDir()

	db, err := Open(Options{Path: filepath.Join(tmpDir, "test.db"), LockTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := db.StrikeStore()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = store.gate.Do(ctx, "hold", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, _, err = store.AddStrike(ctx, 42, 7, "spam", time.Hour)
	close(release)

	require.Error(t, err)
	assert.ErrorIs(t, err, strikes.ErrStore)
}
