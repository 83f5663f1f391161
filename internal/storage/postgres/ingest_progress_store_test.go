package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-risk-lab/internal/storage"
)

func TestIngestProgressStore_Upsert(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewIngestProgressStore(pool)

	_, err := store.GetLastProcessed(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetLastProcessed(ctx, &storage.IngestProgress{Timestamp: 100, TxID: "a"}))
	require.NoError(t, store.SetLastProcessed(ctx, &storage.IngestProgress{Timestamp: 200, TxID: "b"}))

	got, err := store.GetLastProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.IngestProgress{Timestamp: 200, TxID: "b"}, *got)

	assert.ErrorIs(t, store.SetLastProcessed(ctx, nil), storage.ErrInvalidInput)
}
