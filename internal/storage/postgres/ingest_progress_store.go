package postgres

import (
	"context"
	"time"

	"lending-risk-lab/internal/storage"
)

// IngestProgressStore keeps the stream cursor in the single-row
// ingest_progress table (id = 1).
type IngestProgressStore struct {
	pool *Pool
}

// NewIngestProgressStore creates a cursor store on pool.
func NewIngestProgressStore(pool *Pool) *IngestProgressStore {
	return &IngestProgressStore{pool: pool}
}

var _ storage.IngestProgressStore = (*IngestProgressStore)(nil)

// GetLastProcessed returns the saved cursor or storage.ErrNotFound.
func (s *IngestProgressStore) GetLastProcessed(ctx context.Context) (*storage.IngestProgress, error) {
	start := time.Now()
	var progress storage.IngestProgress
	err := s.pool.QueryRow(ctx, `
		SELECT timestamp, txn_id FROM ingest_progress WHERE id = 1
	`).Scan(&progress.Timestamp, &progress.TxID)
	observe("get_ingest_progress", start, err)
	if err != nil {
		return nil, storeError(err, "get ingest progress")
	}
	return &progress, nil
}

// SetLastProcessed upserts the cursor.
func (s *IngestProgressStore) SetLastProcessed(ctx context.Context, progress *storage.IngestProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_progress (id, timestamp, txn_id, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET timestamp = EXCLUDED.timestamp,
		    txn_id = EXCLUDED.txn_id,
		    updated_at = NOW()
	`, progress.Timestamp, progress.TxID)
	observe("set_ingest_progress", start, err)
	return storeError(err, "set ingest progress")
}
