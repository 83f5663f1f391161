package storage

import (
	"context"

	"lending-risk-lab/internal/domain"
)

// EventStore provides access to lending_events storage.
type EventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if (account_id, txn_id) exists.
	Insert(ctx context.Context, e *domain.Event) error

	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByAccount retrieves all events of an account, ordered by timestamp ASC.
	GetByAccount(ctx context.Context, account string) ([]*domain.Event, error)

	// GetByTimeRange retrieves events of an account within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, account string, start, end int64) ([]*domain.Event, error)

	// ListAccounts returns every account with at least one event, sorted ascending.
	ListAccounts(ctx context.Context) ([]string, error)
}

// FeatureRecordStore provides access to feature_records storage.
type FeatureRecordStore interface {
	// InsertBulk adds multiple records. Fails entire batch on duplicate (run_id, record_id).
	InsertBulk(ctx context.Context, records []*domain.FeatureRecord) error

	// GetByAccount retrieves all records of an account, ordered by anchor timestamp ASC.
	GetByAccount(ctx context.Context, account string) ([]*domain.FeatureRecord, error)

	// GetByRunID retrieves all records of one engine run, ordered by account then anchor.
	GetByRunID(ctx context.Context, runID string) ([]*domain.FeatureRecord, error)

	// GetAll retrieves all records, ordered by account then anchor.
	GetAll(ctx context.Context) ([]*domain.FeatureRecord, error)
}

// IngestProgress is the newest event position seen by the live feed.
type IngestProgress struct {
	Timestamp int64  // timestamp of the last stored event (seconds)
	TxID      string // txn id of the last stored event
}

// IngestProgressStore persists the live feed cursor so a restarted stream
// resumes where it stopped instead of replaying the whole history.
type IngestProgressStore interface {
	// GetLastProcessed returns the last stored position.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastProcessed(ctx context.Context) (*IngestProgress, error)

	// SetLastProcessed saves the last stored position.
	SetLastProcessed(ctx context.Context, progress *IngestProgress) error
}
