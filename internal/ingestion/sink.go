// Package ingestion moves lending events from the subgraph into the event
// store and keeps the live feed cursor.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/observability"
	"lending-risk-lab/internal/storage"
)

// Stats counts the outcome of one Store call.
type Stats struct {
	Stored    int
	Skipped   int // already present
	Malformed int // failed validation, not stored
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Stored += other.Stored
	s.Skipped += other.Skipped
	s.Malformed += other.Malformed
}

// Sink inserts events one by one so overlapping pages only skip the rows
// already present.
type Sink struct {
	events   storage.EventStore
	progress storage.IngestProgressStore
	logger   *zap.Logger

	cursor *storage.IngestProgress
}

// NewSink creates a sink. progress may be nil, in which case no cursor is kept.
func NewSink(events storage.EventStore, progress storage.IngestProgressStore, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{events: events, progress: progress, logger: logger}
}

// Cursor returns the newest stored position, loading it from the progress
// store on first use. The zero position is returned when nothing is saved.
func (s *Sink) Cursor(ctx context.Context) (storage.IngestProgress, error) {
	if s.cursor != nil {
		return *s.cursor, nil
	}
	if s.progress == nil {
		return storage.IngestProgress{}, nil
	}

	p, err := s.progress.GetLastProcessed(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.cursor = &storage.IngestProgress{}
		return *s.cursor, nil
	}
	if err != nil {
		return storage.IngestProgress{}, fmt.Errorf("get ingest progress: %w", err)
	}
	s.cursor = p
	return *p, nil
}

// Store validates and inserts events, then advances the cursor past the
// newest one seen. Malformed events are logged and skipped.
func (s *Sink) Store(ctx context.Context, events []*domain.Event) (Stats, error) {
	var (
		stats  Stats
		newest *domain.Event
	)
	for _, e := range events {
		if e == nil {
			stats.Malformed++
			s.logger.Warn("skipping nil event")
			continue
		}
		if err := e.Validate(); err != nil {
			stats.Malformed++
			s.logger.Warn("skipping malformed event",
				zap.String("account", e.Account), zap.String("txn_id", e.TxID), zap.Error(err))
			continue
		}

		err := s.events.Insert(ctx, e)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			stats.Skipped++
		case err != nil:
			return stats, fmt.Errorf("insert %s/%s: %w", e.Account, e.TxID, err)
		default:
			stats.Stored++
		}
		if newest == nil || after(e, newest) {
			newest = e
		}
	}
	observability.RecordIngested("stored", stats.Stored)
	observability.RecordIngested("duplicate", stats.Skipped)
	observability.RecordIngested("malformed", stats.Malformed)

	if newest != nil {
		if err := s.advance(ctx, storage.IngestProgress{Timestamp: newest.Timestamp, TxID: newest.TxID}); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Handle converts one flattened result set to events and stores it.
// Transactions that do not parse are skipped and counted as malformed.
func (s *Sink) Handle(ctx context.Context, flat []map[string]any) (Stats, error) {
	events := make([]*domain.Event, 0, len(flat))
	var unparsed int
	for _, fields := range flat {
		e, err := domain.EventFromFields("", fields)
		if err != nil {
			unparsed++
			s.logger.Warn("skipping unparseable transaction", zap.Error(err))
			continue
		}
		events = append(events, e)
	}

	observability.RecordIngested("malformed", unparsed)
	stats, err := s.Store(ctx, events)
	stats.Malformed += unparsed
	if err != nil {
		return stats, err
	}
	s.logger.Debug("batch stored",
		zap.Int("stored", stats.Stored),
		zap.Int("skipped", stats.Skipped),
		zap.Int("malformed", stats.Malformed))
	return stats, nil
}

func (s *Sink) advance(ctx context.Context, p storage.IngestProgress) error {
	cur, err := s.Cursor(ctx)
	if err != nil {
		return err
	}
	if p.Timestamp < cur.Timestamp || (p.Timestamp == cur.Timestamp && p.TxID <= cur.TxID) {
		return nil
	}

	if s.progress != nil {
		if err := s.progress.SetLastProcessed(ctx, &p); err != nil {
			return fmt.Errorf("set ingest progress: %w", err)
		}
	}
	s.cursor = &p
	observability.UpdateLastIngestedEvent(p.Timestamp)
	return nil
}

// after orders events by (timestamp, txn id).
func after(a, b *domain.Event) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.TxID > b.TxID
}
