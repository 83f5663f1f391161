package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO lending_events (
		account_id, txn_id, timestamp, event_type,
		amount, amount_after_fee, collateral_amount, borrow_rate, liquidator,
		pool_id, reserve_id, reserve_symbol
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const selectEventColumns = `
	SELECT account_id, txn_id, timestamp, event_type,
		amount, amount_after_fee, collateral_amount, borrow_rate, liquidator,
		pool_id, reserve_id, reserve_symbol
	FROM lending_events
`

func eventArgs(e *domain.Event) []any {
	return []any{
		e.Account,
		e.TxID,
		e.Timestamp,
		string(e.Type),
		decimalText(e.Amount),
		decimalText(e.AmountAfterFee),
		decimalText(e.CollateralAmount),
		e.BorrowRate,
		e.Liquidator,
		e.PoolID,
		e.ReserveID,
		e.ReserveSymbol,
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if (account_id, txn_id) exists.
func (s *EventStore) Insert(ctx context.Context, e *domain.Event) error {
	if e == nil || e.Account == "" || e.TxID == "" {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, insertEventQuery, eventArgs(e)...)
	observe("insert_event", start, err)
	return storeError(err, "insert lending event")
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.Account == "" || e.TxID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range events {
			batch.Queue(insertEventQuery, eventArgs(e)...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	observe("insert_events_bulk", start, err)
	return storeError(err, "insert lending events")
}

// GetByAccount retrieves all events of an account, ordered by timestamp ASC.
func (s *EventStore) GetByAccount(ctx context.Context, account string) ([]*domain.Event, error) {
	query := selectEventColumns + `
		WHERE account_id = $1
		ORDER BY timestamp ASC, txn_id ASC
	`

	start := time.Now()
	events, err := s.query(ctx, query, account)
	observe("get_events_by_account", start, err)
	return events, storeError(err, "get lending events by account")
}

// GetByTimeRange retrieves events of an account within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(ctx context.Context, account string, start, end int64) ([]*domain.Event, error) {
	query := selectEventColumns + `
		WHERE account_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, txn_id ASC
	`

	begin := time.Now()
	events, err := s.query(ctx, query, account, start, end)
	observe("get_events_by_time_range", begin, err)
	return events, storeError(err, "get lending events by time range")
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListAccounts returns every account with at least one event, sorted ascending.
func (s *EventStore) ListAccounts(ctx context.Context) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT account_id FROM lending_events ORDER BY account_id ASC
	`)
	var accounts []string
	if err == nil {
		accounts, err = pgx.CollectRows(rows, pgx.RowTo[string])
	}
	observe("list_accounts", start, err)
	return accounts, storeError(err, "list accounts")
}

// scanEvents scans multiple rows into a slice of Event.
func scanEvents(rows pgx.Rows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var (
			e                                        domain.Event
			eventType                                string
			amount, amountAfterFee, collateralAmount *string
		)

		err := rows.Scan(
			&e.Account,
			&e.TxID,
			&e.Timestamp,
			&eventType,
			&amount,
			&amountAfterFee,
			&collateralAmount,
			&e.BorrowRate,
			&e.Liquidator,
			&e.PoolID,
			&e.ReserveID,
			&e.ReserveSymbol,
		)
		if err != nil {
			return nil, fmt.Errorf("scan lending event row: %w", err)
		}

		e.Type = domain.EventType(eventType)
		if e.Amount, err = parseDecimalText(amount); err != nil {
			return nil, fmt.Errorf("txn %s amount: %w", e.TxID, err)
		}
		if e.AmountAfterFee, err = parseDecimalText(amountAfterFee); err != nil {
			return nil, fmt.Errorf("txn %s amount_after_fee: %w", e.TxID, err)
		}
		if e.CollateralAmount, err = parseDecimalText(collateralAmount); err != nil {
			return nil, fmt.Errorf("txn %s collateral_amount: %w", e.TxID, err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lending event rows: %w", err)
	}

	return events, nil
}

// decimalText converts an optional decimal to its exact text form.
func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimalText(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
