package clickhouse

import (
	"context"
	"fmt"
	"time"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/storage"
)

// FeatureRecordStore implements storage.FeatureRecordStore using ClickHouse.
type FeatureRecordStore struct {
	conn *Conn
}

// NewFeatureRecordStore creates a new FeatureRecordStore.
func NewFeatureRecordStore(conn *Conn) *FeatureRecordStore {
	return &FeatureRecordStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureRecordStore = (*FeatureRecordStore)(nil)

const featureRecordColumns = `
	run_id, record_id, account_id, anchor_timestamp, anchor_txn_id, label,
	unknown_num,
	deposit_num, deposit_sum, deposit_avg,
	liquidation_call_num, liquidation_call_sum, liquidation_call_avg,
	repay_num, repay_sum, repay_avg,
	borrow_num, borrow_sum, borrow_avg,
	weighted_interest,
	num_pools, num_reserves, num_symbols
`

// InsertBulk adds multiple records. Fails entire batch on duplicate (run_id, record_id).
// MergeTree does not enforce uniqueness, so duplicates are checked before the insert.
func (s *FeatureRecordStore) InsertBulk(ctx context.Context, records []*domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	err := s.insertBulk(ctx, records)
	observe("insert_feature_records", start, err)
	return err
}

func (s *FeatureRecordStore) insertBulk(ctx context.Context, records []*domain.FeatureRecord) error {
	// Check for intra-batch duplicates, grouping record ids per run
	byRun := make(map[string][]string)
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.Account == "" {
			return storage.ErrInvalidInput
		}
		k := r.RunID + "|" + r.RecordID
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
		byRun[r.RunID] = append(byRun[r.RunID], r.RecordID)
	}

	// Check for duplicates against existing rows
	for runID, recordIDs := range byRun {
		exists, err := s.exists(ctx, runID, recordIDs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO feature_records ("+featureRecordColumns+")")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		f := r.Features
		err = batch.Append(
			r.RunID, r.RecordID, r.Account, uint64(r.AnchorTimestamp), r.AnchorTxID, uint8(r.Label),
			f.UnknownNum,
			f.Deposit.Num, f.Deposit.Sum, f.Deposit.Avg,
			f.LiquidationCall.Num, f.LiquidationCall.Sum, f.LiquidationCall.Avg,
			f.Repay.Num, f.Repay.Sum, f.Repay.Avg,
			f.Borrow.Num, f.Borrow.Sum, f.Borrow.Avg,
			f.WeightedInterest,
			uint32(f.NumPools), uint32(f.NumReserves), uint32(f.NumSymbols),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByAccount retrieves all records of an account, ordered by anchor timestamp ASC.
func (s *FeatureRecordStore) GetByAccount(ctx context.Context, account string) ([]*domain.FeatureRecord, error) {
	query := `SELECT ` + featureRecordColumns + `
		FROM feature_records
		WHERE account_id = ?
		ORDER BY anchor_timestamp ASC, anchor_txn_id ASC, run_id ASC
	`

	return s.query(ctx, "get_records_by_account", query, account)
}

// GetByRunID retrieves all records of one engine run, ordered by account then anchor.
func (s *FeatureRecordStore) GetByRunID(ctx context.Context, runID string) ([]*domain.FeatureRecord, error) {
	query := `SELECT ` + featureRecordColumns + `
		FROM feature_records
		WHERE run_id = ?
		ORDER BY account_id ASC, anchor_timestamp ASC, anchor_txn_id ASC
	`

	return s.query(ctx, "get_records_by_run", query, runID)
}

// GetAll retrieves all records, ordered by account then anchor.
func (s *FeatureRecordStore) GetAll(ctx context.Context) ([]*domain.FeatureRecord, error) {
	query := `SELECT ` + featureRecordColumns + `
		FROM feature_records
		ORDER BY account_id ASC, anchor_timestamp ASC, anchor_txn_id ASC, run_id ASC
	`

	return s.query(ctx, "get_all_records", query)
}

func (s *FeatureRecordStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.FeatureRecord, error) {
	start := time.Now()
	records, err := s.scan(ctx, query, args...)
	observe(op, start, err)
	return records, err
}

func (s *FeatureRecordStore) scan(ctx context.Context, query string, args ...any) ([]*domain.FeatureRecord, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feature records: %w", err)
	}
	defer rows.Close()
	return scanFeatureRecords(rows)
}

// exists checks if any of the record ids is already stored for the run.
func (s *FeatureRecordStore) exists(ctx context.Context, runID string, recordIDs []string) (bool, error) {
	query := `
		SELECT count(*) FROM feature_records
		WHERE run_id = ? AND record_id IN ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, runID, recordIDs).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanFeatureRecords scans multiple rows.
func scanFeatureRecords(rows chRows) ([]*domain.FeatureRecord, error) {
	var records []*domain.FeatureRecord

	for rows.Next() {
		var (
			r                                 domain.FeatureRecord
			anchor                            uint64
			label                             uint8
			numPools, numReserves, numSymbols uint32
		)
		f := &r.Features

		err := rows.Scan(
			&r.RunID, &r.RecordID, &r.Account, &anchor, &r.AnchorTxID, &label,
			&f.UnknownNum,
			&f.Deposit.Num, &f.Deposit.Sum, &f.Deposit.Avg,
			&f.LiquidationCall.Num, &f.LiquidationCall.Sum, &f.LiquidationCall.Avg,
			&f.Repay.Num, &f.Repay.Sum, &f.Repay.Avg,
			&f.Borrow.Num, &f.Borrow.Sum, &f.Borrow.Avg,
			&f.WeightedInterest,
			&numPools, &numReserves, &numSymbols,
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature record row: %w", err)
		}

		r.AnchorTimestamp = int64(anchor)
		r.Label = domain.Label(label)
		f.NumPools = int(numPools)
		f.NumReserves = int(numReserves)
		f.NumSymbols = int(numSymbols)

		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature record rows: %w", err)
	}

	return records, nil
}
