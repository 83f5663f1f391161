package memory

import (
	"context"
	"sort"
	"sync"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/storage"
)

// FeatureRecordStore is an in-memory implementation of storage.FeatureRecordStore.
type FeatureRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeatureRecord // keyed by run_id|record_id
}

// NewFeatureRecordStore creates a new in-memory feature record store.
func NewFeatureRecordStore() *FeatureRecordStore {
	return &FeatureRecordStore{
		data: make(map[string]*domain.FeatureRecord),
	}
}

func featureRecordKey(runID, recordID string) string {
	return runID + "|" + recordID
}

// InsertBulk adds multiple records. Fails entire batch on duplicate.
func (s *FeatureRecordStore) InsertBulk(_ context.Context, records []*domain.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))

	for _, r := range records {
		if r == nil || r.RecordID == "" || r.Account == "" {
			return storage.ErrInvalidInput
		}
		key := featureRecordKey(r.RunID, r.RecordID)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range records {
		recordCopy := *r
		s.data[featureRecordKey(r.RunID, r.RecordID)] = &recordCopy
	}

	return nil
}

// GetByAccount retrieves all records of an account, ordered by anchor timestamp ASC.
func (s *FeatureRecordStore) GetByAccount(_ context.Context, account string) ([]*domain.FeatureRecord, error) {
	return s.filter(func(r *domain.FeatureRecord) bool {
		return r.Account == account
	}), nil
}

// GetByRunID retrieves all records of one engine run.
func (s *FeatureRecordStore) GetByRunID(_ context.Context, runID string) ([]*domain.FeatureRecord, error) {
	return s.filter(func(r *domain.FeatureRecord) bool {
		return r.RunID == runID
	}), nil
}

// GetAll retrieves all records.
func (s *FeatureRecordStore) GetAll(_ context.Context) ([]*domain.FeatureRecord, error) {
	return s.filter(func(*domain.FeatureRecord) bool { return true }), nil
}

// filter returns copies of matching records ordered by (account, anchor, txn_id, run_id).
func (s *FeatureRecordStore) filter(match func(*domain.FeatureRecord) bool) []*domain.FeatureRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRecord
	for _, r := range s.data {
		if match(r) {
			recordCopy := *r
			result = append(result, &recordCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.AnchorTimestamp != b.AnchorTimestamp {
			return a.AnchorTimestamp < b.AnchorTimestamp
		}
		if a.AnchorTxID != b.AnchorTxID {
			return a.AnchorTxID < b.AnchorTxID
		}
		return a.RunID < b.RunID
	})

	return result
}

var _ storage.FeatureRecordStore = (*FeatureRecordStore)(nil)
