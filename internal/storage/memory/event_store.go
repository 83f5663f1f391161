package memory

import (
	"context"
	"sort"
	"sync"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Event // keyed by account|txn_id
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[string]*domain.Event),
	}
}

func eventKey(account, txID string) string {
	return account + "|" + txID
}

func validEvent(e *domain.Event) bool {
	return e != nil && e.Account != "" && e.TxID != ""
}

// Insert adds a new event. Returns ErrDuplicateKey if exists.
func (s *EventStore) Insert(_ context.Context, e *domain.Event) error {
	if !validEvent(e) {
		return storage.ErrInvalidInput
	}

	key := eventKey(e.Account, e.TxID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	eventCopy := *e
	s.data[key] = &eventCopy
	return nil
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))

	// First pass: check for duplicates (existing + intra-batch)
	for _, e := range events {
		if !validEvent(e) {
			return storage.ErrInvalidInput
		}
		key := eventKey(e.Account, e.TxID)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, e := range events {
		eventCopy := *e
		s.data[eventKey(e.Account, e.TxID)] = &eventCopy
	}

	return nil
}

// GetByAccount retrieves all events of an account, ordered by timestamp ASC.
func (s *EventStore) GetByAccount(_ context.Context, account string) ([]*domain.Event, error) {
	return s.filter(func(e *domain.Event) bool {
		return e.Account == account
	}), nil
}

// GetByTimeRange retrieves events of an account within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(_ context.Context, account string, start, end int64) ([]*domain.Event, error) {
	return s.filter(func(e *domain.Event) bool {
		return e.Account == account && e.Timestamp >= start && e.Timestamp <= end
	}), nil
}

// ListAccounts returns every account with at least one event, sorted ascending.
func (s *EventStore) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range s.data {
		seen[e.Account] = struct{}{}
	}

	accounts := make([]string, 0, len(seen))
	for account := range seen {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// filter returns copies of matching events ordered by (timestamp, txn_id).
func (s *EventStore) filter(match func(*domain.Event) bool) []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if match(e) {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].TxID < result[j].TxID
	})

	return result
}

var _ storage.EventStore = (*EventStore)(nil)
