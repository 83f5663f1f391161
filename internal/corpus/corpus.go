// Package corpus reads and writes event corpora as JSON files and groups
// events by account.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"lending-risk-lab/internal/domain"
	"lending-risk-lab/internal/storage"
)

// Default file names inside the data directory.
const (
	EventsFile  = "all_events.json"
	MappingFile = "all_user_mapping.json"
)

// ErrMissingUser is returned when a flat event has no user_id to group by.
var ErrMissingUser = errors.New("event without user_id")

// Mapping is the on-disk corpus: account id -> flat events.
type Mapping map[string][]map[string]any

// Corpus is the validated in-memory corpus the feature engine consumes.
type Corpus map[string][]*domain.Event

// LoadEvents reads a flat JSON list of events.
func LoadEvents(path string) ([]map[string]any, error) {
	var events []map[string]any
	if err := readJSON(path, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// SaveEvents writes a flat JSON list of events.
func SaveEvents(path string, events []map[string]any) error {
	return writeJSON(path, events)
}

// LoadMapping reads an account -> events JSON mapping.
func LoadMapping(path string) (Mapping, error) {
	var m Mapping
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveMapping writes an account -> events JSON mapping.
func SaveMapping(path string, m Mapping) error {
	return writeJSON(path, m)
}

// GroupByAccount groups flat events by their user_id, keeping input order
// within each account.
func GroupByAccount(events []map[string]any) (Mapping, error) {
	m := make(Mapping)
	for i, e := range events {
		user, ok := e[domain.FieldUserID].(string)
		if !ok || user == "" {
			return nil, fmt.Errorf("event %d: %w", i, ErrMissingUser)
		}
		m[user] = append(m[user], e)
	}
	return m, nil
}

// Parse validates every event of the mapping and converts it to a Corpus.
// Account keys are normalized; two keys normalizing to the same account are merged
// in key order.
func Parse(m Mapping) (Corpus, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := make(Corpus, len(m))
	for _, key := range keys {
		account, err := domain.NormalizeAccount(key)
		if err != nil {
			return nil, err
		}
		for _, fields := range m[key] {
			e, err := domain.EventFromFields(account, fields)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", account, err)
			}
			c[account] = append(c[account], e)
		}
	}
	return c, nil
}

// FromEvents groups parsed events by account, keeping input order.
func FromEvents(events []*domain.Event) Corpus {
	c := make(Corpus)
	for _, e := range events {
		c[e.Account] = append(c[e.Account], e)
	}
	return c
}

// FromStore loads every account history held by the event store.
func FromStore(ctx context.Context, store storage.EventStore) (Corpus, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	c := make(Corpus, len(accounts))
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events, err := store.GetByAccount(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", account, err)
		}
		c[account] = events
	}
	return c, nil
}

// GetByAccount returns the history of one account. It lets a corpus stand in
// for an event store when records are verified.
func (c Corpus) GetByAccount(_ context.Context, account string) ([]*domain.Event, error) {
	return c[account], nil
}

// ToMapping renders a corpus back into its on-disk form.
func (c Corpus) ToMapping() Mapping {
	m := make(Mapping, len(c))
	for account, events := range c {
		flat := make([]map[string]any, 0, len(events))
		for _, e := range events {
			flat = append(flat, e.Fields())
		}
		m[account] = flat
	}
	return m
}

// Events returns the total number of events in the corpus.
func (c Corpus) Events() int {
	n := 0
	for _, events := range c {
		n += len(events)
	}
	return n
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeJSON writes through a temporary file so readers never see a partial file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
