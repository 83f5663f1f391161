package subgraph

import (
	"errors"
	"fmt"

	"lending-risk-lab/internal/domain"
)

// DefaultDenestDepth flattens transaction objects and their direct children.
const DefaultDenestDepth = 2

// ErrMalformedResponse is returned when the subgraph response cannot be interpreted.
var ErrMalformedResponse = errors.New("malformed subgraph response")

// Denest flattens nested objects into "parent_child" keys for depth levels.
// Objects deeper than depth are kept as values under their prefixed key.
// Lists are kept as lists, with object items denested on their own.
//
//	{"pool": {"id": "p"}} -> {"pool_id": "p"}
func Denest(obj map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(obj))
	denestInto(out, "", obj, 1, depth)
	return out
}

func denestInto(out map[string]any, prefix string, obj map[string]any, level, depth int) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}

		switch x := v.(type) {
		case map[string]any:
			if level < depth {
				denestInto(out, key, x, level+1, depth)
			} else {
				out[key] = x
			}
		case []any:
			out[key] = denestList(x, level+1, depth)
		default:
			out[key] = v
		}
	}
}

func denestList(items []any, level, depth int) []any {
	out := make([]any, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok || level > depth {
			out[i] = item
			continue
		}
		flat := make(map[string]any, len(m))
		denestInto(flat, "", m, level, depth)
		out[i] = flat
	}
	return out
}

// FlattenTransaction turns one raw userTransactions entry into a flat event:
// nested objects are denested, "id" becomes "txn_id" and "event_type" is
// inferred from the fields present.
func FlattenTransaction(tx map[string]any) (map[string]any, error) {
	flat := Denest(tx, DefaultDenestDepth)

	id, ok := flat["id"]
	if !ok {
		return nil, fmt.Errorf("%w: transaction without id", ErrMalformedResponse)
	}
	delete(flat, "id")
	flat[domain.FieldTxnID] = id

	flat[domain.FieldEventType] = string(domain.InferEventType(func(field string) bool {
		v, ok := flat[field]
		return ok && v != nil
	}))

	return flat, nil
}

// FlattenTransactions flattens a page of transactions, preserving order.
func FlattenTransactions(txs []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(txs))
	for i, tx := range txs {
		flat, err := FlattenTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out = append(out, flat)
	}
	return out, nil
}

// ToEvents converts flat events into validated domain events.
func ToEvents(flat []map[string]any) ([]*domain.Event, error) {
	events := make([]*domain.Event, 0, len(flat))
	for _, fields := range flat {
		e, err := domain.EventFromFields("", fields)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
