// Package storage defines the stores behind the engine: the append-only
// lending event log, the feature records of each run and the cursor of the
// live feed. Implementations live in the memory, postgres and clickhouse
// subpackages and share the errors below.
package storage

import "errors"

var (
	// ErrNotFound is returned when a cursor or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an event (account, txid) or a record
	// ID is already stored. Events and records are never updated.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned for nil values or missing keys.
	ErrInvalidInput = errors.New("invalid input")
)
