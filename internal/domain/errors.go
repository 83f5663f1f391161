package domain

import (
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned when an event lacks a field the feature
// engine requires or carries a value it cannot interpret.
var ErrMalformedEvent = errors.New("malformed event")

// ErrInvalidAccount is returned when an account identifier is not a hex address.
var ErrInvalidAccount = errors.New("invalid account address")

func malformed(txID, reason string) error {
	if txID == "" {
		return fmt.Errorf("%w: %s", ErrMalformedEvent, reason)
	}
	return fmt.Errorf("%w: txn %s: %s", ErrMalformedEvent, txID, reason)
}
