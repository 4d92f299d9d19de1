package models

import "errors"

// Error kinds shared by the store, analyzer and alert engine. Callers test
// for them with errors.Is; they are always wrapped with context.
var (
	// ErrNotFound marks an absent endpoint or day. Store reads return an
	// empty result instead of this error; it is used by single-key lookups.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord marks a stored unit that could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrInvalidRecord marks a record rejected at the store boundary.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInsufficientData marks an analysis with too few samples.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrConcurrencyConflict is returned when the store lock could not be
	// acquired within the retry budget.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDestructiveOpUnconfirmed is returned when a delete is attempted
	// without explicit confirmation. Nothing has been mutated.
	ErrDestructiveOpUnconfirmed = errors.New("destructive operation not confirmed")
)
