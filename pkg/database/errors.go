// Package database provides sentinel errors for repository operations.

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrSwapNotFound is returned when a swap record is not found
	ErrSwapNotFound = errors.New("swap not found")

	// ErrQuoteNotFound is returned when a quote record is not found
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrQuantumKeyNotFound is returned when no matching quantum key exists
	ErrQuantumKeyNotFound = errors.New("quantum key not found")

	// ErrReviewEntryNotFound is returned when a review entry is not found
	ErrReviewEntryNotFound = errors.New("review entry not found")

	// ErrRiskDecisionNotFound is returned when a risk decision is not found
	ErrRiskDecisionNotFound = errors.New("risk decision not found")

	// ErrStaleTransition is returned when an optimistic state transition loses
	// the race against a concurrent writer (the row moved since it was read).
	ErrStaleTransition = errors.New("swap state changed concurrently")
)
