package swap

import "errors"

// Sentinel errors for the Swap Engine (C7, spec §4.5, §4.9).
var (
	// ErrBusy is returned when the engine's admission watermark is exceeded
	// (spec §4.5 "Backpressure... rejects new Initialized attempts with
	// Busy rather than buffering unboundedly"). Retryable by the caller.
	ErrBusy = errors.New("swap: engine busy")

	// ErrQuoteExpired mirrors price.ErrQuoteExpired at the swap boundary
	// (spec §8 property 7: expired quotes are rejected at execution time
	// even if issued before expiry).
	ErrQuoteExpired = errors.New("swap: quote expired")

	// ErrInvalidTransition is returned when Advance is invoked on a swap
	// whose status has no defined next step (e.g. already terminal).
	ErrInvalidTransition = errors.New("swap: no transition defined for current status")

	// ErrConsistencyMismatch is returned when the recipient/amount decoded
	// from the confirmed lock/mint/burn call disagrees with the swap's
	// expected values (spec §7 "Consistency" error kind): Rejected if caught
	// on the source leg (confirmSource, before any dest funds move), or
	// Refunding if caught on the dest leg (confirmDest, after the source is
	// already locked).
	ErrConsistencyMismatch = errors.New("swap: cross-chain evidence mismatch")
)
