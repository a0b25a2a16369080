package price

import "errors"

// Sentinel errors for the Price/Quote Engine (C5, spec §4.3).
var (
	// ErrNoPrice is returned when fewer than one usable observation remains
	// after filtering — the engine never fabricates a price.
	ErrNoPrice = errors.New("price: no usable observation for pair")

	// ErrExcessiveImpact is returned when price impact falls outside
	// [-0.5, 0.5].
	ErrExcessiveImpact = errors.New("price: excessive price impact")

	// ErrQuoteExpired is returned when a quote's expiry has passed at
	// execution-time re-check.
	ErrQuoteExpired = errors.New("price: quote expired")
)
