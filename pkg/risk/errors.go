package risk

import "errors"

// Sentinel errors for the Risk Gate (C6, spec §4.4).
var (
	// ErrScorerUnavailable is returned when the external scorer times out or
	// errors; callers must treat this the same as a "review" action, never
	// as "allow" (spec §8 testable property 8, "risk fail-safe").
	ErrScorerUnavailable = errors.New("risk: scorer unavailable")

	// ErrOverrideNotPermitted is returned when a single approver attempts to
	// clear a score above the single-approver ceiling without quorum.
	ErrOverrideNotPermitted = errors.New("risk: override requires quorum")

	// ErrNotUnderReview is returned when an override is attempted against a
	// swap whose review entry is not in the pending/assigned state.
	ErrNotUnderReview = errors.New("risk: swap is not under review")

	// ErrInsufficientTier is returned when a non-admin caller attempts an
	// override.
	ErrInsufficientTier = errors.New("risk: override requires admin tier")
)
