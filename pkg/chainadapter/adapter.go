// Package chainadapter defines the shared contract the Swap Engine (C7)
// drives against both chain legs (C1 EVM, C2 NEAR-family), and the error
// taxonomy used to translate adapter outcomes into state transitions
// (spec §4.8, §7 "Adapter" error kind).
package chainadapter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal classification of a submitted operation.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeReverted Outcome = "reverted"
)

// SubmitRequest is the idempotent unit of work an adapter executes: "lock"
// or "unlock" on the source chain, "mint" or "burn" on the destination
// chain (spec §4.8). (SwapID, Step) is the idempotency key (spec §8
// property 6: "submitting the same (swap_id, step) twice ... returns
// identical tx_ref").
type SubmitRequest struct {
	SwapID        uuid.UUID
	Step          string
	RecipientAddr string
	Asset         string
	Amount        string // decimal string, spec §3 Swap.amount_in/out
	Nonce         []byte // deterministic per-step nonce from quantum.DeriveNonce
}

// SubmitResult carries the transaction reference returned by the chain.
type SubmitResult struct {
	TxRef   string
	Outcome Outcome
}

// ConfirmResult reports confirmation progress for a previously submitted tx.
//
// Recipient/Amount carry the on-chain evidence decoded from the confirmed
// transaction's call arguments, when the step encodes them (lock/mint/burn;
// unlock carries neither). The engine compares these against the swap's
// expected values before advancing past a confirm step (spec §7
// "Consistency") — both are left zero-valued when the step has no such
// evidence to offer, which the engine treats as "nothing to check".
type ConfirmResult struct {
	Outcome       Outcome
	Depth         int64
	Reorg         bool // true if a previously-seen tx_ref is no longer canonical
	Recipient     string
	Amount        string
}

// Adapter is the per-chain execution contract the Swap Engine drives (spec
// §4.8 "Chain adapters"). Implementations MUST be safe for concurrent use
// and MUST honor ctx cancellation/timeouts on every network call (spec §9
// "Async runtime specifics").
type Adapter interface {
	ChainID() string

	// Submit executes a lock/unlock/mint/burn step. Calling Submit twice
	// with the same (req.SwapID, req.Step) MUST return the same TxRef
	// without re-executing on-chain (spec §8 property 6).
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// Confirm polls for finality at the adapter's configured confirmation
	// depth (spec §4.8: EVM 12, NEAR-family 3).
	Confirm(ctx context.Context, txRef string) (ConfirmResult, error)

	// ConfirmationDepth returns the configured depth for this chain.
	ConfirmationDepth() int64
}

// Error kinds per spec §7 "Adapter" taxonomy.
var (
	// ErrTransient covers network/rate-limit failures; callers retry with
	// capped exponential backoff + jitter.
	ErrTransient = errors.New("chainadapter: transient error")

	// ErrTerminal covers auth/insufficient-funds/reverted failures; not
	// retryable for that step.
	ErrTerminal = errors.New("chainadapter: terminal error")
)

// RetryPolicy describes the capped exponential backoff + jitter schedule
// for ErrTransient failures (spec §7).
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

// DefaultRetryPolicy mirrors the spec's "capped exponential backoff +
// jitter" language with conservative bounds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		MaxAttempts:    6,
	}
}

// NextBackoff returns the backoff duration for the given attempt (0-based),
// doubling each attempt and capping at MaxBackoff. Jitter is the caller's
// responsibility (kept out of this pure function for testability).
func (p RetryPolicy) NextBackoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}
