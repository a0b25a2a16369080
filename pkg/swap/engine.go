// Package swap implements the Swap Engine and state machine (C7, spec
// §4.5): atomic orchestration across the EVM and NEAR-family adapters
// (C1/C2), strict per-swap step sequencing, and crash-safe idempotence.
//
// Grounded on the teacher's execution-wrapper pattern
// (pkg/execution/executor.go's AnchorManagerWrapper/TargetChainExecutorWrapper
// translating between a narrow internal type and an external executor
// interface) for how a swap-domain type is translated into
// chainadapter.SubmitRequest/Result, and on pkg/batch/scheduler.go's
// explicit state-enum-plus-guarded-transition idiom for the state machine
// itself.
package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/certen/quantum-bridge/pkg/chainadapter"
	"github.com/certen/quantum-bridge/pkg/database"
	"github.com/certen/quantum-bridge/pkg/eventbus"
	"github.com/certen/quantum-bridge/pkg/price"
	"github.com/certen/quantum-bridge/pkg/quantum"
	"github.com/certen/quantum-bridge/pkg/risk"
)

// RiskGate is the slice of risk.Gate the engine drives (C6), narrowed so
// tests can substitute a fake scorer/repo chain with a single fake.
type RiskGate interface {
	Evaluate(ctx context.Context, swapID uuid.UUID, req risk.ScoreRequest) (*database.RiskDecision, error)
	OpenReview(ctx context.Context, swapID uuid.UUID, slaDeadline time.Time) (*database.ReviewEntry, error)
}

// KeyStore is the slice of keystore.Store the engine drives (C4): resolving
// the active per-user key and its live encapsulation key for sealing the
// swap payload (spec §4.1).
type KeyStore interface {
	GetActiveKey(ctx context.Context, userID uuid.UUID, purpose database.QuantumKeyPurpose) (*database.QuantumKey, error)
	EncapsulationKeyFor(row *database.QuantumKey) (quantum.EncapsulationKey, error)
}

// Deadlines holds the per-step wall-clock budgets the Supervisor (C8)
// enforces (spec §4.6).
type Deadlines struct {
	SubmitSource   time.Duration
	SourceConfirm  time.Duration
	SubmitDest     time.Duration
	DestConfirm    time.Duration
	Review         time.Duration
}

// DefaultDeadlines mirrors the spec's illustrative defaults.
func DefaultDeadlines() Deadlines {
	return Deadlines{
		SubmitSource:  120 * time.Second,
		SourceConfirm: 900 * time.Second,
		SubmitDest:    120 * time.Second,
		DestConfirm:   900 * time.Second,
		Review:        24 * time.Hour,
	}
}

// Engine is the Swap Engine (C7): it owns the state machine and drives C1-C6
// and C9 on behalf of a swap.
type Engine struct {
	repo        *Repository
	keys        KeyStore
	prices      *price.Engine
	riskGate    RiskGate
	bus         *eventbus.Bus
	adapters    map[database.ChainID]chainadapter.Adapter
	deadlines   Deadlines
	aeadCounter *quantum.NonceCounter
	logger      *log.Logger

	// busyWatermark bounds concurrently-open swaps admitted by this engine
	// instance (spec §4.5 "Backpressure"); 0 disables the check.
	busyWatermark int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBusyWatermark caps concurrently-open swaps.
func WithBusyWatermark(n int) Option {
	return func(e *Engine) { e.busyWatermark = n }
}

// New builds an Engine.
func New(
	repo *Repository,
	keys KeyStore,
	prices *price.Engine,
	riskGate RiskGate,
	bus *eventbus.Bus,
	adapters map[database.ChainID]chainadapter.Adapter,
	deadlines Deadlines,
	opts ...Option,
) *Engine {
	e := &Engine{
		repo:        repo,
		keys:        keys,
		prices:      prices,
		riskGate:    riskGate,
		bus:         bus,
		adapters:    adapters,
		deadlines:   deadlines,
		aeadCounter: &quantum.NonceCounter{},
		logger:      log.New(log.Writer(), "[SwapEngine] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) publish(swapID uuid.UUID, topic string, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(swapID.String(), topic, payload)
}

// RequestQuote runs the Price Engine (C5) and persists the resulting
// immutable Quote (spec §6 "POST bridge/quote").
func (e *Engine) RequestQuote(ctx context.Context, req price.QuoteRequest) (*database.Quote, error) {
	q, err := e.prices.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Quotes.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// CreateSwap admits a new swap request at Initialized (spec §6 "POST
// bridge/swap"). Backpressure: if the engine's open-swap watermark is
// exceeded, CreateSwap returns ErrBusy rather than buffering (spec §4.5).
func (e *Engine) CreateSwap(ctx context.Context, input *database.NewSwapInput, quoteID uuid.UUID) (*database.Swap, error) {
	if e.busyWatermark > 0 {
		open, err := e.repo.Swaps.ListOpen(ctx)
		if err != nil {
			return nil, err
		}
		if len(open) >= e.busyWatermark {
			return nil, ErrBusy
		}
	}

	quote, err := e.repo.Quotes.Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if time.Now().After(quote.ExpiresAt) {
		return nil, ErrQuoteExpired
	}

	swapRow, err := e.repo.Swaps.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := e.repo.Swaps.Transition(ctx, swapRow.ID, &database.TransitionInput{
		ExpectedStatus: database.SwapStatusInitialized,
		NewStatus:      database.SwapStatusQuoted,
		QuoteID:        &quoteID,
	}); err != nil {
		return nil, err
	}
	swapRow.Status = database.SwapStatusQuoted
	swapRow.QuoteID = uuid.NullUUID{UUID: quoteID, Valid: true}
	e.publish(swapRow.ID, "swap.state", swapRow.Status)
	return swapRow, nil
}

// Advance drives a single state-machine step for swapID based on its
// persisted status (spec §4.5 transition table). Ordering is strictly
// sequential per swap (spec §4.5 "Ordering"); callers (the Supervisor, or a
// request handler) re-invoke Advance to progress further.
func (e *Engine) Advance(ctx context.Context, swapID uuid.UUID) error {
	swapRow, err := e.repo.Swaps.Get(ctx, swapID)
	if err != nil {
		return err
	}

	switch swapRow.Status {
	case database.SwapStatusQuoted:
		return e.evaluateRisk(ctx, swapRow)
	case database.SwapStatusRiskChecked:
		return e.submitSource(ctx, swapRow)
	case database.SwapStatusSourceLocking:
		return e.confirmSource(ctx, swapRow)
	case database.SwapStatusSourceLocked:
		return e.submitDest(ctx, swapRow)
	case database.SwapStatusDestIssuing:
		return e.confirmDest(ctx, swapRow)
	case database.SwapStatusDestIssued:
		return e.finalize(ctx, swapRow)
	case database.SwapStatusRefunding:
		return e.confirmRefund(ctx, swapRow)
	default:
		return fmt.Errorf("%w: status=%s", ErrInvalidTransition, swapRow.Status)
	}
}

// evaluateRisk implements the Quoted -> {RiskChecked, Rejected, RiskReview}
// transitions (spec §4.5, §4.4).
func (e *Engine) evaluateRisk(ctx context.Context, s *database.Swap) error {
	decision, err := e.riskGate.Evaluate(ctx, s.ID, risk.ScoreRequest{
		UserID:      s.UserID,
		SourceChain: s.SourceChain,
		DestChain:   s.DestChain,
		SourceAsset: s.SourceAsset,
		DestAsset:   s.DestAsset,
		AmountIn:    s.AmountIn,
		Recipient:   s.RecipientAddr,
	})
	if err != nil {
		return err
	}

	score := decision.Score
	switch decision.Action {
	case database.RiskActionBlock:
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusQuoted,
			NewStatus:      database.SwapStatusRejected,
			RiskScore:      &score,
			RiskFactors:    decision.Reasons,
		}); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusRejected)
		return nil

	case database.RiskActionReview:
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusQuoted,
			NewStatus:      database.SwapStatusRiskReview,
			RiskScore:      &score,
			RiskFactors:    decision.Reasons,
			Deadlines:      map[string]time.Time{"deadline_review": time.Now().Add(e.deadlines.Review)},
		}); err != nil {
			return err
		}
		if _, err := e.riskGate.OpenReview(ctx, s.ID, time.Now().Add(e.deadlines.Review)); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusRiskReview)
		return nil

	default: // allow
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusQuoted,
			NewStatus:      database.SwapStatusRiskChecked,
			RiskScore:      &score,
			RiskFactors:    decision.Reasons,
			Deadlines:      map[string]time.Time{"deadline_submit_source": time.Now().Add(e.deadlines.SubmitSource)},
		}); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusRiskChecked)
		return nil
	}
}

// ResumeFromReview implements RiskReview -> {RiskChecked, Rejected} after an
// admin decision (spec §4.5 "review_approved"/"review_rejected").
func (e *Engine) ResumeFromReview(ctx context.Context, s *database.Swap, approved bool) error {
	if approved {
		return e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusRiskReview,
			NewStatus:      database.SwapStatusRiskChecked,
			Deadlines:      map[string]time.Time{"deadline_submit_source": time.Now().Add(e.deadlines.SubmitSource)},
		})
	}
	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: database.SwapStatusRiskReview,
		NewStatus:      database.SwapStatusRejected,
	}); err != nil {
		return err
	}
	e.publish(s.ID, "swap.state", database.SwapStatusRejected)
	return nil
}

// swapPayload is the closed set of fields sealed into Swap.EncryptedPayload
// (spec §9 "specify the closed set of fields the core reads").
type swapPayload struct {
	SwapID      string `json:"swap_id"`
	SourceChain string `json:"source_chain"`
	DestChain   string `json:"dest_chain"`
	AmountIn    string `json:"amount_in"`
	Recipient   string `json:"recipient"`
}

// submitSource implements RiskChecked -> SourceLocking: derive operation
// keys, seal the payload, submit the source-chain lock (spec §4.5).
func (e *Engine) submitSource(ctx context.Context, s *database.Swap) error {
	key, err := e.keys.GetActiveKey(ctx, s.UserID, database.PurposeBridgeTx)
	if err != nil {
		return err
	}
	ek, err := e.keys.EncapsulationKeyFor(key)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(swapPayload{
		SwapID:      s.ID.String(),
		SourceChain: string(s.SourceChain),
		DestChain:   string(s.DestChain),
		AmountIn:    s.AmountIn,
		Recipient:   s.RecipientAddr,
	})
	if err != nil {
		return fmt.Errorf("swap: marshal payload: %w", err)
	}

	env, err := quantum.Encrypt(ek, payload, []byte(s.ID.String()), quantum.ContextBridgeTx, e.aeadCounter)
	if err != nil {
		return err
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("swap: marshal envelope: %w", err)
	}

	nonce, err := quantum.DeriveNonce([]byte(s.ID.String()), "submit_source")
	if err != nil {
		return err
	}

	adapter, ok := e.adapters[s.SourceChain]
	if !ok {
		return fmt.Errorf("swap: no adapter configured for chain %s", s.SourceChain)
	}

	result, err := adapter.Submit(ctx, chainadapter.SubmitRequest{
		SwapID:        s.ID,
		Step:          "lock",
		RecipientAddr: s.RecipientAddr,
		Asset:         s.SourceAsset,
		Amount:        s.AmountIn,
		Nonce:         nonce,
	})
	if err != nil {
		return err
	}

	keyID := key.ID
	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus:   database.SwapStatusRiskChecked,
		NewStatus:        database.SwapStatusSourceLocking,
		QuantumKeyID:     &keyID,
		SourceTxRef:      &result.TxRef,
		EncryptedPayload: envBytes,
		Deadlines:        map[string]time.Time{"deadline_source_confirm": time.Now().Add(e.deadlines.SourceConfirm)},
	}); err != nil {
		return err
	}
	_ = e.repo.QuantumKeys.IncrementUsage(ctx, keyID)
	e.publish(s.ID, "swap.state", database.SwapStatusSourceLocking)
	return nil
}

// confirmSource implements SourceLocking -> SourceLocked (or -> Rejected on
// failure/timeout) per spec §4.5.
func (e *Engine) confirmSource(ctx context.Context, s *database.Swap) error {
	adapter, ok := e.adapters[s.SourceChain]
	if !ok {
		return fmt.Errorf("swap: no adapter configured for chain %s", s.SourceChain)
	}
	if !s.SourceTxRef.Valid {
		return fmt.Errorf("swap: source tx ref missing for swap %s", s.ID)
	}

	result, err := adapter.Confirm(ctx, s.SourceTxRef.String)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case chainadapter.OutcomeConfirmed:
		if !evidenceConsistent(result, s.RecipientAddr, s.AmountIn) {
			if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
				ExpectedStatus: database.SwapStatusSourceLocking,
				NewStatus:      database.SwapStatusRejected,
			}); err != nil {
				return err
			}
			e.publish(s.ID, "swap.state", database.SwapStatusRejected)
			return ErrConsistencyMismatch
		}
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusSourceLocking,
			NewStatus:      database.SwapStatusSourceLocked,
			Deadlines:      map[string]time.Time{"deadline_submit_dest": time.Now().Add(e.deadlines.SubmitDest)},
		}); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusSourceLocked)
		return nil
	case chainadapter.OutcomeReverted:
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusSourceLocking,
			NewStatus:      database.SwapStatusRejected,
		}); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusRejected)
		return nil
	default: // pending: still tentative, no transition (spec §4.5 "must not advance")
		return nil
	}
}

// evidenceConsistent compares the chain adapter's decoded call evidence
// against the swap's expected recipient/amount (spec §7 "Consistency"). A
// step whose call carries no decodable evidence (empty Recipient/Amount)
// has nothing to check and is treated as consistent.
func evidenceConsistent(result chainadapter.ConfirmResult, wantRecipient, wantAmount string) bool {
	if result.Recipient == "" && result.Amount == "" {
		return true
	}
	if result.Recipient != "" && !strings.EqualFold(result.Recipient, wantRecipient) {
		return false
	}
	if result.Amount != "" && result.Amount != wantAmount {
		return false
	}
	return true
}

// submitDest implements SourceLocked -> DestIssuing (spec §4.5).
func (e *Engine) submitDest(ctx context.Context, s *database.Swap) error {
	adapter, ok := e.adapters[s.DestChain]
	if !ok {
		return fmt.Errorf("swap: no adapter configured for chain %s", s.DestChain)
	}

	nonce, err := quantum.DeriveNonce([]byte(s.ID.String()), "submit_dest")
	if err != nil {
		return err
	}

	amountOut := ""
	if s.AmountOut.Valid {
		amountOut = s.AmountOut.String
	}

	result, err := adapter.Submit(ctx, chainadapter.SubmitRequest{
		SwapID:        s.ID,
		Step:          "mint",
		RecipientAddr: s.RecipientAddr,
		Asset:         s.DestAsset,
		Amount:        amountOut,
		Nonce:         nonce,
	})
	if err != nil {
		return err
	}

	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: database.SwapStatusSourceLocked,
		NewStatus:      database.SwapStatusDestIssuing,
		DestTxRef:      &result.TxRef,
		Deadlines:      map[string]time.Time{"deadline_dest_confirm": time.Now().Add(e.deadlines.DestConfirm)},
	}); err != nil {
		return err
	}
	e.publish(s.ID, "swap.state", database.SwapStatusDestIssuing)
	return nil
}

// confirmDest implements DestIssuing -> {DestIssued, Refunding} (spec §4.5).
func (e *Engine) confirmDest(ctx context.Context, s *database.Swap) error {
	adapter, ok := e.adapters[s.DestChain]
	if !ok {
		return fmt.Errorf("swap: no adapter configured for chain %s", s.DestChain)
	}
	if !s.DestTxRef.Valid {
		return fmt.Errorf("swap: dest tx ref missing for swap %s", s.ID)
	}

	result, err := adapter.Confirm(ctx, s.DestTxRef.String)
	if err != nil {
		return err
	}

	amountOut := ""
	if s.AmountOut.Valid {
		amountOut = s.AmountOut.String
	}

	switch result.Outcome {
	case chainadapter.OutcomeConfirmed:
		if !evidenceConsistent(result, s.RecipientAddr, amountOut) {
			// Funds already moved on the source leg; a mismatch here must
			// force a refund rather than a plain reject (spec §7).
			if err := e.beginRefund(ctx, s, database.SwapStatusDestIssuing); err != nil {
				return err
			}
			return ErrConsistencyMismatch
		}
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusDestIssuing,
			NewStatus:      database.SwapStatusDestIssued,
		}); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusDestIssued)
		return nil
	case chainadapter.OutcomeReverted:
		return e.beginRefund(ctx, s, database.SwapStatusDestIssuing)
	default:
		return nil
	}
}

// finalize implements DestIssued -> Completed (spec §4.5).
func (e *Engine) finalize(ctx context.Context, s *database.Swap) error {
	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: database.SwapStatusDestIssued,
		NewStatus:      database.SwapStatusCompleted,
		MarkCompleted:  true,
	}); err != nil {
		return err
	}
	e.publish(s.ID, "swap.state", database.SwapStatusCompleted)
	e.publish(s.ID, "swap.completed", s.ID)
	return nil
}

// beginRefund implements {SourceLocked, DestIssuing} -> Refunding: submit the
// compensating unlock on the source chain (spec §4.5). expectedStatus is the
// status the row must currently be in for the optimistic-concurrency guard
// to pass; ordinary dest-failure flows pass DestIssuing, while the
// Supervisor's forced-expiry path (ForceRefund) may pass SourceLocked when a
// dest submission was never reached.
func (e *Engine) beginRefund(ctx context.Context, s *database.Swap, expectedStatus database.SwapStatus) error {
	adapter, ok := e.adapters[s.SourceChain]
	if !ok {
		return fmt.Errorf("swap: no adapter configured for chain %s", s.SourceChain)
	}

	nonce, err := quantum.DeriveNonce([]byte(s.ID.String()), "refund")
	if err != nil {
		return err
	}

	result, err := adapter.Submit(ctx, chainadapter.SubmitRequest{
		SwapID:        s.ID,
		Step:          "unlock",
		RecipientAddr: s.RecipientAddr,
		Asset:         s.SourceAsset,
		Amount:        s.AmountIn,
		Nonce:         nonce,
	})
	if err != nil {
		return err
	}

	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: expectedStatus,
		NewStatus:      database.SwapStatusRefunding,
		SourceTxRef:    &result.TxRef,
	}); err != nil {
		return err
	}
	e.publish(s.ID, "swap.state", database.SwapStatusRefunding)
	return nil
}

// ForceReject forces a pre-SourceLocked swap to Rejected after its deadline
// has expired (spec §4.6 "On deadline expiry in a pre-SourceLocked state ->
// transition Rejected").
func (e *Engine) ForceReject(ctx context.Context, s *database.Swap) error {
	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: s.Status,
		NewStatus:      database.SwapStatusRejected,
	}); err != nil {
		return err
	}
	e.publish(s.ID, "swap.state", database.SwapStatusRejected)
	return nil
}

// ForceRefund forces a swap that is stuck past its submit_dest/dest_confirmed
// deadline into Refunding by submitting the compensating unlock (spec §4.6
// "On expiry in DestIssuing -> transition Refunding"; the same compensation
// also applies if a swap never got past SourceLocked before its
// submit_dest deadline fired).
func (e *Engine) ForceRefund(ctx context.Context, s *database.Swap) error {
	return e.beginRefund(ctx, s, s.Status)
}

// ForceManualRecovery forces a swap in Refunding into ManualRecovery for
// operator intervention (spec §4.6 "On expiry in Refunding ->
// ManualRecovery"). No deadline is stored for Refunding, so the Supervisor's
// sweep never calls it.
func (e *Engine) ForceManualRecovery(ctx context.Context, s *database.Swap) error {
	if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: database.SwapStatusRefunding,
		NewStatus:      database.SwapStatusManualRecovery,
	}); err != nil {
		return err
	}
	e.logger.Printf("🛑 refund timed out for swap %s, requires manual recovery", s.ID)
	e.publish(s.ID, "swap.state", database.SwapStatusManualRecovery)
	return nil
}

// confirmRefund implements Refunding -> {Refunded, ManualRecovery} (spec §4.5).
func (e *Engine) confirmRefund(ctx context.Context, s *database.Swap) error {
	adapter, ok := e.adapters[s.SourceChain]
	if !ok {
		return fmt.Errorf("swap: no adapter configured for chain %s", s.SourceChain)
	}
	if !s.SourceTxRef.Valid {
		return fmt.Errorf("swap: source tx ref missing for refund of swap %s", s.ID)
	}

	result, err := adapter.Confirm(ctx, s.SourceTxRef.String)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case chainadapter.OutcomeConfirmed:
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusRefunding,
			NewStatus:      database.SwapStatusRefunded,
		}); err != nil {
			return err
		}
		e.publish(s.ID, "swap.state", database.SwapStatusRefunded)
		return nil
	case chainadapter.OutcomeReverted:
		if err := e.repo.Swaps.Transition(ctx, s.ID, &database.TransitionInput{
			ExpectedStatus: database.SwapStatusRefunding,
			NewStatus:      database.SwapStatusManualRecovery,
		}); err != nil {
			return err
		}
		e.logger.Printf("🛑 refund failed for swap %s, requires manual recovery", s.ID)
		e.publish(s.ID, "swap.state", database.SwapStatusManualRecovery)
		return nil
	default:
		return nil
	}
}
