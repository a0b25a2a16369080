package swap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/certen/quantum-bridge/pkg/chainadapter"
	"github.com/certen/quantum-bridge/pkg/database"
	"github.com/certen/quantum-bridge/pkg/quantum"
	"github.com/certen/quantum-bridge/pkg/risk"
)

func TestDefaultDeadlinesMatchSpec(t *testing.T) {
	d := DefaultDeadlines()
	require.Equal(t, 900.0, d.SourceConfirm.Seconds())
	require.Equal(t, (24 * 60 * 60), int(d.Review.Seconds()))
}

func TestSwapPayloadRoundTripsClosedFieldSet(t *testing.T) {
	p := swapPayload{
		SwapID:      "11111111-1111-1111-1111-111111111111",
		SourceChain: "evm-sepolia",
		DestChain:   "near-testnet",
		AmountIn:    "1.0",
		Recipient:   "alice.near",
	}
	require.NotEmpty(t, p.SwapID)
	require.Equal(t, "evm-sepolia", p.SourceChain)
}

// ---- fake collaborators ----------------------------------------------

type fakeSwapRepo struct {
	mu    sync.Mutex
	swaps map[uuid.UUID]*database.Swap
}

func newFakeSwapRepo() *fakeSwapRepo {
	return &fakeSwapRepo{swaps: make(map[uuid.UUID]*database.Swap)}
}

func (f *fakeSwapRepo) Create(ctx context.Context, input *database.NewSwapInput) (*database.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &database.Swap{
		ID:            uuid.New(),
		UserID:        input.UserID,
		SourceChain:   input.SourceChain,
		DestChain:     input.DestChain,
		SourceAsset:   input.SourceAsset,
		DestAsset:     input.DestAsset,
		AmountIn:      input.AmountIn,
		RecipientAddr: input.RecipientAddr,
		Status:        database.SwapStatusInitialized,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.swaps[s.ID] = s
	cp := *s
	return &cp, nil
}

func (f *fakeSwapRepo) Get(ctx context.Context, id uuid.UUID) (*database.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.swaps[id]
	if !ok {
		return nil, database.ErrSwapNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSwapRepo) ListOpen(ctx context.Context) ([]*database.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	terminal := map[database.SwapStatus]bool{
		database.SwapStatusCompleted:      true,
		database.SwapStatusRejected:       true,
		database.SwapStatusRefunded:       true,
		database.SwapStatusManualRecovery: true,
	}
	var out []*database.Swap
	for _, s := range f.swaps {
		if !terminal[s.Status] {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Transition mirrors repository_swap.go's optimistic-concurrency guard: it
// only applies if the stored row's status still matches in.ExpectedStatus.
func (f *fakeSwapRepo) Transition(ctx context.Context, id uuid.UUID, in *database.TransitionInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.swaps[id]
	if !ok {
		return database.ErrSwapNotFound
	}
	if s.Status != in.ExpectedStatus {
		return database.ErrStaleTransition
	}
	s.Status = in.NewStatus
	s.UpdatedAt = time.Now()
	if in.QuoteID != nil {
		s.QuoteID = uuid.NullUUID{UUID: *in.QuoteID, Valid: true}
	}
	if in.QuantumKeyID != nil {
		s.QuantumKeyID = uuid.NullUUID{UUID: *in.QuantumKeyID, Valid: true}
	}
	if in.RiskScore != nil {
		s.RiskScore.Float64, s.RiskScore.Valid = *in.RiskScore, true
	}
	if in.RiskFactors != nil {
		s.RiskFactors = in.RiskFactors
	}
	if in.SourceTxRef != nil {
		s.SourceTxRef.String, s.SourceTxRef.Valid = *in.SourceTxRef, true
	}
	if in.DestTxRef != nil {
		s.DestTxRef.String, s.DestTxRef.Valid = *in.DestTxRef, true
	}
	if in.AmountOut != nil {
		s.AmountOut.String, s.AmountOut.Valid = *in.AmountOut, true
	}
	if in.EncryptedPayload != nil {
		s.EncryptedPayload = in.EncryptedPayload
	}
	if in.MarkCompleted {
		s.CompletedAt.Time, s.CompletedAt.Valid = time.Now(), true
	}
	for col, ts := range in.Deadlines {
		switch col {
		case "deadline_submit_source":
			s.DeadlineSubmitSource.Time, s.DeadlineSubmitSource.Valid = ts, true
		case "deadline_source_confirm":
			s.DeadlineSourceConfirm.Time, s.DeadlineSourceConfirm.Valid = ts, true
		case "deadline_submit_dest":
			s.DeadlineSubmitDest.Time, s.DeadlineSubmitDest.Valid = ts, true
		case "deadline_dest_confirm":
			s.DeadlineDestConfirm.Time, s.DeadlineDestConfirm.Valid = ts, true
		case "deadline_review":
			s.DeadlineReview.Time, s.DeadlineReview.Valid = ts, true
		}
	}
	return nil
}

func (f *fakeSwapRepo) get(id uuid.UUID) *database.Swap {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.swaps[id]
	cp := *s
	return &cp
}

type fakeQuoteRepo struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]*database.Quote
}

func newFakeQuoteRepo() *fakeQuoteRepo {
	return &fakeQuoteRepo{quotes: make(map[uuid.UUID]*database.Quote)}
}

func (f *fakeQuoteRepo) Create(ctx context.Context, q *database.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[q.ID] = q
	return nil
}

func (f *fakeQuoteRepo) Get(ctx context.Context, id uuid.UUID) (*database.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return nil, database.ErrQuoteNotFound
	}
	return q, nil
}

type fakeQuantumKeyRepo struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeQuantumKeyRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type fakeRiskGate struct {
	action  database.RiskAction
	score   float64
	reasons []byte
}

func (f *fakeRiskGate) Evaluate(ctx context.Context, swapID uuid.UUID, req risk.ScoreRequest) (*database.RiskDecision, error) {
	return &database.RiskDecision{
		ID:      uuid.New(),
		SwapID:  swapID,
		Score:   f.score,
		Action:  f.action,
		Reasons: f.reasons,
	}, nil
}

func (f *fakeRiskGate) OpenReview(ctx context.Context, swapID uuid.UUID, slaDeadline time.Time) (*database.ReviewEntry, error) {
	return &database.ReviewEntry{ID: uuid.New(), SwapID: swapID, State: database.ReviewStatePending, SLADeadline: slaDeadline}, nil
}

type fakeKeyStore struct {
	ek quantum.EncapsulationKey
}

func (f *fakeKeyStore) GetActiveKey(ctx context.Context, userID uuid.UUID, purpose database.QuantumKeyPurpose) (*database.QuantumKey, error) {
	return &database.QuantumKey{ID: uuid.New(), UserID: userID, Purpose: purpose, Active: true}, nil
}

func (f *fakeKeyStore) EncapsulationKeyFor(row *database.QuantumKey) (quantum.EncapsulationKey, error) {
	return f.ek, nil
}

// fakeAdapter is a chainadapter.Adapter whose Submit/Confirm behavior is
// scripted per test case; it also records every call for idempotency
// assertions.
type fakeAdapter struct {
	mu sync.Mutex

	chainID       string
	confirmResult chainadapter.ConfirmResult
	confirmErr    error

	submitCalls []chainadapter.SubmitRequest
	idem        map[string]chainadapter.SubmitResult
}

func newFakeAdapter(chainID string) *fakeAdapter {
	return &fakeAdapter{chainID: chainID, idem: make(map[string]chainadapter.SubmitResult)}
}

func (a *fakeAdapter) ChainID() string          { return a.chainID }
func (a *fakeAdapter) ConfirmationDepth() int64 { return 1 }

func (a *fakeAdapter) Submit(ctx context.Context, req chainadapter.SubmitRequest) (chainadapter.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitCalls = append(a.submitCalls, req)
	key := req.SwapID.String() + "/" + req.Step
	if existing, ok := a.idem[key]; ok {
		return existing, nil
	}
	result := chainadapter.SubmitResult{TxRef: "tx-" + key, Outcome: chainadapter.OutcomePending}
	a.idem[key] = result
	return result, nil
}

func (a *fakeAdapter) Confirm(ctx context.Context, txRef string) (chainadapter.ConfirmResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.confirmResult, a.confirmErr
}

func (a *fakeAdapter) submitCount(step string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.submitCalls {
		if c.Step == step {
			n++
		}
	}
	return n
}

// testHarness wires a fresh Engine over fakes, plus handles to the fakes for
// assertions.
type testHarness struct {
	engine     *Engine
	swaps      *fakeSwapRepo
	quotes     *fakeQuoteRepo
	quantum    *fakeQuantumKeyRepo
	riskGate   *fakeRiskGate
	evmAdapter *fakeAdapter
	nearAdapter *fakeAdapter
}

func newHarness(t *testing.T, riskAction database.RiskAction) *testHarness {
	t.Helper()
	ek, _, err := quantum.GenerateKeyPair()
	require.NoError(t, err)

	swaps := newFakeSwapRepo()
	quotes := newFakeQuoteRepo()
	qk := &fakeQuantumKeyRepo{}
	rg := &fakeRiskGate{action: riskAction, score: 0.1}
	evmAdapter := newFakeAdapter("evm")
	nearAdapter := newFakeAdapter("near-family")

	e := New(
		&Repository{Swaps: swaps, Quotes: quotes, QuantumKeys: qk},
		&fakeKeyStore{ek: ek},
		nil, // price.Engine not exercised by the state machine
		rg,
		nil, // eventbus optional; publish() no-ops when nil
		map[database.ChainID]chainadapter.Adapter{
			database.ChainEVM:        evmAdapter,
			database.ChainNearFamily: nearAdapter,
		},
		Deadlines{
			SubmitSource:  time.Minute,
			SourceConfirm: time.Minute,
			SubmitDest:    time.Minute,
			DestConfirm:   time.Minute,
			Review:        time.Hour,
		},
	)

	return &testHarness{
		engine: e, swaps: swaps, quotes: quotes, quantum: qk,
		riskGate: rg, evmAdapter: evmAdapter, nearAdapter: nearAdapter,
	}
}

func (h *testHarness) createSwap(t *testing.T) *database.Swap {
	t.Helper()
	quoteID := uuid.New()
	require.NoError(t, h.quotes.Create(context.Background(), &database.Quote{
		ID: quoteID, Pair: "ETH/NEAR", ExpiresAt: time.Now().Add(time.Hour),
	}))
	s, err := h.engine.CreateSwap(context.Background(), &database.NewSwapInput{
		UserID:        uuid.New(),
		SourceChain:   database.ChainEVM,
		DestChain:     database.ChainNearFamily,
		SourceAsset:   "ETH",
		DestAsset:     "wETH.near",
		AmountIn:      "1.0",
		RecipientAddr: "alice.near",
	}, quoteID)
	require.NoError(t, err)
	require.Equal(t, database.SwapStatusQuoted, s.Status)
	return s
}

// ---- CreateSwap --------------------------------------------------------

func TestCreateSwapRejectsExpiredQuote(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	quoteID := uuid.New()
	require.NoError(t, h.quotes.Create(context.Background(), &database.Quote{
		ID: quoteID, Pair: "ETH/NEAR", ExpiresAt: time.Now().Add(-time.Minute),
	}))
	_, err := h.engine.CreateSwap(context.Background(), &database.NewSwapInput{
		UserID: uuid.New(), SourceChain: database.ChainEVM, DestChain: database.ChainNearFamily,
		AmountIn: "1.0", RecipientAddr: "alice.near",
	}, quoteID)
	require.ErrorIs(t, err, ErrQuoteExpired)
}

func TestCreateSwapEnforcesBusyWatermark(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	h.engine.busyWatermark = 1

	h.createSwap(t)

	quoteID := uuid.New()
	require.NoError(t, h.quotes.Create(context.Background(), &database.Quote{
		ID: quoteID, Pair: "ETH/NEAR", ExpiresAt: time.Now().Add(time.Hour),
	}))
	_, err := h.engine.CreateSwap(context.Background(), &database.NewSwapInput{
		UserID: uuid.New(), SourceChain: database.ChainEVM, DestChain: database.ChainNearFamily,
		AmountIn: "1.0", RecipientAddr: "bob.near",
	}, quoteID)
	require.ErrorIs(t, err, ErrBusy)
}

// ---- full happy-path lifecycle -----------------------------------------

func TestSwapHappyPathReachesCompleted(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()

	// Quoted -> RiskChecked
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusRiskChecked, h.swaps.get(s.ID).Status)
	require.True(t, h.swaps.get(s.ID).DeadlineSubmitSource.Valid)

	// RiskChecked -> SourceLocking
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusSourceLocking, h.swaps.get(s.ID).Status)
	require.True(t, h.swaps.get(s.ID).DeadlineSourceConfirm.Valid)
	require.Equal(t, 1, h.quantum.calls)

	// SourceLocking -> SourceLocked
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusSourceLocked, h.swaps.get(s.ID).Status)
	require.True(t, h.swaps.get(s.ID).DeadlineSubmitDest.Valid)

	// SourceLocked -> DestIssuing
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusDestIssuing, h.swaps.get(s.ID).Status)
	require.True(t, h.swaps.get(s.ID).DeadlineDestConfirm.Valid)

	// DestIssuing -> DestIssued
	h.nearAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusDestIssued, h.swaps.get(s.ID).Status)

	// DestIssued -> Completed
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	final := h.swaps.get(s.ID)
	require.Equal(t, database.SwapStatusCompleted, final.Status)
	require.True(t, final.CompletedAt.Valid)
}

// ---- pending confirmations must not advance -----------------------------

func TestConfirmSourcePendingDoesNotAdvance(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> RiskChecked
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocking

	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomePending}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusSourceLocking, h.swaps.get(s.ID).Status)
}

// ---- risk-block and risk-review branches --------------------------------

func TestEvaluateRiskBlockRejectsSwap(t *testing.T) {
	h := newHarness(t, database.RiskActionBlock)
	s := h.createSwap(t)
	require.NoError(t, h.engine.Advance(context.Background(), s.ID))
	require.Equal(t, database.SwapStatusRejected, h.swaps.get(s.ID).Status)
}

func TestEvaluateRiskReviewThenApprovedResumes(t *testing.T) {
	h := newHarness(t, database.RiskActionReview)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusRiskReview, h.swaps.get(s.ID).Status)
	require.True(t, h.swaps.get(s.ID).DeadlineReview.Valid)

	row := h.swaps.get(s.ID)
	require.NoError(t, h.engine.ResumeFromReview(ctx, row, true))
	after := h.swaps.get(s.ID)
	require.Equal(t, database.SwapStatusRiskChecked, after.Status)
	require.True(t, after.DeadlineSubmitSource.Valid)
}

func TestEvaluateRiskReviewThenRejected(t *testing.T) {
	h := newHarness(t, database.RiskActionReview)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID))

	row := h.swaps.get(s.ID)
	require.NoError(t, h.engine.ResumeFromReview(ctx, row, false))
	require.Equal(t, database.SwapStatusRejected, h.swaps.get(s.ID).Status)
}

// ---- reverted confirms: reject vs refund --------------------------------

func TestConfirmSourceRevertedRejects(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> RiskChecked
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocking

	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeReverted}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusRejected, h.swaps.get(s.ID).Status)
}

func TestConfirmDestRevertedBeginsRefund(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> RiskChecked
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocking
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocked
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> DestIssuing

	h.nearAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeReverted}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusRefunding, h.swaps.get(s.ID).Status)
	require.Equal(t, 1, h.evmAdapter.submitCount("unlock"))

	// confirmRefund: confirmed -> Refunded
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusRefunded, h.swaps.get(s.ID).Status)
}

func TestConfirmRefundRevertedGoesManualRecovery(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	h.nearAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeReverted}
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> Refunding

	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeReverted}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.Equal(t, database.SwapStatusManualRecovery, h.swaps.get(s.ID).Status)
}

// ---- consistency mismatch (spec §7) -------------------------------------

func TestConfirmSourceConsistencyMismatchRejects(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.NoError(t, h.engine.Advance(ctx, s.ID))

	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{
		Outcome: chainadapter.OutcomeConfirmed, Recipient: "not-alice.near", Amount: "1.0",
	}
	err := h.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, ErrConsistencyMismatch)
	require.Equal(t, database.SwapStatusRejected, h.swaps.get(s.ID).Status)
}

func TestConfirmDestConsistencyMismatchRefunds(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.NoError(t, h.engine.Advance(ctx, s.ID))

	h.nearAdapter.confirmResult = chainadapter.ConfirmResult{
		Outcome: chainadapter.OutcomeConfirmed, Recipient: "alice.near", Amount: "999.0",
	}
	err := h.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, ErrConsistencyMismatch)
	require.Equal(t, database.SwapStatusRefunding, h.swaps.get(s.ID).Status)
}

// ---- Force* (Supervisor-driven) compensating transitions -----------------

func TestForceRejectFromRiskChecked(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> RiskChecked

	row := h.swaps.get(s.ID)
	require.NoError(t, h.engine.ForceReject(ctx, row))
	require.Equal(t, database.SwapStatusRejected, h.swaps.get(s.ID).Status)
}

func TestForceRefundFromSourceLocked(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> RiskChecked
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocking
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocked

	row := h.swaps.get(s.ID)
	require.NoError(t, h.engine.ForceRefund(ctx, row))
	require.Equal(t, database.SwapStatusRefunding, h.swaps.get(s.ID).Status)
}

func TestForceManualRecoveryFromRefunding(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	require.NoError(t, h.engine.Advance(ctx, s.ID))
	h.evmAdapter.confirmResult = chainadapter.ConfirmResult{Outcome: chainadapter.OutcomeConfirmed}
	require.NoError(t, h.engine.Advance(ctx, s.ID))

	row := h.swaps.get(s.ID)
	require.NoError(t, h.engine.ForceRefund(ctx, row)) // SourceLocked -> Refunding

	row = h.swaps.get(s.ID)
	require.NoError(t, h.engine.ForceManualRecovery(ctx, row))
	require.Equal(t, database.SwapStatusManualRecovery, h.swaps.get(s.ID).Status)
}

// ---- idempotent resubmission (spec §8 property 6) ------------------------

func TestSubmitSourceIsIdempotentAcrossRetries(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> RiskChecked
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> SourceLocking

	// A crash-and-retry of the submitSource step (e.g. the Supervisor
	// re-driving Advance after a restart) must not resubmit on-chain: the
	// state machine only calls submitSource while status == RiskChecked,
	// so re-entering it here exercises the adapter's own idempotency key
	// directly, the same guarantee submitSource depends on.
	adapter := h.evmAdapter
	first, err := adapter.Submit(ctx, chainadapter.SubmitRequest{SwapID: s.ID, Step: "lock", Amount: "1.0"})
	require.NoError(t, err)
	second, err := adapter.Submit(ctx, chainadapter.SubmitRequest{SwapID: s.ID, Step: "lock", Amount: "1.0"})
	require.NoError(t, err)
	require.Equal(t, first.TxRef, second.TxRef)
	// submitCalls records every call (the engine's own lock plus the two
	// above); all of them resolve to one idempotency entry.
	require.Len(t, adapter.idem, 1)
}

// ---- optimistic-concurrency guard ----------------------------------------

func TestTransitionFailsOnStatusMismatch(t *testing.T) {
	h := newHarness(t, database.RiskActionAllow)
	s := h.createSwap(t)
	ctx := context.Background()

	err := h.swaps.Transition(ctx, s.ID, &database.TransitionInput{
		ExpectedStatus: database.SwapStatusCompleted, // wrong: swap is Quoted
		NewStatus:      database.SwapStatusRejected,
	})
	require.ErrorIs(t, err, database.ErrStaleTransition)
	require.Equal(t, database.SwapStatusQuoted, h.swaps.get(s.ID).Status)
}

func TestAdvanceOnTerminalStatusReturnsInvalidTransition(t *testing.T) {
	h := newHarness(t, database.RiskActionBlock)
	s := h.createSwap(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Advance(ctx, s.ID)) // -> Rejected (terminal)

	err := h.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
