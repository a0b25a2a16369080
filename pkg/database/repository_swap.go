// Swap Repository - CRUD and transactional state transitions for swaps

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SwapRepository handles swap aggregate persistence (C10, spec §4.9).
type SwapRepository struct {
	client *Client
}

// NewSwapRepository creates a new swap repository.
func NewSwapRepository(client *Client) *SwapRepository {
	return &SwapRepository{client: client}
}

// Create inserts a new Swap in the Initialized state.
func (r *SwapRepository) Create(ctx context.Context, input *NewSwapInput) (*Swap, error) {
	swap := &Swap{
		ID:            uuid.New(),
		UserID:        input.UserID,
		SourceChain:   input.SourceChain,
		DestChain:     input.DestChain,
		SourceAsset:   input.SourceAsset,
		DestAsset:     input.DestAsset,
		AmountIn:      input.AmountIn,
		RecipientAddr: input.RecipientAddr,
		Status:        SwapStatusInitialized,
		RiskFactors:   []byte("[]"),
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	query := `
		INSERT INTO swaps (
			id, user_id, source_chain, dest_chain, source_asset, dest_asset,
			amount_in, recipient_address, status, risk_factors, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err := r.client.QueryRowContext(ctx, query,
		swap.ID, swap.UserID, swap.SourceChain, swap.DestChain, swap.SourceAsset, swap.DestAsset,
		swap.AmountIn, swap.RecipientAddr, swap.Status, swap.RiskFactors, swap.CreatedAt, swap.UpdatedAt,
	).Scan(&swap.ID, &swap.CreatedAt, &swap.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to create swap: %w", err)
	}

	return swap, nil
}

const swapColumns = `id, user_id, source_chain, dest_chain, source_asset, dest_asset,
	amount_in, amount_out, recipient_address, quote_id, quantum_key_id, risk_score,
	risk_factors, status, source_tx_ref, dest_tx_ref, encrypted_payload,
	created_at, updated_at, completed_at,
	deadline_submit_source, deadline_source_confirm, deadline_submit_dest,
	deadline_dest_confirm, deadline_review`

func scanSwap(row interface{ Scan(...interface{}) error }) (*Swap, error) {
	s := &Swap{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.SourceChain, &s.DestChain, &s.SourceAsset, &s.DestAsset,
		&s.AmountIn, &s.AmountOut, &s.RecipientAddr, &s.QuoteID, &s.QuantumKeyID, &s.RiskScore,
		&s.RiskFactors, &s.Status, &s.SourceTxRef, &s.DestTxRef, &s.EncryptedPayload,
		&s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
		&s.DeadlineSubmitSource, &s.DeadlineSourceConfirm, &s.DeadlineSubmitDest,
		&s.DeadlineDestConfirm, &s.DeadlineReview,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get retrieves a swap by ID.
func (r *SwapRepository) Get(ctx context.Context, id uuid.UUID) (*Swap, error) {
	query := "SELECT " + swapColumns + " FROM swaps WHERE id = $1"
	swap, err := scanSwap(r.client.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == ErrSwapNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return swap, nil
}

// ListOpen returns every swap not in a terminal state, for Supervisor rehydration
// on process restart (spec §4.6 "rehydrates all open swaps from persistence").
func (r *SwapRepository) ListOpen(ctx context.Context) ([]*Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE status NOT IN ($1, $2, $3, $4) ORDER BY created_at ASC`
	rows, err := r.client.QueryContext(ctx, query,
		SwapStatusCompleted, SwapStatusRejected, SwapStatusRefunded, SwapStatusManualRecovery)
	if err != nil {
		return nil, fmt.Errorf("failed to query open swaps: %w", err)
	}
	defer rows.Close()

	var swaps []*Swap
	for rows.Next() {
		s, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		swaps = append(swaps, s)
	}
	return swaps, rows.Err()
}

// TransitionInput describes an atomic state-machine transition: the expected
// current status (optimistic-concurrency guard), the new status, and the
// side-effect fields to persist in the same statement (spec §4.9 "all
// state-machine transitions are persisted in the same transaction as their
// side-effect row").
type TransitionInput struct {
	ExpectedStatus SwapStatus
	NewStatus      SwapStatus
	QuoteID        *uuid.UUID
	QuantumKeyID   *uuid.UUID
	RiskScore      *float64
	RiskFactors    []byte
	SourceTxRef    *string
	DestTxRef      *string
	AmountOut      *string
	EncryptedPayload []byte
	Deadlines      map[string]time.Time
	MarkCompleted  bool
}

// Transition applies a single state-machine transition guarded by an
// optimistic-concurrency check on the current status (modeling the spec's
// `SELECT ... FOR UPDATE` row-lock requirement via a conditional UPDATE).
func (r *SwapRepository) Transition(ctx context.Context, id uuid.UUID, in *TransitionInput) error {
	sets := []string{"status = $2", "updated_at = $3"}
	args := []interface{}{id, in.NewStatus, time.Now()}
	n := 3

	addArg := func(col string, val interface{}) {
		n++
		sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
		args = append(args, val)
	}

	if in.QuoteID != nil {
		addArg("quote_id", *in.QuoteID)
	}
	if in.QuantumKeyID != nil {
		addArg("quantum_key_id", *in.QuantumKeyID)
	}
	if in.RiskScore != nil {
		addArg("risk_score", *in.RiskScore)
	}
	if in.RiskFactors != nil {
		addArg("risk_factors", in.RiskFactors)
	}
	if in.SourceTxRef != nil {
		addArg("source_tx_ref", *in.SourceTxRef)
	}
	if in.DestTxRef != nil {
		addArg("dest_tx_ref", *in.DestTxRef)
	}
	if in.AmountOut != nil {
		addArg("amount_out", *in.AmountOut)
	}
	if in.EncryptedPayload != nil {
		addArg("encrypted_payload", in.EncryptedPayload)
	}
	if in.MarkCompleted {
		addArg("completed_at", time.Now())
	}
	for col, ts := range in.Deadlines {
		addArg(col, ts)
	}

	n++
	args = append(args, id)
	idPos := n
	n++
	args = append(args, in.ExpectedStatus)
	expectedPos := n

	query := fmt.Sprintf(
		"UPDATE swaps SET %s WHERE id = $%d AND status = $%d",
		joinSets(sets), idPos, expectedPos,
	)

	result, err := r.client.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition swap: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrStaleTransition
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// MarshalRiskFactors is a small helper so callers don't each reimplement
// json.Marshal for the ordered factor-tag list (spec §3 "RiskDecision.reasons").
func MarshalRiskFactors(factors []string) []byte {
	b, err := json.Marshal(factors)
	if err != nil {
		return []byte("[]")
	}
	return b
}
