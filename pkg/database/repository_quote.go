// Quote Repository - immutable quote storage

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuoteRepository persists Quote rows (spec §3 "Quote": immutable once issued).
type QuoteRepository struct {
	client *Client
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(client *Client) *QuoteRepository {
	return &QuoteRepository{client: client}
}

// Create inserts an immutable Quote.
func (r *QuoteRepository) Create(ctx context.Context, q *Quote) error {
	q.ID = uuid.New()
	q.CreatedAt = time.Now()

	query := `
		INSERT INTO quotes (
			id, pair, amount_in, amount_out, exchange_rate,
			fee_base_bps, fee_gas_bps, fee_protocol_bps, fee_slippage_bps,
			price_impact, max_slippage_bps, provider_mix, high_volatility,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err := r.client.ExecContext(ctx, query,
		q.ID, q.Pair, q.AmountIn, q.AmountOut, q.ExchangeRate,
		q.FeeBase, q.FeeGas, q.FeeProtocol, q.FeeSlippage,
		q.PriceImpact, q.MaxSlippageBps, q.ProviderMix, q.HighVolatility,
		q.CreatedAt, q.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	return nil
}

// Get retrieves a quote by ID. Callers MUST re-check Quote.ExpiresAt at swap
// execution time (spec §4.3 "expiry is re-checked at swap execution time, not
// only at issuance") — Get never filters on expiry itself.
func (r *QuoteRepository) Get(ctx context.Context, id uuid.UUID) (*Quote, error) {
	query := `
		SELECT id, pair, amount_in, amount_out, exchange_rate,
			fee_base_bps, fee_gas_bps, fee_protocol_bps, fee_slippage_bps,
			price_impact, max_slippage_bps, provider_mix, high_volatility,
			created_at, expires_at
		FROM quotes WHERE id = $1`

	q := &Quote{}
	err := r.client.QueryRowContext(ctx, query, id).Scan(
		&q.ID, &q.Pair, &q.AmountIn, &q.AmountOut, &q.ExchangeRate,
		&q.FeeBase, &q.FeeGas, &q.FeeProtocol, &q.FeeSlippage,
		&q.PriceImpact, &q.MaxSlippageBps, &q.ProviderMix, &q.HighVolatility,
		&q.CreatedAt, &q.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return q, nil
}
