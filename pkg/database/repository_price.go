// Price Observation Repository - TTL-based cache, optimistic concurrency

package database

import (
	"context"
	"fmt"
	"time"
)

// PriceRepository persists the price cache keyed by (pair, provider); TTL
// expiry is evaluated on read, never stored as a boolean flag (spec §4.9).
type PriceRepository struct {
	client *Client
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(client *Client) *PriceRepository {
	return &PriceRepository{client: client}
}

// Upsert writes or refreshes a provider observation. Uses optimistic
// concurrency keyed on (pair, provider, observed_at): a stale write (older
// observed_at than what is already stored) is a no-op (spec §5 "the Price
// cache ... updates use optimistic concurrency keyed on (pair, provider,
// observed_at)").
func (r *PriceRepository) Upsert(ctx context.Context, obs *PriceObservation) error {
	query := `
		INSERT INTO price_observations (pair, provider, price, confidence, observed_at, ttl_seconds)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (pair, provider) DO UPDATE SET
			price = EXCLUDED.price,
			confidence = EXCLUDED.confidence,
			observed_at = EXCLUDED.observed_at,
			ttl_seconds = EXCLUDED.ttl_seconds
		WHERE price_observations.observed_at < EXCLUDED.observed_at`

	_, err := r.client.ExecContext(ctx, query,
		obs.Pair, obs.Provider, obs.Price, obs.Confidence, obs.Timestamp, int64(obs.TTL.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to upsert price observation: %w", err)
	}
	return nil
}

// ListFresh returns non-stale observations for a pair — those whose
// observed_at + ttl has not yet elapsed as of now.
func (r *PriceRepository) ListFresh(ctx context.Context, pair string, now time.Time) ([]*PriceObservation, error) {
	query := `
		SELECT pair, provider, price, confidence, observed_at, ttl_seconds
		FROM price_observations
		WHERE pair = $1 AND observed_at + (ttl_seconds || ' seconds')::interval > $2`

	rows, err := r.client.QueryContext(ctx, query, pair, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query price observations: %w", err)
	}
	defer rows.Close()

	var out []*PriceObservation
	for rows.Next() {
		obs := &PriceObservation{}
		var ttlSeconds int64
		if err := rows.Scan(&obs.Pair, &obs.Provider, &obs.Price, &obs.Confidence, &obs.Timestamp, &ttlSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan price observation: %w", err)
		}
		obs.TTL = time.Duration(ttlSeconds) * time.Second
		out = append(out, obs)
	}
	return out, rows.Err()
}
