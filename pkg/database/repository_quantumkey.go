// Quantum Key Repository - per-user key lifecycle (C4 persistence, spec §4.2)

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QuantumKeyRepository persists QuantumKey rows.
type QuantumKeyRepository struct {
	client *Client
}

// NewQuantumKeyRepository creates a new quantum key repository.
func NewQuantumKeyRepository(client *Client) *QuantumKeyRepository {
	return &QuantumKeyRepository{client: client}
}

// Create inserts a new active key. The unique partial index
// quantum_keys_one_active_per_purpose enforces "one active per user per
// purpose" at the storage layer (spec §4.2); a violation surfaces as a
// constraint error which callers translate per spec §7 "Persistence:
// constraint violation (fatal)".
func (r *QuantumKeyRepository) Create(ctx context.Context, k *QuantumKey) error {
	k.ID = uuid.New()
	k.CreatedAt = time.Now()

	query := `
		INSERT INTO quantum_keys (
			id, user_id, algorithm, purpose, public_key, private_key_sealed,
			metadata, created_at, expires_at, active, usage_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := r.client.ExecContext(ctx, query,
		k.ID, k.UserID, k.Algorithm, k.Purpose, k.PublicKey, k.PrivateKeySealed,
		k.Metadata, k.CreatedAt, k.ExpiresAt, k.Active, k.UsageCount)
	if err != nil {
		return fmt.Errorf("failed to create quantum key: %w", err)
	}
	return nil
}

// GetActive returns the current active key for a user+purpose.
func (r *QuantumKeyRepository) GetActive(ctx context.Context, userID uuid.UUID, purpose QuantumKeyPurpose) (*QuantumKey, error) {
	query := `
		SELECT id, user_id, algorithm, purpose, public_key, private_key_sealed,
			metadata, created_at, expires_at, active, usage_count
		FROM quantum_keys WHERE user_id = $1 AND purpose = $2 AND active = true`

	k := &QuantumKey{}
	err := r.client.QueryRowContext(ctx, query, userID, purpose).Scan(
		&k.ID, &k.UserID, &k.Algorithm, &k.Purpose, &k.PublicKey, &k.PrivateKeySealed,
		&k.Metadata, &k.CreatedAt, &k.ExpiresAt, &k.Active, &k.UsageCount)
	if err == sql.ErrNoRows {
		return nil, ErrQuantumKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active quantum key: %w", err)
	}
	return k, nil
}

// Resolve retrieves a key by ID regardless of active state (spec §4.2
// "resolve_by_id"); rotated-out keys remain resolvable while referenced by an
// open Swap.
func (r *QuantumKeyRepository) Resolve(ctx context.Context, id uuid.UUID) (*QuantumKey, error) {
	query := `
		SELECT id, user_id, algorithm, purpose, public_key, private_key_sealed,
			metadata, created_at, expires_at, active, usage_count
		FROM quantum_keys WHERE id = $1`

	k := &QuantumKey{}
	err := r.client.QueryRowContext(ctx, query, id).Scan(
		&k.ID, &k.UserID, &k.Algorithm, &k.Purpose, &k.PublicKey, &k.PrivateKeySealed,
		&k.Metadata, &k.CreatedAt, &k.ExpiresAt, &k.Active, &k.UsageCount)
	if err == sql.ErrNoRows {
		return nil, ErrQuantumKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve quantum key: %w", err)
	}
	return k, nil
}

// Rotate atomically deactivates the old key and activates the new one in a
// single transaction (spec §4.2 "atomically flip active=true for new,
// active=false for old in a single transaction"). The old key row is
// retained, never deleted.
func (r *QuantumKeyRepository) Rotate(ctx context.Context, oldID uuid.UUID, newKey *QuantumKey) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rotation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Tx().ExecContext(ctx, `UPDATE quantum_keys SET active = false WHERE id = $1`, oldID); err != nil {
		return fmt.Errorf("failed to deactivate old key: %w", err)
	}

	newKey.ID = uuid.New()
	newKey.CreatedAt = time.Now()
	newKey.Active = true
	_, err = tx.Tx().ExecContext(ctx, `
		INSERT INTO quantum_keys (
			id, user_id, algorithm, purpose, public_key, private_key_sealed,
			metadata, created_at, expires_at, active, usage_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		newKey.ID, newKey.UserID, newKey.Algorithm, newKey.Purpose, newKey.PublicKey, newKey.PrivateKeySealed,
		newKey.Metadata, newKey.CreatedAt, newKey.ExpiresAt, newKey.Active, newKey.UsageCount)
	if err != nil {
		return fmt.Errorf("failed to insert rotated key: %w", err)
	}

	return tx.Commit()
}

// ReferenceCount returns the number of swaps still referencing a key that is
// not in a terminal state — used to gate physical cleanup of a deactivated
// key (spec §4.2 "retain old key until no open Swap references it").
func (r *QuantumKeyRepository) ReferenceCount(ctx context.Context, keyID uuid.UUID) (int, error) {
	query := `
		SELECT count(*) FROM swaps
		WHERE quantum_key_id = $1 AND status NOT IN ($2, $3, $4, $5)`
	var count int
	err := r.client.QueryRowContext(ctx, query, keyID,
		SwapStatusCompleted, SwapStatusRejected, SwapStatusRefunded, SwapStatusManualRecovery).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count key references: %w", err)
	}
	return count, nil
}

// IncrementUsage bumps the per-key operation counter.
func (r *QuantumKeyRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	_, err := r.client.ExecContext(ctx, `UPDATE quantum_keys SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment key usage: %w", err)
	}
	return nil
}
