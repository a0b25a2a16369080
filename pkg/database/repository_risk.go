// Risk Decision and Review Entry Repositories (C6 persistence, spec §4.4)

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskRepository persists RiskDecision and ReviewEntry rows.
type RiskRepository struct {
	client *Client
}

// NewRiskRepository creates a new risk repository.
func NewRiskRepository(client *Client) *RiskRepository {
	return &RiskRepository{client: client}
}

// CreateDecision appends a new RiskDecision row. Written once per swap attempt;
// later re-evaluations append new rows but the first gates execution (spec §3).
func (r *RiskRepository) CreateDecision(ctx context.Context, d *RiskDecision) error {
	d.ID = uuid.New()
	d.DecidedAt = time.Now()

	query := `
		INSERT INTO risk_decisions (id, swap_id, score, level, action, reasons, analyzer_version, decided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.client.ExecContext(ctx, query,
		d.ID, d.SwapID, d.Score, d.Level, d.Action, d.Reasons, d.AnalyzerVersion, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to record risk decision: %w", err)
	}
	return nil
}

// FirstDecision returns the earliest RiskDecision for a swap — the one that
// gated execution (spec §3 "the first one gates execution").
func (r *RiskRepository) FirstDecision(ctx context.Context, swapID uuid.UUID) (*RiskDecision, error) {
	query := `
		SELECT id, swap_id, score, level, action, reasons, analyzer_version, decided_at
		FROM risk_decisions WHERE swap_id = $1 ORDER BY decided_at ASC LIMIT 1`

	d := &RiskDecision{}
	err := r.client.QueryRowContext(ctx, query, swapID).Scan(
		&d.ID, &d.SwapID, &d.Score, &d.Level, &d.Action, &d.Reasons, &d.AnalyzerVersion, &d.DecidedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRiskDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk decision: %w", err)
	}
	return d, nil
}

// CreateReview enqueues a ReviewEntry for a swap paused in RiskReview.
func (r *RiskRepository) CreateReview(ctx context.Context, swapID uuid.UUID, slaDeadline time.Time) (*ReviewEntry, error) {
	entry := &ReviewEntry{
		ID:          uuid.New(),
		SwapID:      swapID,
		State:       ReviewStatePending,
		CreatedAt:   time.Now(),
		SLADeadline: slaDeadline,
		UpdatedAt:   time.Now(),
	}

	query := `
		INSERT INTO review_entries (id, swap_id, state, created_at, sla_deadline, updated_at, approval_count)
		VALUES ($1,$2,$3,$4,$5,$6,0)`

	_, err := r.client.ExecContext(ctx, query,
		entry.ID, entry.SwapID, entry.State, entry.CreatedAt, entry.SLADeadline, entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create review entry: %w", err)
	}
	return entry, nil
}

// GetReviewBySwap retrieves the (most recent) review entry for a swap.
func (r *RiskRepository) GetReviewBySwap(ctx context.Context, swapID uuid.UUID) (*ReviewEntry, error) {
	query := `
		SELECT id, swap_id, state, assignee, decision, reason, created_at, sla_deadline, updated_at, approval_count
		FROM review_entries WHERE swap_id = $1 ORDER BY created_at DESC LIMIT 1`

	e := &ReviewEntry{}
	err := r.client.QueryRowContext(ctx, query, swapID).Scan(
		&e.ID, &e.SwapID, &e.State, &e.Assignee, &e.Decision, &e.Reason,
		&e.CreatedAt, &e.SLADeadline, &e.UpdatedAt, &e.ApprovalCount)
	if err == sql.ErrNoRows {
		return nil, ErrReviewEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review entry: %w", err)
	}
	return e, nil
}

// RecordApproval increments the quorum counter for a two-of-N admin override
// (spec §4.4) and returns the updated count.
func (r *RiskRepository) RecordApproval(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	query := `UPDATE review_entries SET approval_count = approval_count + 1, updated_at = $2
		WHERE id = $1 RETURNING approval_count`
	err := r.client.QueryRowContext(ctx, query, id, time.Now()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to record approval: %w", err)
	}
	return count, nil
}

// Resolve sets the terminal state of a review (approved/rejected/expired).
func (r *RiskRepository) Resolve(ctx context.Context, id uuid.UUID, state ReviewState, assignee, decision, reason string) error {
	query := `
		UPDATE review_entries
		SET state = $2, assignee = $3, decision = $4, reason = $5, updated_at = $6
		WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, id, state, assignee, decision, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to resolve review entry: %w", err)
	}
	return nil
}

// ListExpiredReviews finds pending reviews past their SLA deadline, for the
// Supervisor's deadline sweep (spec §4.6, "review ≤ 24h").
func (r *RiskRepository) ListExpiredReviews(ctx context.Context, asOf time.Time) ([]*ReviewEntry, error) {
	query := `
		SELECT id, swap_id, state, assignee, decision, reason, created_at, sla_deadline, updated_at, approval_count
		FROM review_entries WHERE state = $1 AND sla_deadline < $2`

	rows, err := r.client.QueryContext(ctx, query, ReviewStatePending, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reviews: %w", err)
	}
	defer rows.Close()

	var out []*ReviewEntry
	for rows.Next() {
		e := &ReviewEntry{}
		if err := rows.Scan(&e.ID, &e.SwapID, &e.State, &e.Assignee, &e.Decision, &e.Reason,
			&e.CreatedAt, &e.SLADeadline, &e.UpdatedAt, &e.ApprovalCount); err != nil {
			return nil, fmt.Errorf("failed to scan review entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
