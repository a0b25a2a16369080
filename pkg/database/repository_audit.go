// Audit Record Repository - append-only writes, rejects updates

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRepository persists append-only AuditRecord rows (spec §3, §4.9:
// "Audit writes are append-only and go through a function that rejects
// updates"). There is deliberately no Update/Delete method on this type.
type AuditRepository struct {
	client *Client
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(client *Client) *AuditRepository {
	return &AuditRepository{client: client}
}

// Append writes a single audit record. There is no corresponding update path;
// corrections are modeled as a new record referencing the prior one via
// SubjectID/Action, never as a mutation.
func (r *AuditRepository) Append(ctx context.Context, rec *AuditRecord) error {
	rec.ID = uuid.New()
	rec.At = time.Now()

	query := `
		INSERT INTO audit_records (id, actor, action, subject_kind, subject_id, before, after, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := r.client.ExecContext(ctx, query,
		rec.ID, rec.Actor, rec.Action, rec.SubjectKind, rec.SubjectID, rec.Before, rec.After, rec.At)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListBySubject returns the audit trail for one subject, oldest first.
func (r *AuditRepository) ListBySubject(ctx context.Context, subjectKind, subjectID string) ([]*AuditRecord, error) {
	query := `
		SELECT id, actor, action, subject_kind, subject_id, before, after, at
		FROM audit_records WHERE subject_kind = $1 AND subject_id = $2 ORDER BY at ASC`

	rows, err := r.client.QueryContext(ctx, query, subjectKind, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.SubjectKind, &rec.SubjectID,
			&rec.Before, &rec.After, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
