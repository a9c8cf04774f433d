package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ventro/backend/internal/audit"
	"github.com/ventro/backend/internal/core"
)

// AuditRepo persists the hash-chained audit trail. Appends take a
// per-org advisory lock so PrevHash linkage survives concurrent writers.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) AppendEvent(ctx context.Context, e *core.AuditEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Serialize appends within the org. The lock releases on commit.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, "audit:"+e.OrgID); err != nil {
		return fmt.Errorf("acquiring org audit lock: %w", err)
	}

	prev := audit.GenesisHash
	err = tx.QueryRowContext(ctx, `
		SELECT row_hash FROM audit_events
		WHERE org_id = $1 ORDER BY id DESC LIMIT 1`, e.OrgID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading chain head: %w", err)
	}

	e.PrevHash = prev
	e.RowHash = audit.RowHash(e)

	err = tx.QueryRowContext(ctx, `
		INSERT INTO audit_events (action, user_id, org_id, resource_type, resource_id, details, prev_hash, row_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		e.Action, e.UserID, e.OrgID, e.ResourceType, e.ResourceID,
		e.Details, e.PrevHash, e.RowHash, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}

	return tx.Commit()
}

func (r *AuditRepo) LastHash(ctx context.Context, orgID string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT row_hash FROM audit_events
		WHERE org_id = $1 ORDER BY id DESC LIMIT 1`, orgID).Scan(&hash)
	if err == sql.ErrNoRows {
		return audit.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading chain head: %w", err)
	}
	return hash, nil
}

// EventsByOrg returns events in chain order (id ascending).
func (r *AuditRepo) EventsByOrg(ctx context.Context, orgID string, limit, offset int) ([]core.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, user_id, org_id, resource_type, resource_id, details, prev_hash, row_hash, created_at
		FROM audit_events WHERE org_id = $1
		ORDER BY id LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []core.AuditEvent
	for rows.Next() {
		var e core.AuditEvent
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &e.OrgID, &e.ResourceType,
			&e.ResourceID, &e.Details, &e.PrevHash, &e.RowHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
