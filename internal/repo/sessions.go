package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ventro/backend/internal/core"
)

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, org_id, document_ids, state, iterations, error_count,
	verdict, created_by, created_at, updated_at`

func (r *SessionRepo) Create(ctx context.Context, s *core.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.OrgID, pq.Array(s.DocumentIDs), s.State, s.Iterations,
		s.ErrorCount, s.Verdict, s.CreatedBy, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (r *SessionRepo) ByID(ctx context.Context, id string) (*core.Session, error) {
	var s core.Session
	var docIDs pq.StringArray
	err := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id).Scan(
		&s.ID, &s.OrgID, &docIDs, &s.State, &s.Iterations, &s.ErrorCount,
		&s.Verdict, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, core.E(core.KindNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	s.DocumentIDs = docIDs
	return &s, nil
}

func (r *SessionRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int) ([]core.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []core.Session
	for rows.Next() {
		var s core.Session
		var docIDs pq.StringArray
		if err := rows.Scan(&s.ID, &s.OrgID, &docIDs, &s.State, &s.Iterations,
			&s.ErrorCount, &s.Verdict, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.DocumentIDs = docIDs
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepo) UpdateSession(ctx context.Context, s *core.Session) error {
	s.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET state = $2, iterations = $3, error_count = $4,
			verdict = $5, updated_at = $6
		WHERE id = $1`,
		s.ID, s.State, s.Iterations, s.ErrorCount, s.Verdict, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return requireRow(res, "session")
}

// ===== Extraction results =====

func (r *SessionRepo) SaveExtractionResults(ctx context.Context, sessionID string, results []core.ExtractionResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range results {
		payload, err := json.Marshal(&results[i])
		if err != nil {
			return fmt.Errorf("encoding extraction result: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO extraction_results (session_id, document_id, payload)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id, document_id) DO UPDATE SET payload = $3`,
			sessionID, results[i].DocumentID, payload); err != nil {
			return fmt.Errorf("inserting extraction result: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SessionRepo) ExtractionResults(ctx context.Context, sessionID string) ([]core.ExtractionResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM extraction_results WHERE session_id = $1
		ORDER BY document_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading extraction results: %w", err)
	}
	defer rows.Close()

	var results []core.ExtractionResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var res core.ExtractionResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("decoding extraction result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ===== Findings =====

func (r *SessionRepo) SaveFindings(ctx context.Context, sessionID string, findings []core.Finding) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range findings {
		f := &findings[i]
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		var details []byte
		if f.Details != nil {
			if details, err = json.Marshal(f.Details); err != nil {
				return fmt.Errorf("encoding finding details: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO findings (id, session_id, finding_type, severity, description, expected, actual, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			f.ID, sessionID, f.Type, f.Severity, f.Description, f.Expected, f.Actual, details); err != nil {
			return fmt.Errorf("inserting finding: %w", err)
		}
	}
	return tx.Commit()
}

func (r *SessionRepo) Findings(ctx context.Context, sessionID string) ([]core.Finding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, finding_type, severity, description, expected, actual, details
		FROM findings WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}
	defer rows.Close()

	var findings []core.Finding
	for rows.Next() {
		var f core.Finding
		var details []byte
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Type, &f.Severity,
			&f.Description, &f.Expected, &f.Actual, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &f.Details); err != nil {
				return nil, fmt.Errorf("decoding finding details: %w", err)
			}
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// ===== Workpapers =====

func (r *SessionRepo) SaveWorkpaper(ctx context.Context, sessionID string, html []byte, hash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workpapers (session_id, html, content_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET html = $2, content_hash = $3, created_at = now()`,
		sessionID, html, hash)
	if err != nil {
		return fmt.Errorf("saving workpaper: %w", err)
	}
	return nil
}

// Workpaper returns the rendered report and its content hash.
func (r *SessionRepo) Workpaper(ctx context.Context, sessionID string) ([]byte, string, error) {
	var html []byte
	var hash string
	err := r.db.QueryRowContext(ctx, `
		SELECT html, content_hash FROM workpapers WHERE session_id = $1`,
		sessionID).Scan(&html, &hash)
	if err == sql.ErrNoRows {
		return nil, "", core.E(core.KindNotFound, "workpaper not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading workpaper: %w", err)
	}
	return html, hash, nil
}
