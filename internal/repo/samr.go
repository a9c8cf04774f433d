package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ventro/backend/internal/core"
)

type SAMRRepo struct {
	db *sql.DB
}

func NewSAMRRepo(db *sql.DB) *SAMRRepo {
	return &SAMRRepo{db: db}
}

func (r *SAMRRepo) SaveAlert(ctx context.Context, a *core.SAMRAlert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO samr_alerts (id, session_id, org_id, similarity, threshold, perturbed, interpretation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.SessionID, a.OrgID, a.Similarity, a.Threshold, a.Perturbed,
		a.Interpretation, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (r *SAMRRepo) AlertsByOrg(ctx context.Context, orgID string, limit, offset int) ([]core.SAMRAlert, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, org_id, similarity, threshold, perturbed, interpretation, created_at
		FROM samr_alerts WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []core.SAMRAlert
	for rows.Next() {
		var a core.SAMRAlert
		if err := rows.Scan(&a.ID, &a.SessionID, &a.OrgID, &a.Similarity,
			&a.Threshold, &a.Perturbed, &a.Interpretation, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *SAMRRepo) SaveFeedback(ctx context.Context, f *core.SAMRFeedback) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO samr_feedback (id, org_id, session_id, alert_raised, samr_triggered, correct, false_negative, similarity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.OrgID, f.SessionID, f.AlertRaised, f.SAMRTriggered, f.Correct,
		f.FalseNegative, f.Similarity, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

// RecentFeedback returns the newest feedback rows for an org, newest
// first. Feeds the adaptive threshold computation.
func (r *SAMRRepo) RecentFeedback(ctx context.Context, orgID string, limit int) ([]core.SAMRFeedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, session_id, alert_raised, samr_triggered, correct, false_negative, similarity, created_at
		FROM samr_feedback WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading feedback: %w", err)
	}
	defer rows.Close()

	var feedback []core.SAMRFeedback
	for rows.Next() {
		var f core.SAMRFeedback
		if err := rows.Scan(&f.ID, &f.OrgID, &f.SessionID, &f.AlertRaised,
			&f.SAMRTriggered, &f.Correct, &f.FalseNegative, &f.Similarity,
			&f.CreatedAt); err != nil {
			return nil, err
		}
		feedback = append(feedback, f)
	}
	return feedback, rows.Err()
}

// Analytics summarizes detector performance for an org over a window.
type Analytics struct {
	Alerts         int     `json:"alerts"`
	Feedback       int     `json:"feedback"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
}

func (r *SAMRRepo) AnalyticsByOrg(ctx context.Context, orgID string, since time.Time) (*Analytics, error) {
	var a Analytics
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM samr_alerts WHERE org_id = $1 AND created_at >= $2`,
		orgID, since).Scan(&a.Alerts)
	if err != nil {
		return nil, fmt.Errorf("counting alerts: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE alert_raised AND correct),
		       count(*) FILTER (WHERE alert_raised AND NOT correct),
		       count(*) FILTER (WHERE NOT alert_raised AND false_negative)
		FROM samr_feedback WHERE org_id = $1 AND created_at >= $2`,
		orgID, since).Scan(&a.Feedback, &a.TruePositives, &a.FalsePositives, &a.FalseNegatives)
	if err != nil {
		return nil, fmt.Errorf("summarizing feedback: %w", err)
	}

	if denom := a.TruePositives + a.FalsePositives; denom > 0 {
		a.Precision = float64(a.TruePositives) / float64(denom)
	}
	return &a, nil
}
