package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/webhooks"
)

// WebhookRepo persists subscriptions and the delivery log. The in-memory
// registry is hydrated from here at startup; writes go through both.
type WebhookRepo struct {
	db *sql.DB
}

func NewWebhookRepo(db *sql.DB) *WebhookRepo {
	return &WebhookRepo{db: db}
}

func (r *WebhookRepo) Create(ctx context.Context, e *core.WebhookEndpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_endpoints (id, org_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OrgID, e.URL, e.Secret, pq.Array(e.Events), e.Active, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting webhook endpoint: %w", err)
	}
	return nil
}

func (r *WebhookRepo) Delete(ctx context.Context, id, orgID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_endpoints WHERE id = $1 AND org_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting webhook endpoint: %w", err)
	}
	return requireRow(res, "webhook endpoint")
}

// SetFailureState mirrors the registry's failure accounting so disabled
// endpoints stay disabled across restarts.
func (r *WebhookRepo) SetFailureState(ctx context.Context, id string, failCount int, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_endpoints SET failure_count = $2, active = $3 WHERE id = $1`,
		id, failCount, active)
	if err != nil {
		return fmt.Errorf("updating webhook failure state: %w", err)
	}
	return nil
}

// LoadAll returns every stored subscription for registry hydration.
func (r *WebhookRepo) LoadAll(ctx context.Context) ([]*webhooks.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, url, secret, events, active, failure_count, created_at
		FROM webhook_endpoints`)
	if err != nil {
		return nil, fmt.Errorf("loading webhook endpoints: %w", err)
	}
	defer rows.Close()

	var subs []*webhooks.Subscription
	for rows.Next() {
		var sub webhooks.Subscription
		var events pq.StringArray
		if err := rows.Scan(&sub.ID, &sub.OrgID, &sub.URL, &sub.Secret,
			&events, &sub.Active, &sub.FailCount, &sub.CreatedAt); err != nil {
			return nil, err
		}
		for _, e := range events {
			sub.Events = append(sub.Events, webhooks.EventType(e))
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// RecordDelivery appends one attempt outcome to the delivery log.
func (r *WebhookRepo) RecordDelivery(ctx context.Context, rec webhooks.DeliveryRecord) error {
	id := rec.DeliveryID
	if id == "" {
		id = uuid.NewString()
	}
	at := rec.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	success := rec.Error == "" && rec.StatusCode >= 200 && rec.StatusCode < 300
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_id, event, status_code, success, attempts, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rec.SubscriptionID, string(rec.Event), rec.StatusCode,
		success, rec.Attempt, rec.Error, at)
	if err != nil {
		return fmt.Errorf("recording webhook delivery: %w", err)
	}
	return nil
}

// Deliveries returns the recent delivery log for one endpoint.
func (r *WebhookRepo) Deliveries(ctx context.Context, endpointID string, limit int) ([]map[string]interface{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event, status_code, success, attempts, error, created_at
		FROM webhook_deliveries WHERE endpoint_id = $1
		ORDER BY created_at DESC LIMIT $2`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var (
			id, event, errMsg    string
			statusCode, attempts int
			success              bool
			createdAt            time.Time
		)
		if err := rows.Scan(&id, &event, &statusCode, &success, &attempts, &errMsg, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]interface{}{
			"id":          id,
			"event":       event,
			"status_code": statusCode,
			"success":     success,
			"attempts":    attempts,
			"error":       errMsg,
			"created_at":  createdAt,
		})
	}
	return out, rows.Err()
}
