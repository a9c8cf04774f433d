// Package audit implements the append-only, hash-chained audit trail.
// Each row commits to its predecessor, so any retroactive edit breaks
// every subsequent hash in that organization's chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ventro/backend/internal/core"
)

// GenesisHash anchors the first row of every organization's chain.
const GenesisHash = ""

// RowHash computes the chained digest for one event. Field order is part
// of the format and must never change.
func RowHash(e *core.AuditEvent) string {
	var b strings.Builder
	b.WriteString(e.Action)
	b.WriteString("|")
	b.WriteString(e.UserID)
	b.WriteString("|")
	b.WriteString(e.OrgID)
	b.WriteString("|")
	b.WriteString(e.ResourceType)
	b.WriteString("|")
	b.WriteString(e.ResourceID)
	b.WriteString("|")
	b.WriteString(e.Details)
	b.WriteString("|")
	b.WriteString(e.PrevHash)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Store is the persistence surface the recorder needs. The Postgres
// implementation serializes appends per org with a row lock so PrevHash
// linkage survives concurrent writers.
type Store interface {
	AppendEvent(ctx context.Context, e *core.AuditEvent) error
	LastHash(ctx context.Context, orgID string) (string, error)
	EventsByOrg(ctx context.Context, orgID string, limit, offset int) ([]core.AuditEvent, error)
}

// Recorder writes audit events. A failed append is an error the caller
// must handle: a state change that cannot be audited must not proceed
// silently.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one event to the caller's org chain. details is
// serialized to canonical JSON for hashing.
func (r *Recorder) Record(ctx context.Context, action, userID, orgID, resourceType, resourceID string, details map[string]interface{}) error {
	detailsJSON := "{}"
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			detailsJSON = string(raw)
		}
	}
	e := &core.AuditEvent{
		Action:       action,
		UserID:       userID,
		OrgID:        orgID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      detailsJSON,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.AppendEvent(ctx, e); err != nil {
		slog.Error("audit append failed", "action", action, "org_id", orgID, "error", err)
		return core.Wrap(core.KindFatal, "recording audit event", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain walk.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	Checked    int    `json:"checked"`
	BrokenAtID int64  `json:"broken_at_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyChain recomputes every row hash in order and checks linkage.
// events must be sorted by id ascending and belong to one org.
func VerifyChain(events []core.AuditEvent) VerifyResult {
	prev := GenesisHash
	for i := range events {
		e := &events[i]
		if e.PrevHash != prev {
			return VerifyResult{
				Checked:    i,
				BrokenAtID: e.ID,
				Reason:     "prev_hash does not match preceding row",
			}
		}
		if RowHash(e) != e.RowHash {
			return VerifyResult{
				Checked:    i,
				BrokenAtID: e.ID,
				Reason:     "row_hash does not match recomputed digest",
			}
		}
		prev = e.RowHash
	}
	return VerifyResult{Valid: true, Checked: len(events)}
}

// Verify walks the full stored chain for an org.
func Verify(ctx context.Context, store Store, orgID string) (VerifyResult, error) {
	const page = 500
	prev := GenesisHash
	checked := 0
	for offset := 0; ; offset += page {
		events, err := store.EventsByOrg(ctx, orgID, page, offset)
		if err != nil {
			return VerifyResult{}, err
		}
		if len(events) == 0 {
			break
		}
		for i := range events {
			e := &events[i]
			if e.PrevHash != prev || RowHash(e) != e.RowHash {
				return VerifyResult{
					Checked:    checked,
					BrokenAtID: e.ID,
					Reason:     "chain linkage broken",
				}, nil
			}
			prev = e.RowHash
			checked++
		}
		if len(events) < page {
			break
		}
	}
	return VerifyResult{Valid: true, Checked: checked}, nil
}
