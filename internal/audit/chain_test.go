package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

type stubStore struct {
	appendErr error
	appended  []*core.AuditEvent
}

func (s *stubStore) AppendEvent(_ context.Context, e *core.AuditEvent) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, e)
	return nil
}

func (s *stubStore) LastHash(context.Context, string) (string, error) { return GenesisHash, nil }

func (s *stubStore) EventsByOrg(context.Context, string, int, int) ([]core.AuditEvent, error) {
	return nil, nil
}

func TestRecordPropagatesAppendFailure(t *testing.T) {
	store := &stubStore{appendErr: errors.New("connection reset")}
	rec := NewRecorder(store)

	err := rec.Record(context.Background(), "document.uploaded", "user-1", "org-1", "document", "doc-1", nil)
	require.Error(t, err, "a state change that cannot be audited must not succeed silently")

	store.appendErr = nil
	err = rec.Record(context.Background(), "document.uploaded", "user-1", "org-1", "document", "doc-1",
		map[string]interface{}{"content_hash": "abc"})
	require.NoError(t, err)
	require.Len(t, store.appended, 1)
	assert.Contains(t, store.appended[0].Details, "content_hash")
}

// buildChain links n well-formed events the way the Postgres store does.
func buildChain(n int) []core.AuditEvent {
	events := make([]core.AuditEvent, n)
	prev := GenesisHash
	for i := range events {
		e := &events[i]
		e.ID = int64(i + 1)
		e.Action = "document.uploaded"
		e.UserID = "user-1"
		e.OrgID = "org-1"
		e.ResourceType = "document"
		e.ResourceID = "doc-1"
		e.Details = `{"seq":` + string(rune('0'+i)) + `}`
		e.PrevHash = prev
		e.RowHash = RowHash(e)
		e.CreatedAt = time.Now().UTC()
		prev = e.RowHash
	}
	return events
}

func TestVerifyChainAcceptsIntactChain(t *testing.T) {
	events := buildChain(5)
	result := VerifyChain(events)

	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.Checked)
	assert.Zero(t, result.BrokenAtID)
}

func TestVerifyChainEmptyIsValid(t *testing.T) {
	assert.True(t, VerifyChain(nil).Valid)
}

func TestVerifyChainDetectsEditedDetails(t *testing.T) {
	events := buildChain(5)
	// A retroactive edit to any field changes the recomputed digest.
	events[2].Details = `{"seq":2,"amount":"999.99"}`

	result := VerifyChain(events)
	require.False(t, result.Valid)
	assert.Equal(t, int64(3), result.BrokenAtID)
	assert.Equal(t, 2, result.Checked)
	assert.Contains(t, result.Reason, "row_hash")
}

func TestVerifyChainDetectsDeletedRow(t *testing.T) {
	events := buildChain(5)
	// Removing a middle row breaks the successor's prev_hash linkage.
	spliced := append(events[:2:2], events[3:]...)

	result := VerifyChain(spliced)
	require.False(t, result.Valid)
	assert.Equal(t, int64(4), result.BrokenAtID)
	assert.Contains(t, result.Reason, "prev_hash")
}

func TestVerifyChainDetectsRecomputedForgery(t *testing.T) {
	events := buildChain(5)
	// An attacker who edits a row and fixes its own hash still breaks the
	// next row's prev_hash, because it commits to the original digest.
	events[1].Details = `{"forged":true}`
	events[1].RowHash = RowHash(&events[1])

	result := VerifyChain(events)
	require.False(t, result.Valid)
	assert.Equal(t, int64(3), result.BrokenAtID)
}

func TestRowHashIsOrderSensitive(t *testing.T) {
	a := &core.AuditEvent{Action: "x", UserID: "ab", OrgID: "c"}
	b := &core.AuditEvent{Action: "x", UserID: "a", OrgID: "bc"}
	assert.NotEqual(t, RowHash(a), RowHash(b), "field boundaries must be part of the digest")
}
