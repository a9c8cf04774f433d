package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidatesSubscription(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Subscription{OrgID: "org-1", Events: []EventType{EventTestPing}})
	assert.Error(t, err, "missing URL")

	err = r.Register(&Subscription{OrgID: "org-1", URL: "https://example.com/hook"})
	assert.Error(t, err, "no events")

	err = r.Register(&Subscription{
		OrgID: "org-1", URL: "https://example.com/hook",
		Events: []EventType{"no.such.event"},
	})
	assert.Error(t, err, "unknown event type")
}

func TestRegisterAssignsIDAndActivates(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{
		OrgID: "org-1", URL: "https://example.com/hook",
		Events: []EventType{EventReconciliationCompleted},
	}
	require.NoError(t, r.Register(sub))

	assert.NotEmpty(t, sub.ID)
	assert.True(t, sub.Active)
	assert.False(t, sub.CreatedAt.IsZero())

	got, ok := r.Get(sub.ID)
	require.True(t, ok)
	assert.Same(t, sub, got)
}

func TestSubscribersScopedByEventAndOrg(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Subscription{
		ID: "a", OrgID: "org-1", URL: "https://a.example.com",
		Events: []EventType{EventReconciliationCompleted, EventSessionFailed},
	}))
	require.NoError(t, r.Register(&Subscription{
		ID: "b", OrgID: "org-2", URL: "https://b.example.com",
		Events: []EventType{EventReconciliationCompleted},
	}))

	subs := r.Subscribers(EventReconciliationCompleted, "org-1")
	require.Len(t, subs, 1)
	assert.Equal(t, "a", subs[0].ID)

	assert.Empty(t, r.Subscribers(EventFindingDiscrepancy, "org-1"))
	assert.Len(t, r.Subscribers(EventReconciliationCompleted, "org-2"), 1)
}

func TestUnregisterRemovesFromEventIndex(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Subscription{
		ID: "a", OrgID: "org-1", URL: "https://a.example.com",
		Events: []EventType{EventSessionFailed},
	}))

	require.NoError(t, r.Unregister("a"))
	assert.Empty(t, r.Subscribers(EventSessionFailed, "org-1"))

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Error(t, r.Unregister("a"), "second removal must fail")
}

func TestMarkFailedDisablesAfterTenFailures(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Subscription{
		ID: "a", OrgID: "org-1", URL: "https://a.example.com",
		Events: []EventType{EventSessionFailed},
	}))

	for i := 0; i < 9; i++ {
		r.MarkFailed("a")
	}
	assert.Len(t, r.Subscribers(EventSessionFailed, "org-1"), 1, "nine failures keep it live")

	// A delivery in between resets the strike count.
	r.MarkDelivered("a")
	for i := 0; i < 10; i++ {
		r.MarkFailed("a")
	}
	assert.Empty(t, r.Subscribers(EventSessionFailed, "org-1"))
}

func TestSignPayloadIsDeterministic(t *testing.T) {
	sig := SignPayload([]byte(`{"type":"test.ping"}`), "secret")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, SignPayload([]byte(`{"type":"test.ping"}`), "secret"))
	assert.NotEqual(t, sig, SignPayload([]byte(`{"type":"test.ping"}`), "other"))
}
