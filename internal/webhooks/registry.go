package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the outbound notification events.
type EventType string

const (
	EventReconciliationCompleted EventType = "reconciliation.completed"
	EventFindingDiscrepancy      EventType = "finding.discrepancy"
	EventSessionFailed           EventType = "session.failed"
	EventUserCreated             EventType = "user.created"
	EventUserRoleChanged         EventType = "user.role_changed"
	EventTestPing                EventType = "test.ping"
)

// ValidEvent reports whether a subscription may name this event.
func ValidEvent(e EventType) bool {
	switch e {
	case EventReconciliationCompleted, EventFindingDiscrepancy,
		EventSessionFailed, EventUserCreated, EventUserRoleChanged,
		EventTestPing:
		return true
	}
	return false
}

// Subscription is a registered endpoint scoped to one organization.
type Subscription struct {
	ID        string      `json:"id"`
	OrgID     string      `json:"org_id"`
	URL       string      `json:"url"`
	Events    []EventType `json:"events"`
	Secret    string      `json:"-"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	FailCount int         `json:"fail_count"`
}

// Event is the payload posted to subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	OrgID     string                 `json:"org_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Registry stores subscriptions in memory, indexed by event type. It is
// hydrated from the repository at startup and kept in sync by the API
// handlers.
type Registry struct {
	mu      sync.RWMutex
	hooks   map[string]*Subscription
	byEvent map[EventType][]*Subscription
	logger  *log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		hooks:   make(map[string]*Subscription),
		byEvent: make(map[EventType][]*Subscription),
		logger:  log.New(log.Writer(), "[WEBHOOKS] ", log.LstdFlags),
	}
}

// Register adds a subscription.
func (r *Registry) Register(sub *Subscription) error {
	if sub.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if len(sub.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, evt := range sub.Events {
		if !ValidEvent(evt) {
			return fmt.Errorf("unknown event type %q", evt)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	sub.Active = true
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.FailCount = 0

	r.hooks[sub.ID] = sub
	for _, evt := range sub.Events {
		r.byEvent[evt] = append(r.byEvent[evt], sub)
	}

	r.logger.Printf("registered webhook %s -> %s (events: %v)", sub.ID, sub.URL, sub.Events)
	return nil
}

// Unregister removes a subscription.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %s not found", id)
	}
	delete(r.hooks, id)

	for _, evt := range sub.Events {
		filtered := r.byEvent[evt][:0]
		for _, s := range r.byEvent[evt] {
			if s.ID != id {
				filtered = append(filtered, s)
			}
		}
		r.byEvent[evt] = filtered
	}

	r.logger.Printf("unregistered webhook %s", id)
	return nil
}

// Get returns one subscription by id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.hooks[id]
	return sub, ok
}

// Subscribers returns the active subscriptions of orgID for an event.
func (r *Registry) Subscribers(eventType EventType, orgID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*Subscription
	for _, sub := range r.byEvent[eventType] {
		if sub.Active && sub.OrgID == orgID {
			active = append(active, sub)
		}
	}
	return active
}

// ListByOrg returns every subscription of one organization.
func (r *Registry) ListByOrg(orgID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Subscription
	for _, sub := range r.hooks {
		if sub.OrgID == orgID {
			result = append(result, sub)
		}
	}
	return result
}

// MarkFailed increments the failure count and disables the endpoint
// after 10 consecutive failed deliveries.
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.hooks[id]
	if !ok {
		return
	}
	sub.FailCount++
	if sub.FailCount >= 10 {
		sub.Active = false
		r.logger.Printf("webhook %s disabled after %d failures", id, sub.FailCount)
	}
}

// MarkDelivered resets the failure counter.
func (r *Registry) MarkDelivered(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.hooks[id]; ok {
		sub.FailCount = 0
	}
}

// SignPayload creates the HMAC-SHA256 signature receivers verify.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
