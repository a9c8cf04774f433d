package webhooks

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Backoff schedule per attempt, in seconds. Four attempts total.
var retryBackoff = []time.Duration{0, 1 * time.Second, 4 * time.Second, 16 * time.Second}

// DeliveryRecord is handed to the delivery logger after every attempt,
// successful or not, so the repository can keep a complete delivery log.
type DeliveryRecord struct {
	DeliveryID     string
	SubscriptionID string
	OrgID          string
	Event          EventType
	Attempt        int
	StatusCode     int
	Error          string
	Timestamp      time.Time
}

// Dispatcher delivers events to registered subscribers from a background
// worker pool. Emit never blocks the caller; a full queue drops with a log
// line rather than stalling the pipeline.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup
	onDelivery func(DeliveryRecord)
}

type deliveryJob struct {
	subscriber *Subscription
	event      *Event
	payload    []byte
	attempt    int
}

// NewDispatcher starts the worker pool. onDelivery may be nil.
func NewDispatcher(registry *Registry, workers, queueSize int, timeout time.Duration, onDelivery func(DeliveryRecord)) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	d := &Dispatcher{
		registry:   registry,
		httpClient: &http.Client{Timeout: timeout},
		queue:      make(chan *deliveryJob, queueSize),
		logger:     log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		onDelivery: onDelivery,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit queues an event for every matching subscriber in the org.
func (d *Dispatcher) Emit(eventType EventType, orgID string, data map[string]interface{}) {
	subscribers := d.registry.Subscribers(eventType, orgID)
	if len(subscribers) == 0 {
		return
	}

	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		OrgID:     orgID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Printf("failed to marshal event %s: %v", eventType, err)
		return
	}

	for _, sub := range subscribers {
		select {
		case d.queue <- &deliveryJob{subscriber: sub, event: event, payload: payload, attempt: 1}:
		default:
			d.logger.Printf("queue full, dropping event %s for %s", event.ID, sub.ID)
		}
	}
}

// EmitTest sends a test.ping directly to one subscription, bypassing the
// event index, for the admin "test this endpoint" action.
func (d *Dispatcher) EmitTest(sub *Subscription) {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      EventTestPing,
		OrgID:     sub.OrgID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"message": "ping"},
	}
	payload, _ := json.Marshal(event)
	select {
	case d.queue <- &deliveryJob{subscriber: sub, event: event, payload: payload, attempt: 1}:
	default:
		d.logger.Printf("queue full, dropping test ping for %s", sub.ID)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		if wait := backoffFor(job.attempt); wait > 0 {
			time.Sleep(wait)
		}
		d.deliver(job)
	}
}

func backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 || idx >= len(retryBackoff) {
		return retryBackoff[len(retryBackoff)-1]
	}
	return retryBackoff[idx]
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	deliveryID := uuid.NewString()

	req, err := http.NewRequest(http.MethodPost, job.subscriber.URL, bytes.NewReader(job.payload))
	if err != nil {
		d.record(job, deliveryID, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ventro-Event", string(job.event.Type))
	req.Header.Set("X-Ventro-Delivery", deliveryID)
	if job.subscriber.Secret != "" {
		req.Header.Set("X-Ventro-Signature", "sha256="+SignPayload(job.payload, job.subscriber.Secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Printf("delivery failed: %s -> %v (attempt %d)", job.subscriber.URL, err, job.attempt)
		d.record(job, deliveryID, 0, err)
		d.retry(job)
		return
	}
	resp.Body.Close()

	d.record(job, deliveryID, resp.StatusCode, nil)
	if resp.StatusCode >= 400 {
		d.logger.Printf("endpoint returned %d: %s (%s, attempt %d)", resp.StatusCode, job.subscriber.URL, job.event.Type, job.attempt)
		d.retry(job)
		return
	}

	d.registry.MarkDelivered(job.subscriber.ID)
	d.logger.Printf("delivered %s -> %s (%s)", job.event.Type, job.subscriber.URL, job.event.ID)
}

func (d *Dispatcher) retry(job *deliveryJob) {
	d.registry.MarkFailed(job.subscriber.ID)
	if job.attempt >= len(retryBackoff) {
		return
	}
	job.attempt++
	select {
	case d.queue <- job:
	default:
		d.logger.Printf("queue full, abandoning retry for event %s", job.event.ID)
	}
}

func (d *Dispatcher) record(job *deliveryJob, deliveryID string, status int, err error) {
	if d.onDelivery == nil {
		return
	}
	rec := DeliveryRecord{
		DeliveryID:     deliveryID,
		SubscriptionID: job.subscriber.ID,
		OrgID:          job.subscriber.OrgID,
		Event:          job.event.Type,
		Attempt:        job.attempt,
		StatusCode:     status,
		Timestamp:      time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	d.onDelivery(rec)
}

// Shutdown drains the queue and stops the workers.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
