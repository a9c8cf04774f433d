// Package progress streams pipeline stage updates to clients. Workers
// publish over Redis Pub/Sub; the API side replays a short buffer to
// late subscribers and then forwards live events over WebSocket.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "pipeline:"
	bufferPrefix  = "ventro:progress:buffer:"
	bufferTTL     = 30 * time.Minute
	bufferMax     = 200
)

// Event is one progress update. Terminal events (done, error) end the
// stream for the session.
type Event struct {
	SessionID string  `json:"session_id"`
	Type      string  `json:"type"` // progress | done | error
	Stage     string  `json:"stage,omitempty"`
	Message   string  `json:"message,omitempty"`
	Progress  float64 `json:"progress"` // 0..1
	Timestamp int64   `json:"timestamp"`
}

func (e Event) Terminal() bool { return e.Type == "done" || e.Type == "error" }

func channelFor(sessionID string) string { return channelPrefix + sessionID }

// Publisher emits events from pipeline workers.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish fans the event out to live subscribers and appends it to the
// replay buffer. Publish failures are logged; progress is best-effort
// and never fails the pipeline.
func (p *Publisher) Publish(ctx context.Context, e Event) {
	e.Timestamp = time.Now().UnixMilli()
	raw, err := json.Marshal(e)
	if err != nil {
		slog.Error("marshaling progress event", "error", err)
		return
	}

	bufKey := bufferPrefix + e.SessionID
	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, bufKey, raw)
	pipe.LTrim(ctx, bufKey, -bufferMax, -1)
	pipe.Expire(ctx, bufKey, bufferTTL)
	pipe.Publish(ctx, channelFor(e.SessionID), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("progress publish failed", "session_id", e.SessionID, "error", err)
	}
}

// Stage is a convenience wrapper for non-terminal updates.
func (p *Publisher) Stage(ctx context.Context, sessionID, stage, message string, fraction float64) {
	p.Publish(ctx, Event{
		SessionID: sessionID,
		Type:      "progress",
		Stage:     stage,
		Message:   message,
		Progress:  fraction,
	})
}

// Done marks the session stream complete.
func (p *Publisher) Done(ctx context.Context, sessionID, message string) {
	p.Publish(ctx, Event{SessionID: sessionID, Type: "done", Message: message, Progress: 1})
}

// Error terminates the session stream with a failure.
func (p *Publisher) Error(ctx context.Context, sessionID, message string) {
	p.Publish(ctx, Event{SessionID: sessionID, Type: "error", Message: message})
}

// Subscriber attaches to a session's stream on the API side.
type Subscriber struct {
	rdb *redis.Client
}

func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Replay returns the buffered events for a session in publish order.
func (s *Subscriber) Replay(ctx context.Context, sessionID string) ([]Event, error) {
	raws, err := s.rdb.LRange(ctx, bufferPrefix+sessionID, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reading progress buffer: %w", err)
	}
	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			events = append(events, e)
		}
	}
	return events, nil
}

// Listen subscribes to live events for a session until ctx ends or a
// terminal event arrives. Returns an unsubscribe func and the event
// channel; the channel closes after the terminal event.
func (s *Subscriber) Listen(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	sub := s.rdb.Subscribe(ctx, channelFor(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", channelFor(sessionID), err)
	}

	out := make(chan Event, 32)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
			if e.Terminal() {
				return
			}
		}
	}()

	return out, func() { sub.Close() }, nil
}
