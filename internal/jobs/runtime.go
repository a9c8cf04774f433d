// Package jobs is the durable background task runtime. Tasks are queued
// in Redis and acknowledged late: a worker moves the task into its
// processing list before running it and only removes it on completion,
// so a crashed worker's tasks are reclaimed and re-run. Delivery is
// at-least-once; handlers must tolerate replays.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ventro/backend/internal/core"
)

const (
	queueKey      = "ventro:jobs:queue"
	processingFmt = "ventro:jobs:processing:%s"
	delayedKey    = "ventro:jobs:delayed"
	deadKey       = "ventro:jobs:dead"
	chordFmt      = "ventro:jobs:chord:%s"

	// Tasks stuck in a processing list longer than this are assumed
	// orphaned by a dead worker and reclaimed.
	staleAfter = 10 * time.Minute
)

// Task is the queue envelope.
type Task struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	ChordID    string          `json:"chord_id,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler executes one task type. The context carries the soft deadline;
// a handler that overruns it should return a partial result and stop.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Config mirrors the jobs section of the service configuration.
type Config struct {
	Concurrency    int
	MaxRetries     int
	RetryBackoff   time.Duration
	SoftTimeLimit  time.Duration
	HardTimeLimit  time.Duration
	TasksPerWorker int
}

// Runtime runs workers against the shared queue.
type Runtime struct {
	rdb      *redis.Client
	cfg      Config
	logger   *log.Logger
	handlers map[string]Handler

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewRuntime(rdb *redis.Client, cfg Config) *Runtime {
	return &Runtime{
		rdb:      rdb,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
		handlers: make(map[string]Handler),
		stop:     make(chan struct{}),
	}
}

// Register binds a handler to a task type. Must be called before Start.
func (r *Runtime) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Enqueue pushes a task onto the queue.
func (r *Runtime) Enqueue(ctx context.Context, taskType string, payload interface{}) (string, error) {
	return r.enqueueTask(ctx, taskType, payload, "")
}

func (r *Runtime) enqueueTask(ctx context.Context, taskType string, payload interface{}, chordID string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding task payload: %w", err)
	}
	task := Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Payload:    raw,
		Attempt:    1,
		ChordID:    chordID,
		EnqueuedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	if err := r.rdb.LPush(ctx, queueKey, encoded).Err(); err != nil {
		return "", fmt.Errorf("enqueueing task: %w", err)
	}
	return task.ID, nil
}

// ChordMember is one task in a chord group.
type ChordMember struct {
	Type    string
	Payload interface{}
}

// EnqueueChord queues a group of tasks plus a callback that runs once
// after every group member has completed (successfully or after its
// retries are exhausted).
func (r *Runtime) EnqueueChord(ctx context.Context, group []ChordMember, callbackType string, callbackPayload interface{}) (string, error) {
	chordID := uuid.NewString()
	key := fmt.Sprintf(chordFmt, chordID)

	cbRaw, err := json.Marshal(callbackPayload)
	if err != nil {
		return "", fmt.Errorf("encoding chord callback: %w", err)
	}
	cb := Task{ID: uuid.NewString(), Type: callbackType, Payload: cbRaw, Attempt: 1}
	cbEncoded, _ := json.Marshal(cb)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, "pending", len(group), "callback", cbEncoded)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("initializing chord: %w", err)
	}

	for _, member := range group {
		if _, err := r.enqueueTask(ctx, member.Type, member.Payload, chordID); err != nil {
			return "", err
		}
	}
	return chordID, nil
}

// Start launches the worker pool plus the delayed-task promoter and the
// orphan reaper. It returns immediately.
func (r *Runtime) Start() {
	for i := 0; i < r.cfg.Concurrency; i++ {
		r.spawnWorker(i)
	}
	r.wg.Add(2)
	go r.promoteDelayed()
	go r.reapStale()
	r.logger.Printf("runtime started with %d workers", r.cfg.Concurrency)
}

// Stop shuts the pool down and waits for in-flight tasks.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stop)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// spawnWorker starts a worker goroutine that recycles itself after
// processing its task budget, bounding any slow leak in handler code.
func (r *Runtime) spawnWorker(slot int) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		processed := 0
		procKey := fmt.Sprintf(processingFmt, fmt.Sprintf("%d-%s", slot, uuid.NewString()[:8]))

		for {
			select {
			case <-r.stop:
				return
			default:
			}

			if processed >= r.cfg.TasksPerWorker {
				r.logger.Printf("worker %d recycling after %d tasks", slot, processed)
				r.mu.Lock()
				stopped := r.stopped
				r.mu.Unlock()
				if !stopped {
					r.spawnWorker(slot)
				}
				return
			}

			// Prefetch 1: claim a single task, run it to completion, ack.
			ctx := context.Background()
			encoded, err := r.rdb.BLMove(ctx, queueKey, procKey, "RIGHT", "LEFT", 2*time.Second).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				r.logger.Printf("queue poll failed: %v", err)
				time.Sleep(time.Second)
				continue
			}

			var task Task
			if err := json.Unmarshal([]byte(encoded), &task); err != nil {
				r.logger.Printf("dropping malformed task: %v", err)
				r.rdb.LRem(ctx, procKey, 1, encoded)
				continue
			}

			r.runTask(ctx, &task)
			// Late ack: the task leaves the processing list only after
			// the handler returned (or was given up on).
			r.rdb.LRem(ctx, procKey, 1, encoded)
			processed++
		}
	}()
}

// runTask enforces the soft and hard time limits around the handler.
func (r *Runtime) runTask(ctx context.Context, task *Task) {
	handler, ok := r.handlers[task.Type]
	if !ok {
		r.logger.Printf("no handler for task type %q, dead-lettering %s", task.Type, task.ID)
		r.deadLetter(ctx, task, "no handler registered")
		return
	}

	softCtx, cancel := context.WithTimeout(ctx, r.cfg.SoftTimeLimit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("handler panicked: %v", p)
			}
		}()
		done <- handler(softCtx, task.Payload)
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(r.cfg.HardTimeLimit):
		// The handler ignored its soft deadline; abandon it.
		err = core.E(core.KindTransient, "hard time limit exceeded")
	}

	if err == nil {
		r.finishChordMember(ctx, task)
		return
	}

	if core.IsRetryable(err) && task.Attempt < r.cfg.MaxRetries {
		task.Attempt++
		delay := time.Duration(task.Attempt-1) * r.cfg.RetryBackoff
		r.logger.Printf("task %s (%s) failed transiently, retry %d in %s: %v",
			task.ID, task.Type, task.Attempt, delay, err)
		encoded, _ := json.Marshal(task)
		if zerr := r.rdb.ZAdd(ctx, delayedKey, redis.Z{
			Score:  float64(time.Now().Add(delay).Unix()),
			Member: encoded,
		}).Err(); zerr != nil {
			r.logger.Printf("scheduling retry failed: %v", zerr)
		}
		return
	}

	r.logger.Printf("task %s (%s) failed permanently: %v", task.ID, task.Type, err)
	r.deadLetter(ctx, task, err.Error())
	// A permanently failed member still counts toward the chord so the
	// callback can report partial completion instead of hanging forever.
	r.finishChordMember(ctx, task)
}

func (r *Runtime) deadLetter(ctx context.Context, task *Task, reason string) {
	record, _ := json.Marshal(map[string]interface{}{
		"task":      task,
		"reason":    reason,
		"failed_at": time.Now().UTC(),
	})
	if err := r.rdb.LPush(ctx, deadKey, record).Err(); err != nil {
		r.logger.Printf("dead-letter write failed: %v", err)
	}
}

// finishChordMember decrements the chord counter and fires the callback
// when the last member finishes.
func (r *Runtime) finishChordMember(ctx context.Context, task *Task) {
	if task.ChordID == "" {
		return
	}
	key := fmt.Sprintf(chordFmt, task.ChordID)
	remaining, err := r.rdb.HIncrBy(ctx, key, "pending", -1).Result()
	if err != nil {
		r.logger.Printf("chord decrement failed for %s: %v", task.ChordID, err)
		return
	}
	if remaining > 0 {
		return
	}

	encoded, err := r.rdb.HGet(ctx, key, "callback").Result()
	if err != nil {
		r.logger.Printf("chord callback fetch failed for %s: %v", task.ChordID, err)
		return
	}
	if err := r.rdb.LPush(ctx, queueKey, encoded).Err(); err != nil {
		r.logger.Printf("chord callback enqueue failed for %s: %v", task.ChordID, err)
		return
	}
	r.rdb.Del(ctx, key)
}

// promoteDelayed moves due retries back onto the main queue.
func (r *Runtime) promoteDelayed() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		now := strconv.FormatInt(time.Now().Unix(), 10)
		due, err := r.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil || len(due) == 0 {
			continue
		}
		for _, encoded := range due {
			if removed, _ := r.rdb.ZRem(ctx, delayedKey, encoded).Result(); removed == 0 {
				continue // another instance promoted it first
			}
			r.rdb.LPush(ctx, queueKey, encoded)
		}
	}
}

// reapStale requeues tasks orphaned in dead workers' processing lists.
func (r *Runtime) reapStale() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		keys, err := r.rdb.Keys(ctx, fmt.Sprintf(processingFmt, "*")).Result()
		if err != nil {
			continue
		}
		for _, key := range keys {
			entries, err := r.rdb.LRange(ctx, key, 0, -1).Result()
			if err != nil {
				continue
			}
			for _, encoded := range entries {
				var task Task
				if json.Unmarshal([]byte(encoded), &task) != nil {
					r.rdb.LRem(ctx, key, 1, encoded)
					continue
				}
				if time.Since(task.EnqueuedAt) < staleAfter {
					continue
				}
				if removed, _ := r.rdb.LRem(ctx, key, 1, encoded).Result(); removed > 0 {
					r.logger.Printf("reclaiming orphaned task %s (%s)", task.ID, task.Type)
					r.rdb.LPush(ctx, queueKey, encoded)
				}
			}
		}
	}
}
