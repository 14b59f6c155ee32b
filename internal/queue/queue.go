// Package queue is the Redis-backed ingestion queue. Raw scanner payloads
// are enqueued as envelopes and consumed by workers that parse, normalize,
// and apply them to the finding store. Failed envelopes retry with backoff
// up to a cap, then land in a dead letter set with the rejection reason.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	IngestQueue        = "secfuse:ingest:pending"
	IngestProcessing   = "secfuse:ingest:processing"
	IngestDeadLetter   = "secfuse:ingest:dead"
	WorkerHeartbeatKey = "secfuse:workers:heartbeat"

	maxAttempts = 3
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Queue struct {
	client *redis.Client
}

func New(cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Envelope wraps one raw scanner payload on its way through the queue.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Enqueue schedules a raw payload for ingestion. The queue is a sorted set
// scored by ready-time so retries with backoff reuse the same structure.
func (q *Queue) Enqueue(ctx context.Context, source string, payload []byte) (uuid.UUID, error) {
	env := Envelope{
		ID:         uuid.New(),
		Source:     source,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling envelope: %w", err)
	}

	if err := q.client.ZAdd(ctx, IngestQueue, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: string(data),
	}).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("enqueueing payload: %w", err)
	}

	return env.ID, nil
}

// Dequeue pops the next ready envelope, or nil when the queue is empty or
// only holds envelopes still waiting out their backoff.
func (q *Queue) Dequeue(ctx context.Context) (*Envelope, error) {
	now := float64(time.Now().Unix())

	results, err := q.client.ZRangeByScoreWithScores(ctx, IngestQueue, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("dequeuing: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	member := results[0].Member.(string)
	removed, err := q.client.ZRem(ctx, IngestQueue, member).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming envelope: %w", err)
	}
	if removed == 0 {
		// Another worker claimed it first.
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(member), &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	if err := q.client.SAdd(ctx, IngestProcessing, member).Err(); err != nil {
		return nil, fmt.Errorf("marking envelope processing: %w", err)
	}

	return &env, nil
}

// Ack removes a successfully processed envelope.
func (q *Queue) Ack(ctx context.Context, env *Envelope) error {
	data, _ := json.Marshal(env)
	return q.client.SRem(ctx, IngestProcessing, string(data)).Err()
}

// Nack retries a failed envelope with exponential backoff, or dead-letters it
// once the attempt cap is reached. Parse failures skip retry entirely: a
// payload that failed validation will fail it again.
func (q *Queue) Nack(ctx context.Context, env *Envelope, cause string, retryable bool) error {
	data, _ := json.Marshal(env)
	q.client.SRem(ctx, IngestProcessing, string(data))

	env.Attempts++
	env.LastError = cause

	if !retryable || env.Attempts >= maxAttempts {
		return q.deadLetter(ctx, env)
	}

	backoff := time.Duration(30<<(env.Attempts-1)) * time.Second
	retryData, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling retry envelope: %w", err)
	}
	if err := q.client.ZAdd(ctx, IngestQueue, redis.Z{
		Score:  float64(time.Now().Add(backoff).Unix()),
		Member: string(retryData),
	}).Err(); err != nil {
		return fmt.Errorf("requeueing envelope: %w", err)
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling dead letter: %w", err)
	}
	if err := q.client.SAdd(ctx, IngestDeadLetter, string(data)).Err(); err != nil {
		return fmt.Errorf("dead-lettering envelope: %w", err)
	}
	return nil
}

// DeadLetters returns the rejected envelopes for inspection.
func (q *Queue) DeadLetters(ctx context.Context) ([]Envelope, error) {
	members, err := q.client.SMembers(ctx, IngestDeadLetter).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	out := make([]Envelope, 0, len(members))
	for _, m := range members {
		var env Envelope
		if err := json.Unmarshal([]byte(m), &env); err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// Stats reports queue depths for the diagnostics endpoint.
func (q *Queue) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	pending, _ := q.client.ZCard(ctx, IngestQueue).Result()
	processing, _ := q.client.SCard(ctx, IngestProcessing).Result()
	dead, _ := q.client.SCard(ctx, IngestDeadLetter).Result()

	stats["pending"] = pending
	stats["processing"] = processing
	stats["dead_letter"] = dead

	return stats, nil
}

func (q *Queue) WorkerHeartbeat(ctx context.Context, workerID string) error {
	return q.client.HSet(ctx, WorkerHeartbeatKey, workerID, time.Now().Unix()).Err()
}

// ActiveWorkers returns workers that heartbeat within the timeout.
func (q *Queue) ActiveWorkers(ctx context.Context, timeout time.Duration) ([]string, error) {
	workers, err := q.client.HGetAll(ctx, WorkerHeartbeatKey).Result()
	if err != nil {
		return nil, fmt.Errorf("getting workers: %w", err)
	}

	var active []string
	cutoff := time.Now().Add(-timeout).Unix()

	for workerID, lastSeen := range workers {
		var ts int64
		_, _ = fmt.Sscanf(lastSeen, "%d", &ts)
		if ts > cutoff {
			active = append(active, workerID)
		}
	}

	return active, nil
}
