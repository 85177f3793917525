// Package relay mirrors job events into Redis streams so that processes
// other than the coordinator's can follow a job.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dusk-indust/testgen/internal/orchestrator"
)

// Defaults for RedisRelay.
const (
	DefaultTTL          = time.Hour
	DefaultMaxLen       = 10000
	DefaultWriteTimeout = 2 * time.Second
)

// Streamer is the subset of the Redis client the relay uses.
type Streamer interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRange(ctx context.Context, stream, start, stop string) *redis.XMessageSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Compile-time check.
var _ Streamer = (*redis.Client)(nil)

// StreamKey is the Redis stream holding a job's events.
func StreamKey(jobID string) string {
	return "testgen:job:" + jobID + ":events"
}

// entryID maps an event sequence number to its stream entry id. Using the
// sequence makes replays reject duplicates and lets readers resume by seq.
func entryID(seq uint64) string {
	return "0-" + strconv.FormatUint(seq, 10)
}

// RedisRelay appends each event of a job to the job's stream. The stream
// expires TTL after the terminal event.
type RedisRelay struct {
	client  Streamer
	ttl     time.Duration
	maxLen  int64
	timeout time.Duration
}

// Option configures a RedisRelay.
type Option func(*RedisRelay)

// WithTTL sets how long a stream is kept after the job's terminal event.
func WithTTL(d time.Duration) Option {
	return func(r *RedisRelay) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithMaxLen caps each stream at roughly n entries.
func WithMaxLen(n int64) Option {
	return func(r *RedisRelay) {
		if n > 0 {
			r.maxLen = n
		}
	}
}

// WithWriteTimeout bounds each Redis write made by a subscriber.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *RedisRelay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRedisRelay creates a relay writing through client.
func NewRedisRelay(client Streamer, opts ...Option) *RedisRelay {
	r := &RedisRelay{
		client:  client,
		ttl:     DefaultTTL,
		maxLen:  DefaultMaxLen,
		timeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish appends ev to its job's stream.
func (r *RedisRelay) Publish(ctx context.Context, ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: marshal event %d: %w", ev.Seq, err)
	}
	key := StreamKey(ev.JobID)
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		ID:     entryID(ev.Seq),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"seq":   ev.Seq,
			"kind":  string(ev.Kind),
			"event": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("relay: xadd %s: %w", key, err)
	}
	if ev.IsTerminal() {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("relay: expire %s: %w", key, err)
		}
	}
	return nil
}

// Subscriber returns an event callback for orchestrator.WithSubscriber.
// Write failures are logged; they never affect the job.
func (r *RedisRelay) Subscriber() func(orchestrator.Event) {
	return func(ev orchestrator.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Publish(ctx, ev); err != nil {
			log.Printf("relay: job %s seq %d: %v", ev.JobID, ev.Seq, err)
		}
	}
}

// Replay reads a job's relayed events with Seq >= from.
func (r *RedisRelay) Replay(ctx context.Context, jobID string, from uint64) ([]orchestrator.Event, error) {
	key := StreamKey(jobID)
	msgs, err := r.client.XRange(ctx, key, entryID(max(from, 1)), "+").Result()
	if err != nil {
		return nil, fmt.Errorf("relay: xrange %s: %w", key, err)
	}
	events := make([]orchestrator.Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			return nil, fmt.Errorf("relay: entry %s of %s has no event field", m.ID, key)
		}
		var ev orchestrator.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("relay: decode entry %s: %w", m.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
