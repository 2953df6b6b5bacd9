package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/keyxmakerx/chronicle-activity/internal/activity/flatten"
)

// PendingOccurrence is a deferred occurrence waiting for a replay point.
// Fields are stored as the handler left them; replay skips the handler.
type PendingOccurrence struct {
	ID          string         `json:"id"`
	Group       string         `json:"group"`
	Slug        string         `json:"slug"`
	Fields      map[string]any `json:"fields,omitempty"`
	Overrides   map[string]any `json:"overrides,omitempty"`
	ObjectData  map[string]any `json:"object_data,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PendingQueue holds deferred occurrences per actor until they are replayed
// or expire.
type PendingQueue interface {
	// Push queues p for actor. A second push with the same fingerprint
	// before replay is discarded and reports false.
	Push(ctx context.Context, actor string, p PendingOccurrence) (bool, error)

	// Take removes and returns every queued occurrence for actor, oldest
	// first. Each entry is returned at most once.
	Take(ctx context.Context, actor string) ([]PendingOccurrence, error)
}

// fingerprint identifies an occurrence by definition and payload so a host
// that fires the same occurrence twice queues it once.
func fingerprint(group, slug string, fields, overrides map[string]any) string {
	sum := blake2b.Sum256([]byte(group + "/" + slug + flatten.Separator +
		flatten.Map(fields) + flatten.Separator + flatten.Map(overrides)))
	return hex.EncodeToString(sum[:16])
}

func newPending(group, slug string, fields, overrides, objectData map[string]any, now time.Time) PendingOccurrence {
	return PendingOccurrence{
		ID:          uuid.NewString(),
		Group:       group,
		Slug:        slug,
		Fields:      fields,
		Overrides:   overrides,
		ObjectData:  objectData,
		Fingerprint: fingerprint(group, slug, fields, overrides),
		CreatedAt:   now,
	}
}

// RedisPending stores pending occurrences in a Redis list per actor with a
// companion set of fingerprints. Both keys expire after the TTL, which is
// how abandoned occurrences are discarded.
type RedisPending struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPending creates a Redis-backed queue.
func NewRedisPending(rdb *redis.Client, ttl time.Duration) *RedisPending {
	return &RedisPending{rdb: rdb, ttl: ttl}
}

func pendingKey(actor string) string { return "activity:pending:" + actor }
func seenKey(actor string) string    { return "activity:pending:" + actor + ":seen" }

// Push implements PendingQueue. The fingerprint is released again when the
// entry cannot be queued, so a later identical occurrence is not dropped.
func (q *RedisPending) Push(ctx context.Context, actor string, p PendingOccurrence) (bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshaling pending occurrence: %w", err)
	}

	added, err := q.rdb.SAdd(ctx, seenKey(actor), p.Fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("recording pending fingerprint: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, pendingKey(actor), data)
		pipe.Expire(ctx, pendingKey(actor), q.ttl)
		pipe.Expire(ctx, seenKey(actor), q.ttl)
		return nil
	})
	if err != nil {
		q.rdb.SRem(context.WithoutCancel(ctx), seenKey(actor), p.Fingerprint)
		return false, fmt.Errorf("queueing pending occurrence: %w", err)
	}
	return true, nil
}

// Take implements PendingQueue. The read and the delete run in one MULTI so
// concurrent requests for the same actor cannot both replay an entry.
func (q *RedisPending) Take(ctx context.Context, actor string) ([]PendingOccurrence, error) {
	var lrange *redis.StringSliceCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, pendingKey(actor), 0, -1)
		pipe.Del(ctx, pendingKey(actor), seenKey(actor))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("taking pending occurrences: %w", err)
	}

	raw := lrange.Val()
	out := make([]PendingOccurrence, 0, len(raw))
	for _, item := range raw {
		var p PendingOccurrence
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			// A corrupt entry is skipped; the rest still replay.
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// MemoryPending is an in-process PendingQueue.
type MemoryPending struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string][]PendingOccurrence
}

// NewMemoryPending creates an in-memory queue whose entries expire after ttl.
// A zero ttl keeps entries until taken.
func NewMemoryPending(ttl time.Duration) *MemoryPending {
	return &MemoryPending{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string][]PendingOccurrence),
	}
}

// Push implements PendingQueue.
func (q *MemoryPending) Push(_ context.Context, actor string, p PendingOccurrence) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expire(actor)
	for _, existing := range q.items[actor] {
		if existing.Fingerprint == p.Fingerprint {
			return false, nil
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = q.now()
	}
	q.items[actor] = append(q.items[actor], p)
	return true, nil
}

// Take implements PendingQueue.
func (q *MemoryPending) Take(_ context.Context, actor string) ([]PendingOccurrence, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expire(actor)
	out := q.items[actor]
	delete(q.items, actor)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *MemoryPending) expire(actor string) {
	if q.ttl <= 0 {
		return
	}
	cutoff := q.now().Add(-q.ttl)
	kept := q.items[actor][:0]
	for _, p := range q.items[actor] {
		if !p.CreatedAt.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(q.items, actor)
		return
	}
	q.items[actor] = kept
}
