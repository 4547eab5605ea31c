package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/nvandessel/defsim/internal/experiment"
)

// Queue errors.
var (
	// ErrNoWork is returned by Next when no chunk is pending.
	ErrNoWork = errors.New("no pending chunk")

	// ErrIncomplete is returned by Collect, together with the partial
	// result, while some chunks of a batch have not reported back.
	ErrIncomplete = errors.New("batch incomplete")

	// ErrUnknownBatch is returned for a batch id the queue has never seen
	// or has already expired.
	ErrUnknownBatch = errors.New("unknown batch")
)

// Queue distributes chunks to workers through Redis. Pending chunk keys
// sit in one list shared by all batches; chunk bodies and per-batch
// results live under their own keys. A handed-out key moves atomically to
// a processing list and stays there, with its claim time, until the chunk
// completes or is requeued, so a worker that dies mid-chunk loses nothing.
type Queue struct {
	client       *backend.Client
	prefix       string
	ttl          time.Duration
	wait         time.Duration
	claimTimeout time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix sets the key prefix. The default is "defsim:".
func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		q.prefix = prefix
	}
}

// WithTTL expires batch keys after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		q.ttl = ttl
	}
}

// WithWait makes Next block up to wait for a chunk before returning
// ErrNoWork.
func WithWait(wait time.Duration) Option {
	return func(q *Queue) {
		q.wait = wait
	}
}

// WithClaimTimeout makes Next first return chunks claimed longer than d
// ago to the pending list. Zero disables reclaiming.
func WithClaimTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.claimTimeout = d
	}
}

// NewQueue connects to the Redis server at addr.
func NewQueue(addr, password string, db int, opts ...Option) *Queue {
	rdb := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewQueueFromClient(rdb, opts...)
}

// NewQueueFromClient wraps an existing client.
func NewQueueFromClient(client *backend.Client, opts ...Option) *Queue {
	q := &Queue{
		client: client,
		prefix: "defsim:",
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Ping checks the connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) pendingKey() string {
	return q.prefix + "pending"
}

func (q *Queue) processingKey() string {
	return q.prefix + "processing"
}

func (q *Queue) claimsKey() string {
	return q.prefix + "claims"
}

func (q *Queue) chunkKey(key string) string {
	return q.prefix + "chunk:" + key
}

func (q *Queue) batchKey(batchID string) string {
	return q.prefix + "batch:" + batchID
}

func (q *Queue) resultsKey(batchID string) string {
	return q.prefix + "results:" + batchID
}

// Submit stores the chunks and queues them. All chunks must belong to the
// same batch.
func (q *Queue) Submit(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batchID := chunks[0].BatchID

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.batchKey(batchID),
		"total", len(chunks),
		"submitted_at", time.Now().UTC().Format(time.RFC3339))
	for i := range chunks {
		c := &chunks[i]
		if c.BatchID != batchID {
			return fmt.Errorf("chunk %s does not belong to batch %s", c.Key(), batchID)
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk %s: %w", c.Key(), err)
		}
		pipe.Set(ctx, q.chunkKey(c.Key()), data, q.ttl)
		pipe.RPush(ctx, q.pendingKey(), c.Key())
	}
	if q.ttl > 0 {
		pipe.Expire(ctx, q.batchKey(batchID), q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to submit batch %s: %w", batchID, err)
	}
	return nil
}

// Next claims the oldest pending chunk. Keys whose body has expired are
// dropped.
func (q *Queue) Next(ctx context.Context) (*Chunk, error) {
	if q.claimTimeout > 0 {
		if _, err := q.ReclaimStale(ctx, q.claimTimeout); err != nil {
			return nil, err
		}
	}
	for {
		key, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		data, err := q.client.Get(ctx, q.chunkKey(key)).Bytes()
		if err == backend.Nil {
			if err := q.release(ctx, key); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %s: %w", key, err)
		}
		var c Chunk
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk %s: %w", key, err)
		}
		return &c, nil
	}
}

// claim moves the head of the pending list to the processing list and
// stamps the claim time.
func (q *Queue) claim(ctx context.Context) (string, error) {
	var (
		key string
		err error
	)
	if q.wait <= 0 {
		key, err = q.client.LMove(ctx, q.pendingKey(), q.processingKey(), "LEFT", "RIGHT").Result()
	} else {
		key, err = q.client.BLMove(ctx, q.pendingKey(), q.processingKey(), "LEFT", "RIGHT", q.wait).Result()
	}
	if err == backend.Nil {
		return "", ErrNoWork
	}
	if err != nil {
		return "", fmt.Errorf("failed to claim chunk: %w", err)
	}
	if err := q.client.HSet(ctx, q.claimsKey(), key, time.Now().Unix()).Err(); err != nil {
		return "", fmt.Errorf("failed to stamp claim of %s: %w", key, err)
	}
	return key, nil
}

// release forgets the claim on key without requeueing it.
func (q *Queue) release(ctx context.Context, key string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, key)
	pipe.HDel(ctx, q.claimsKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to release chunk %s: %w", key, err)
	}
	return nil
}

// Requeue puts a chunk back at the front of the pending list, e.g. when a
// worker is stopped half-way through it.
func (q *Queue) Requeue(ctx context.Context, c *Chunk) error {
	if err := q.requeue(ctx, c.Key()); err != nil {
		return fmt.Errorf("failed to requeue chunk %s: %w", c.Key(), err)
	}
	return nil
}

func (q *Queue) requeue(ctx context.Context, key string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, key)
	pipe.HDel(ctx, q.claimsKey(), key)
	pipe.LPush(ctx, q.pendingKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

// ReclaimStale requeues every chunk claimed at least olderThan ago and
// returns how many it moved. A processing entry with no claim time yet is
// stamped now and left for a later pass.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	keys, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list claimed chunks: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	claims, err := q.client.HGetAll(ctx, q.claimsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to load claims: %w", err)
	}

	now := time.Now()
	cutoff := now.Add(-olderThan).Unix()
	moved := 0
	for _, key := range keys {
		raw, ok := claims[key]
		if !ok {
			if err := q.client.HSetNX(ctx, q.claimsKey(), key, now.Unix()).Err(); err != nil {
				return moved, fmt.Errorf("failed to stamp claim of %s: %w", key, err)
			}
			continue
		}
		at, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && at > cutoff {
			continue
		}
		if err := q.requeue(ctx, key); err != nil {
			return moved, fmt.Errorf("failed to reclaim chunk %s: %w", key, err)
		}
		moved++
	}
	return moved, nil
}

// Complete records the result of a chunk and drops its body.
func (q *Queue) Complete(ctx context.Context, c *Chunk, res *experiment.Result) error {
	data, err := json.Marshal(ChunkResult{BatchID: c.BatchID, Index: c.Index, Result: res})
	if err != nil {
		return fmt.Errorf("failed to marshal result of chunk %s: %w", c.Key(), err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.resultsKey(c.BatchID), strconv.Itoa(c.Index), data)
	if q.ttl > 0 {
		pipe.Expire(ctx, q.resultsKey(c.BatchID), q.ttl)
	}
	pipe.Del(ctx, q.chunkKey(c.Key()))
	pipe.LRem(ctx, q.processingKey(), 1, c.Key())
	pipe.HDel(ctx, q.claimsKey(), c.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete chunk %s: %w", c.Key(), err)
	}
	return nil
}

// Status is the progress of one batch.
type Status struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}

// Done reports whether every chunk has reported back.
func (s Status) Done() bool {
	return s.Completed >= s.Total
}

// Status reports how many chunks of a batch have completed.
func (q *Queue) Status(ctx context.Context, batchID string) (Status, error) {
	total, err := q.client.HGet(ctx, q.batchKey(batchID), "total").Int()
	if err == backend.Nil {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	completed, err := q.client.HLen(ctx, q.resultsKey(batchID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("failed to count results of batch %s: %w", batchID, err)
	}
	return Status{BatchID: batchID, Total: total, Completed: int(completed)}, nil
}

// Collect merges the results reported so far. While chunks are missing it
// returns the partial result together with ErrIncomplete.
func (q *Queue) Collect(ctx context.Context, batchID string) (*experiment.Result, error) {
	status, err := q.Status(ctx, batchID)
	if err != nil {
		return nil, err
	}
	vals, err := q.client.HGetAll(ctx, q.resultsKey(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load results of batch %s: %w", batchID, err)
	}

	indices := make([]string, 0, len(vals))
	for k := range vals {
		indices = append(indices, k)
	}
	sort.Strings(indices)

	res := &experiment.Result{}
	for _, k := range indices {
		var cr ChunkResult
		if err := json.Unmarshal([]byte(vals[k]), &cr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result %s of batch %s: %w", k, batchID, err)
		}
		res.Merge(cr.Result)
	}
	res.Sort()

	if !status.Done() {
		return res, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, status.Completed, status.Total)
	}
	return res, nil
}
