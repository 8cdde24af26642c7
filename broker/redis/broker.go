// Package redis implements broker.Broker on Redis lists.
//
// Ready messages live in asyncjob:queue:{name}. Consuming moves a message
// atomically into asyncjob:processing:{name} (LMOVE/BLMOVE) and leases it
// for the visibility timeout. A delivery still unacknowledged when its
// lease expires, for example because its consumer crashed, is moved back
// to the ready list. Delayed deliveries wait in a sorted set and are
// promoted to the ready list by the consumer.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	b := redisbroker.New(client)
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/asyncjob/broker"
)

var _ broker.Broker = (*Broker)(nil)

// promoteDue moves due members of the delayed set onto the ready list in
// one atomic step, so two consumers never deliver the same member twice.
var promoteDue = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// consumeOne takes the oldest ready message and leases it in one step.
var consumeOne = goredis.NewScript(`
local member = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
if not member then return false end
redis.call('ZADD', KEYS[3], ARGV[1], member)
return member
`)

// reclaimExpired requeues processing entries whose lease has expired. The
// oldest processing entries without a lease, left by a consumer that died
// between BLMOVE and leasing, are leased first so they expire in turn.
var reclaimExpired = goredis.NewScript(`
local tail = redis.call('LRANGE', KEYS[1], -tonumber(ARGV[3]), -1)
for _, member in ipairs(tail) do
  if not redis.call('ZSCORE', KEYS[2], member) then
    redis.call('ZADD', KEYS[2], ARGV[2], member)
  end
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local n = 0
for _, member in ipairs(expired) do
  redis.call('ZREM', KEYS[2], member)
  if redis.call('LREM', KEYS[1], 1, member) > 0 then
    redis.call('RPUSH', KEYS[3], member)
    n = n + 1
  end
end
return n
`)

// DefaultVisibilityTimeout is how long a delivery may stay unacknowledged
// before it is redelivered. It exceeds the longest job type policy timeout.
const DefaultVisibilityTimeout = time.Hour

// Option configures the Broker.
type Option func(*Broker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithCodec sets the message codec. Defaults to JSON.
func WithCodec(c broker.Codec) Option {
	return func(b *Broker) { b.codec = c }
}

// WithPromoteBatch caps how many delayed messages one consume call
// promotes per queue.
func WithPromoteBatch(n int) Option {
	return func(b *Broker) { b.promoteBatch = n }
}

// WithVisibilityTimeout sets how long a consumed message may stay
// unacknowledged before it is handed out again. Handlers running longer
// than this may see their message delivered twice.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(b *Broker) { b.visibility = d }
}

// Broker is a Redis-backed broker.Broker.
type Broker struct {
	client       goredis.Cmdable
	codec        broker.Codec
	logger       *slog.Logger
	promoteBatch int
	visibility   time.Duration
	rr           atomic.Uint64
	lastReclaim  atomic.Int64
}

// New creates a Redis broker. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Broker {
	b := &Broker{
		client:       client,
		codec:        broker.JSONCodec{},
		logger:       slog.Default(),
		promoteBatch: 200,
		visibility:   DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish pushes m onto its ready list.
func (b *Broker) Publish(ctx context.Context, m *broker.Message) error {
	raw, err := b.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("asyncjob/redis: encode message: %w", err)
	}
	if err := b.client.LPush(ctx, queueKey(m.Queue), raw).Err(); err != nil {
		return fmt.Errorf("asyncjob/redis: publish: %w", err)
	}
	return nil
}

// PublishAt schedules m in the delayed set.
func (b *Broker) PublishAt(ctx context.Context, m *broker.Message, at time.Time) error {
	if !at.After(time.Now()) {
		return b.Publish(ctx, m)
	}
	raw, err := b.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("asyncjob/redis: encode message: %w", err)
	}
	z := goredis.Z{Score: float64(at.UnixMilli()), Member: raw}
	if err := b.client.ZAdd(ctx, delayedKey(m.Queue), z).Err(); err != nil {
		return fmt.Errorf("asyncjob/redis: publish delayed: %w", err)
	}
	return nil
}

// Consume requeues expired leases, promotes due delayed messages, then
// takes the first ready message in queue order. When every queue is empty
// it blocks on one queue, rotating between calls, for up to wait.
func (b *Broker) Consume(ctx context.Context, queues []string, wait time.Duration) (*broker.Message, error) {
	if len(queues) == 0 {
		return nil, errors.New("asyncjob/redis: consume: no queues")
	}

	if b.reclaimDue() {
		if _, err := b.Reclaim(ctx, queues); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	nowMS := strconv.FormatInt(now.UnixMilli(), 10)
	for _, q := range queues {
		err := promoteDue.Run(ctx, b.client, []string{delayedKey(q), queueKey(q)}, nowMS, b.promoteBatch).Err()
		if err != nil {
			return nil, fmt.Errorf("asyncjob/redis: promote delayed %s: %w", q, err)
		}
	}

	leaseUntil := b.leaseDeadline(now)
	for _, q := range queues {
		raw, err := consumeOne.Run(ctx, b.client,
			[]string{queueKey(q), processingKey(q), leaseKey(q)}, leaseUntil).Text()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("asyncjob/redis: consume %s: %w", q, err)
		}
		return b.decode(ctx, q, raw)
	}

	if wait <= 0 {
		return nil, nil //nolint:nilnil // nothing to deliver
	}
	q := queues[int(b.rr.Add(1)-1)%len(queues)]
	raw, err := b.client.BLMove(ctx, queueKey(q), processingKey(q), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil //nolint:nilnil // nothing to deliver
	}
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: consume %s: %w", q, err)
	}
	z := goredis.Z{Score: float64(b.leaseDeadline(time.Now())), Member: raw}
	if err := b.client.ZAdd(ctx, leaseKey(q), z).Err(); err != nil {
		// Reclaim leases the entry on its next pass.
		b.logger.Warn("lease after blocking consume failed",
			slog.String("queue", q),
			slog.String("error", err.Error()),
		)
	}
	return b.decode(ctx, q, raw)
}

// Reclaim moves deliveries whose lease expired back to their ready list
// and reports how many were requeued. Consume calls it periodically.
func (b *Broker) Reclaim(ctx context.Context, queues []string) (int, error) {
	now := time.Now()
	total := 0
	for _, q := range queues {
		n, err := reclaimExpired.Run(ctx, b.client,
			[]string{processingKey(q), leaseKey(q), queueKey(q)},
			now.UnixMilli(), b.leaseDeadline(now), b.promoteBatch).Int()
		if err != nil {
			return total, fmt.Errorf("asyncjob/redis: reclaim %s: %w", q, err)
		}
		if n > 0 {
			b.logger.Warn("requeued unacknowledged deliveries",
				slog.String("queue", q),
				slog.Int("count", n),
			)
		}
		total += n
	}
	b.lastReclaim.Store(now.UnixNano())
	return total, nil
}

// reclaimDue throttles Reclaim to twice per visibility timeout, at most
// once a second.
func (b *Broker) reclaimDue() bool {
	every := min(b.visibility/2, time.Second)
	return time.Since(time.Unix(0, b.lastReclaim.Load())) >= every
}

func (b *Broker) leaseDeadline(now time.Time) int64 {
	return now.Add(b.visibility).UnixMilli()
}

// Ack removes the delivery from the processing list and drops its lease.
func (b *Broker) Ack(ctx context.Context, m *broker.Message) error {
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, processingKey(m.Queue), 1, m.Receipt())
	pipe.ZRem(ctx, leaseKey(m.Queue), m.Receipt())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("asyncjob/redis: ack: %w", err)
	}
	return nil
}

// deadLetter is the record stored on the dead list.
type deadLetter struct {
	Message *broker.Message `json:"message" msgpack:"message"`
	Reason  string          `json:"reason" msgpack:"reason"`
	At      time.Time       `json:"at" msgpack:"at"`
}

// DeadLetter moves the delivery from the processing list to the dead list.
func (b *Broker) DeadLetter(ctx context.Context, m *broker.Message, reason error) error {
	dl := deadLetter{Message: m, At: time.Now().UTC()}
	if reason != nil {
		dl.Reason = reason.Error()
	}
	raw, err := b.codec.Marshal(dl)
	if err != nil {
		return fmt.Errorf("asyncjob/redis: encode dead letter: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, processingKey(m.Queue), 1, m.Receipt())
	pipe.ZRem(ctx, leaseKey(m.Queue), m.Receipt())
	pipe.LPush(ctx, deadKey, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("asyncjob/redis: dead letter: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit dead-lettered messages, newest first.
func (b *Broker) DeadLetters(ctx context.Context, limit int64) ([]*broker.Message, error) {
	vals, err := b.client.LRange(ctx, deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("asyncjob/redis: list dead letters: %w", err)
	}
	out := make([]*broker.Message, 0, len(vals))
	for _, v := range vals {
		var dl deadLetter
		if err := b.codec.Unmarshal([]byte(v), &dl); err != nil || dl.Message == nil {
			continue // undecodable payload parked by decode
		}
		out = append(out, dl.Message)
	}
	return out, nil
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (b *Broker) Close() error { return nil }

// decode turns a raw list entry into a message. Entries that cannot be
// decoded are moved to the dead list so they are not redelivered forever.
func (b *Broker) decode(ctx context.Context, queue, raw string) (*broker.Message, error) {
	var m broker.Message
	if err := b.codec.Unmarshal([]byte(raw), &m); err != nil {
		b.logger.Error("undecodable message dead-lettered",
			slog.String("queue", queue),
			slog.String("error", err.Error()),
		)
		pipe := b.client.TxPipeline()
		pipe.LRem(ctx, processingKey(queue), 1, raw)
		pipe.ZRem(ctx, leaseKey(queue), raw)
		pipe.LPush(ctx, deadKey, raw)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return nil, fmt.Errorf("asyncjob/redis: park undecodable message: %w", perr)
		}
		return nil, fmt.Errorf("asyncjob/redis: decode message: %w", err)
	}
	m.Queue = queue
	return m.WithReceipt([]byte(raw)), nil
}
