// Package memory provides an in-process broker for tests and single-binary
// deployments.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/broker"
)

var _ broker.Broker = (*Broker)(nil)

// DeadLetter is a message parked after its retries were exhausted.
type DeadLetter struct {
	Message *broker.Message
	Reason  string
	At      time.Time
}

// Broker is an in-memory FIFO broker guarded by a mutex. Consumers are
// woken through a broadcast channel replaced on every publish.
type Broker struct {
	mu       sync.Mutex
	queues   map[string][]*broker.Message
	inflight map[string]*broker.Message
	dead     []DeadLetter
	wake     chan struct{}
	timers   []*time.Timer
	seq      uint64
	closed   bool
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{
		queues:   make(map[string][]*broker.Message),
		inflight: make(map[string]*broker.Message),
		wake:     make(chan struct{}),
	}
}

// Publish appends m to its queue.
func (b *Broker) Publish(_ context.Context, m *broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return asyncjob.ErrBrokerClosed
	}
	b.push(m)
	return nil
}

// PublishAt delivers m once at has passed.
func (b *Broker) PublishAt(ctx context.Context, m *broker.Message, at time.Time) error {
	delay := time.Until(at)
	if delay <= 0 {
		return b.Publish(ctx, m)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return asyncjob.ErrBrokerClosed
	}
	b.timers = append(b.timers, time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.closed {
			b.push(m)
		}
	}))
	return nil
}

// Consume pops the oldest message of the first non-empty queue in order.
func (b *Broker) Consume(ctx context.Context, queues []string, wait time.Duration) (*broker.Message, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, asyncjob.ErrBrokerClosed
		}
		if m := b.pop(queues); m != nil {
			b.mu.Unlock()
			return m, nil
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil //nolint:nilnil // nothing to deliver
		case <-wake:
		}
	}
}

// Ack forgets an in-flight delivery.
func (b *Broker) Ack(_ context.Context, m *broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, string(m.Receipt()))
	return nil
}

// DeadLetter parks m and acknowledges it.
func (b *Broker) DeadLetter(_ context.Context, m *broker.Message, reason error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, string(m.Receipt()))

	dl := DeadLetter{Message: m.WithReceipt(nil), At: time.Now().UTC()}
	if reason != nil {
		dl.Reason = reason.Error()
	}
	b.dead = append(b.dead, dl)
	return nil
}

// Close stops pending delayed deliveries and wakes blocked consumers.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.timers {
		t.Stop()
	}
	close(b.wake)
	return nil
}

// ──────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────

// Len returns the number of messages waiting in queue.
func (b *Broker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// InFlight returns the number of consumed but unacknowledged messages.
func (b *Broker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

// DeadLetters returns a copy of the parked messages.
func (b *Broker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeadLetter(nil), b.dead...)
}

// push must be called with b.mu held.
func (b *Broker) push(m *broker.Message) {
	b.queues[m.Queue] = append(b.queues[m.Queue], m)
	close(b.wake)
	b.wake = make(chan struct{})
}

// pop must be called with b.mu held.
func (b *Broker) pop(queues []string) *broker.Message {
	for _, q := range queues {
		pending := b.queues[q]
		if len(pending) == 0 {
			continue
		}
		m := pending[0]
		b.queues[q] = pending[1:]

		b.seq++
		receipt := strconv.FormatUint(b.seq, 10)
		delivered := m.WithReceipt([]byte(receipt))
		b.inflight[receipt] = delivered
		return delivered
	}
	return nil
}
