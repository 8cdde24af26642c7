package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/id"
)

// QueueManager gates which queues the pool consumes from. Before each
// consume the pool Reserves a slot on the queues it may read; afterwards it
// Releases the queues the message did not come from and Commits the one it
// did, releasing that slot once the message is settled.
type QueueManager interface {
	Reserve(queues []string) []string
	Commit(queue string)
	Release(queue string)
}

// Pool runs concurrent consumer goroutines that take messages from the
// broker and hand them to the Executor.
type Pool struct {
	broker       broker.Broker
	executor     *Executor
	concurrency  int
	queues       []string
	wait         time.Duration
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	queueManager QueueManager

	stopCh        chan struct{}
	consumeCtx    context.Context
	cancelConsume context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
	active        map[string]context.CancelFunc
	activeMu      sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of consumer goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool consumes, in priority order.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithConsumeWait sets how long one consume call blocks waiting for a
// message.
func WithConsumeWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.wait = d }
}

// WithPollInterval sets the pause after a broker error or while every
// queue is throttled.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithQueueManager sets per-queue rate and concurrency limits.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool consuming from b.
func NewPool(b broker.Broker, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		broker:       b,
		executor:     executor,
		concurrency:  10,
		queues:       []string{"default"},
		wait:         time.Second,
		pollInterval: 500 * time.Millisecond,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Active returns the number of messages currently being processed.
func (p *Pool) Active() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the consumer goroutines and returns immediately. Calling
// Start on a running pool is a no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.consumeCtx, p.cancelConsume = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.consumeLoop()
	}
	return nil
}

// Stop stops consuming and waits for in-flight messages to finish. When
// ctx expires first, the handlers' contexts are cancelled and Stop waits
// for them to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.cancelConsume()
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling handlers")
		p.cancelActive()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		queues := p.queues
		if p.queueManager != nil {
			queues = p.queueManager.Reserve(queues)
			if len(queues) == 0 {
				p.sleep()
				continue
			}
		}

		m, err := p.broker.Consume(p.consumeCtx, queues, p.wait)
		p.settleReservations(queues, m)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, asyncjob.ErrBrokerClosed):
			return
		case err != nil:
			p.logger.Error("consume error", slog.String("error", err.Error()))
			p.sleep()
			continue
		case m == nil:
			continue
		}

		p.process(m)
	}
}

// settleReservations releases the slots held on queues m did not come
// from. The slot on m's queue stays held until process finishes.
func (p *Pool) settleReservations(reserved []string, m *broker.Message) {
	if p.queueManager == nil {
		return
	}
	for _, q := range reserved {
		if m != nil && q == m.Queue {
			p.queueManager.Commit(q)
			continue
		}
		p.queueManager.Release(q)
	}
}

func (p *Pool) process(m *broker.Message) {
	if p.queueManager != nil {
		defer p.queueManager.Release(m.Queue)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.track(m.ID, cancel)
	defer p.untrack(m.ID)

	if err := p.executor.Execute(ctx, m); err != nil {
		p.logger.Error("message settlement failed",
			slog.String("message_id", m.ID),
			slog.String("job_id", m.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(key string) {
	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for key, cancel := range p.active {
		p.logger.Warn("cancelling handler", slog.String("message_id", key))
		cancel()
	}
}
