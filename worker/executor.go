package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/backoff"
	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/middleware"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHooks appends lifecycle hooks. Hooks run in the order given.
func WithHooks(hooks ...Hook) ExecutorOption {
	return func(e *Executor) { e.hooks = append(e.hooks, hooks...) }
}

// WithBackoff sets the redelivery delay strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithMiddleware sets the middleware wrapped around every handler call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// Executor runs a single delivery: hooks, handler, then acknowledgement,
// redelivery or dead-lettering on the broker.
type Executor struct {
	broker   broker.Broker
	registry *job.Registry
	hooks    []Hook
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an executor dispatching to handlers in registry.
func NewExecutor(b broker.Broker, registry *job.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		broker:   b,
		registry: registry,
		backoff:  backoff.Default(),
		mw:       middleware.Chain(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute processes m. Handler errors are consumed here and surface only
// through hooks and the broker; the returned error reports a broker
// operation that failed.
func (e *Executor) Execute(ctx context.Context, m *broker.Message) error {
	jobID, _, err := m.TrackedJob()
	if err != nil {
		e.logger.Error("message carries a malformed job_id",
			slog.String("message_id", m.ID),
			slog.String("job_id", m.JobID),
		)
		return e.broker.DeadLetter(context.WithoutCancel(ctx), m, err)
	}

	for _, h := range e.hooks {
		hookErr := h.BeforeProcess(ctx, m)
		if errors.Is(hookErr, ErrSkip) {
			return e.skip(ctx, m)
		}
		if hookErr != nil {
			e.logger.Warn("before-process hook failed",
				slog.String("message_id", m.ID),
				slog.String("job_id", m.JobID),
				slog.String("error", hookErr.Error()),
			)
		}
	}

	entry, found := e.registry.Get(m.Type)
	var runErr error
	if found {
		runErr = e.mw(ctx, m, func(ctx context.Context) error {
			return entry.Handler(ctx, jobID, m.Payload)
		})
	} else {
		runErr = fmt.Errorf("%w: %s", asyncjob.ErrHandlerNotFound, m.Type)
	}

	// Bookkeeping must land even when the pool is cancelling the handler.
	post := context.WithoutCancel(ctx)
	for _, h := range e.hooks {
		h.AfterProcess(post, m, runErr)
	}

	switch {
	case runErr == nil:
		return e.broker.Ack(post, m)
	case found && m.WillRetry() && e.retryAllowed(m, runErr):
		return e.retry(post, m, runErr)
	default:
		return e.deadLetter(post, m, runErr)
	}
}

func (e *Executor) retryAllowed(m *broker.Message, runErr error) bool {
	for _, h := range e.hooks {
		if g, ok := h.(RetryGate); ok && !g.AllowRetry(m, runErr) {
			return false
		}
	}
	return true
}

func (e *Executor) skip(ctx context.Context, m *broker.Message) error {
	post := context.WithoutCancel(ctx)
	for _, h := range e.hooks {
		h.AfterSkip(post, m)
	}
	return e.broker.Ack(post, m)
}

// retry republishes the next attempt after the backoff delay and
// acknowledges the current delivery.
func (e *Executor) retry(ctx context.Context, m *broker.Message, runErr error) error {
	next := m.Retry(runErr)
	delay := e.backoff.Delay(next.Attempt)
	if err := e.broker.PublishAt(ctx, next, time.Now().Add(delay)); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	e.logger.Info("message scheduled for retry",
		slog.String("message_id", m.ID),
		slog.String("job_id", m.JobID),
		slog.Int("attempt", next.Attempt),
		slog.Int("max_retries", m.MaxRetries),
		slog.Duration("delay", delay),
	)
	return e.broker.Ack(ctx, m)
}

func (e *Executor) deadLetter(ctx context.Context, m *broker.Message, runErr error) error {
	if err := e.broker.DeadLetter(ctx, m, runErr); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}

	e.logger.Warn("message dead-lettered",
		slog.String("message_id", m.ID),
		slog.String("job_id", m.JobID),
		slog.Int("attempts", m.Attempt+1),
		slog.String("error", runErr.Error()),
	)
	for _, h := range e.hooks {
		h.AfterPermanentFailure(ctx, m, runErr)
	}
	return nil
}
