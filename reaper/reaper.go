package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/orchestrator"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression for WithSchedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("reaper: parse schedule %q: %w", expr, err)
	}
	return s, nil
}

// Result counts what one sweep did.
type Result struct {
	// TimedOut is the number of processing jobs moved to timeout.
	TimedOut int
	// Orphaned is the number of never-started pending jobs moved to timeout.
	Orphaned int
	// Raced is the number of listed jobs that finished or changed status
	// before the sweep reached them.
	Raced int
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// WithInterval sets a fixed sweep interval. Defaults to 5s.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) { r.interval = d }
}

// WithSchedule sweeps on a cron schedule instead of a fixed interval.
func WithSchedule(s cronlib.Schedule) Option {
	return func(r *Reaper) { r.schedule = s }
}

// WithBatchSize caps how many jobs of each kind one sweep handles.
// Defaults to 100; zero means no cap.
func WithBatchSize(n int) Option {
	return func(r *Reaper) { r.batchSize = n }
}

// WithPendingGrace sets how long past its timeout a never-started pending
// job may wait before it is swept. Defaults to one minute. A negative
// grace disables the pending sweep.
func WithPendingGrace(d time.Duration) Option {
	return func(r *Reaper) { r.pendingGrace = d }
}

// Reaper runs the periodic timeout sweep.
type Reaper struct {
	orch   *orchestrator.Orchestrator
	store  job.Store
	logger *slog.Logger

	interval     time.Duration
	schedule     cronlib.Schedule
	batchSize    int
	pendingGrace time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Reaper that writes through orch and lists from orch's
// store.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Reaper {
	r := &Reaper{
		orch:         orch,
		store:        orch.Store(),
		logger:       slog.Default(),
		interval:     5 * time.Second,
		batchSize:    100,
		pendingGrace: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep loop and returns immediately.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop()

	attrs := []any{slog.Int("batch_size", r.batchSize), slog.Duration("pending_grace", r.pendingGrace)}
	if r.schedule == nil {
		attrs = append(attrs, slog.Duration("interval", r.interval))
	}
	r.logger.Info("timeout reaper started", attrs...)
	return nil
}

// Stop ends the loop, waiting for a running sweep to finish or ctx to
// expire.
func (r *Reaper) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("timeout reaper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		timer := time.NewTimer(r.next(time.Now()))
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("timeout sweep failed", slog.String("error", err.Error()))
		}
	}
}

// next returns the wait before the sweep after now.
func (r *Reaper) next(now time.Time) time.Duration {
	if r.schedule != nil {
		return max(r.schedule.Next(now).Sub(now), 0)
	}
	return r.interval
}

// SweepOnce runs a single sweep. Per-job failures are joined into the
// returned error; the sweep carries on with the remaining jobs.
func (r *Reaper) SweepOnce(ctx context.Context) (Result, error) {
	var res Result

	stale, err := r.store.ListTimedOutJobs(ctx, r.batchSize)
	if err != nil {
		return res, fmt.Errorf("reaper: list timed out jobs: %w", err)
	}
	errs := r.expire(ctx, stale, job.StatusProcessing, &res.TimedOut, &res.Raced)

	if r.pendingGrace >= 0 {
		orphans, err := r.store.ListStalePendingJobs(ctx, r.pendingGrace, r.batchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("reaper: list stale pending jobs: %w", err))
		} else {
			errs = append(errs, r.expire(ctx, orphans, job.StatusPending, &res.Orphaned, &res.Raced)...)
		}
	}

	if res != (Result{}) {
		r.logger.Info("timeout sweep finished",
			slog.Int("timed_out", res.TimedOut),
			slog.Int("orphaned", res.Orphaned),
			slog.Int("raced", res.Raced),
		)
	}
	return res, errors.Join(errs...)
}

func (r *Reaper) expire(ctx context.Context, jobs []*job.Job, status job.Status, applied, raced *int) []error {
	var errs []error
	for _, j := range jobs {
		outcome, err := r.orch.TimeoutIfStatus(ctx, j.ID, status)
		switch outcome {
		case orchestrator.Applied:
			*applied++
			r.logger.Info("job timed out",
				slog.String("job_id", j.ID.String()),
				slog.String("type", string(j.Type)),
				slog.String("was", string(status)),
				slog.Int("timeout_seconds", j.TimeoutSeconds),
			)
		case orchestrator.AlreadyTerminal, orchestrator.NotFound, orchestrator.Rejected:
			*raced++
			r.logger.Debug("job left alone by sweep",
				slog.String("job_id", j.ID.String()),
				slog.String("outcome", outcome.String()),
			)
		default:
			errs = append(errs, fmt.Errorf("reaper: timeout %s: %w", j.ID, err))
		}
	}
	return errs
}
