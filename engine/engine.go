package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/backoff"
	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/ext"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
	mw "github.com/xraph/asyncjob/middleware"
	"github.com/xraph/asyncjob/observability"
	"github.com/xraph/asyncjob/orchestrator"
	"github.com/xraph/asyncjob/queue"
	"github.com/xraph/asyncjob/reaper"
	"github.com/xraph/asyncjob/tracking"
	"github.com/xraph/asyncjob/worker"
)

const instrumentationName = "github.com/xraph/asyncjob"

// Engine owns the producer and consumer sides of asyncjob.
// Use New() to create one.
type Engine struct {
	config     asyncjob.Config
	store      job.Store
	broker     broker.Broker
	codec      broker.Codec
	logger     *slog.Logger
	clock      func() time.Time
	extensions *ext.Registry
	registry   *job.Registry

	orch     *orchestrator.Orchestrator
	tracker  *tracking.Hook
	executor *worker.Executor
	pool     *worker.Pool
	reaper   *reaper.Reaper

	bo           backoff.Strategy
	mws          []mw.Middleware
	hooks        []worker.Hook
	pendingExts  []ext.Extension
	trackingOpts []tracking.Option
	poolOpts     []worker.PoolOption
	schedule     cronlib.Schedule

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	disableWorker bool
	disableReaper bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the job store. Required.
func WithStore(s job.Store) Option {
	return func(eng *Engine) { eng.store = s }
}

// WithBroker sets the message broker. Required.
func WithBroker(b broker.Broker) Option {
	return func(eng *Engine) { eng.broker = b }
}

// WithCodec sets the payload codec used by Submit and by registered
// handlers. Defaults to broker.JSONCodec.
func WithCodec(c broker.Codec) Option {
	return func(eng *Engine) { eng.codec = c }
}

// WithConfig sets the runtime tuning. Defaults to asyncjob.DefaultConfig().
func WithConfig(cfg asyncjob.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger handed to every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock overrides the orchestrator's time source.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) { eng.clock = now }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.pendingExts = append(eng.pendingExts, e)
	}
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithHook adds a worker hook that runs after the tracking hook.
func WithHook(h worker.Hook) Option {
	return func(eng *Engine) {
		eng.hooks = append(eng.hooks, h)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.Default() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithRetryAwareFailures keeps a job in processing while the broker still
// has redeliveries left for it.
func WithRetryAwareFailures() Option {
	return func(eng *Engine) {
		eng.trackingOpts = append(eng.trackingOpts, tracking.WithRetryAwareFailures())
	}
}

// WithReaperSchedule sweeps on a cron schedule instead of
// Config.ReapInterval.
func WithReaperSchedule(s cronlib.Schedule) Option {
	return func(eng *Engine) { eng.schedule = s }
}

// WithPoolOptions passes extra options to the worker pool.
func WithPoolOptions(opts ...worker.PoolOption) Option {
	return func(eng *Engine) {
		eng.poolOpts = append(eng.poolOpts, opts...)
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithoutWorker disables the worker pool, leaving a producer-only engine.
func WithoutWorker() Option {
	return func(eng *Engine) { eng.disableWorker = true }
}

// WithoutReaper disables the timeout reaper on this instance.
func WithoutReaper() Option {
	return func(eng *Engine) { eng.disableReaper = true }
}

// New creates an Engine. A store and a broker are required.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		config:   asyncjob.DefaultConfig(),
		codec:    broker.JSONCodec{},
		logger:   slog.Default(),
		registry: job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		return nil, asyncjob.ErrNoStore
	}
	if eng.broker == nil {
		return nil, asyncjob.ErrNoBroker
	}
	if eng.bo == nil {
		eng.bo = backoff.Default()
	}

	logger := eng.logger
	eng.extensions = ext.NewRegistry(logger)

	// Register the observability metrics extension first.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithExtensions(eng.extensions),
		orchestrator.WithPolicies(eng.registry.Policy),
	}
	if eng.clock != nil {
		orchOpts = append(orchOpts, orchestrator.WithClock(eng.clock))
	}
	orch, err := orchestrator.New(eng.store, orchOpts...)
	if err != nil {
		return nil, err
	}
	eng.orch = orch

	eng.tracker = tracking.New(orch, append([]tracking.Option{tracking.WithLogger(logger)}, eng.trackingOpts...)...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		eng.messageTimeout(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	hooks := make([]worker.Hook, 0, 1+len(eng.hooks))
	hooks = append(hooks, eng.tracker)
	hooks = append(hooks, eng.hooks...)

	eng.executor = worker.NewExecutor(eng.broker, eng.registry,
		worker.WithHooks(hooks...),
		worker.WithBackoff(eng.bo),
		worker.WithMiddleware(allMws...),
		worker.WithExecutorLogger(logger),
	)

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
	}

	reaperOpts := []reaper.Option{
		reaper.WithLogger(logger),
		reaper.WithInterval(eng.config.ReapInterval),
		reaper.WithBatchSize(eng.config.ReapBatchSize),
		reaper.WithPendingGrace(eng.config.PendingGrace),
	}
	if eng.schedule != nil {
		reaperOpts = append(reaperOpts, reaper.WithSchedule(eng.schedule))
	}
	eng.reaper = reaper.New(orch, reaperOpts...)

	return eng, nil
}

// messageTimeout bounds a delivery by Config.MessageTimeout. Zero applies
// no bound: the job's own timeout_seconds is enforced by the reaper, which
// marks the record timed out without cancelling the handler.
func (eng *Engine) messageTimeout() mw.Middleware {
	return mw.Timeout(eng.config.MessageTimeout)
}

// ──────────────────────────────────────────────────
// Registration and submission
// ──────────────────────────────────────────────────

// Register registers a typed job definition with the engine. Payloads
// are decoded with the engine's codec.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def, eng.codec.Unmarshal)
}

// Submit creates a pending job of type t and publishes payload to the
// type's queue. If the publish fails the job is marked failed so it does
// not wait for the reaper.
func Submit[T any](ctx context.Context, eng *Engine, t job.Type, payload T, opts ...job.Option) (id.JobID, error) {
	data, err := eng.codec.Marshal(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("marshal payload for job %q: %w", t, err)
	}

	jobID, err := eng.orch.Create(ctx, t, opts...)
	if err != nil {
		return id.Nil, err
	}
	if err := eng.publish(ctx, t, jobID, data); err != nil {
		return id.Nil, err
	}
	return jobID, nil
}

// SubmitForEntity is Submit deduplicated per entity: while the entity has
// a live job of type t, its ID is returned and nothing is published.
func SubmitForEntity[T any](ctx context.Context, eng *Engine, t job.Type, entityType, entityID string, payload T, opts ...job.Option) (jobID id.JobID, created bool, err error) {
	data, err := eng.codec.Marshal(payload)
	if err != nil {
		return id.Nil, false, fmt.Errorf("marshal payload for job %q: %w", t, err)
	}

	jobID, created, err = eng.orch.CreateForEntity(ctx, t, entityType, entityID, opts...)
	if err != nil || !created {
		return jobID, false, err
	}
	if err := eng.publish(ctx, t, jobID, data); err != nil {
		return id.Nil, false, err
	}
	return jobID, true, nil
}

func (eng *Engine) publish(ctx context.Context, t job.Type, jobID id.JobID, data []byte) error {
	policy := eng.registry.Policy(t)
	m := broker.NewMessage(policy.Queue, t, jobID, data, policy.MaxRetries)
	pubErr := eng.broker.Publish(ctx, m)
	if pubErr == nil {
		return nil
	}

	reason := "publish failed: " + tracking.Summary(pubErr)
	if _, err := eng.orch.Fail(context.WithoutCancel(ctx), jobID, reason); err != nil {
		eng.logger.Warn("failed to mark unpublished job failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("publish job %s: %w", jobID, pubErr)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the worker pool and the timeout reaper. The pool consumes
// Config.Queues, or every registered type's queue when that is empty.
func (eng *Engine) Start(ctx context.Context) error {
	if !eng.disableWorker {
		eng.pool = eng.newPool()
		if err := eng.pool.Start(ctx); err != nil {
			return fmt.Errorf("start worker pool: %w", err)
		}
	}
	if !eng.disableReaper {
		if err := eng.reaper.Start(ctx); err != nil {
			return fmt.Errorf("start reaper: %w", err)
		}
	}
	return nil
}

func (eng *Engine) newPool() *worker.Pool {
	queues := eng.config.Queues
	if len(queues) == 0 {
		queues = eng.registry.Queues()
	}
	if len(queues) == 0 {
		queues = []string{job.DefaultPolicy.Queue}
	}

	opts := []worker.PoolOption{
		worker.WithPoolQueues(queues),
		worker.WithPoolLogger(eng.logger),
	}
	if eng.config.Concurrency > 0 {
		opts = append(opts, worker.WithPoolConcurrency(eng.config.Concurrency))
	}
	if eng.queueManager != nil {
		opts = append(opts, worker.WithQueueManager(eng.queueManager))
	}
	opts = append(opts, eng.poolOpts...)
	return worker.NewPool(eng.broker, eng.executor, opts...)
}

// Stop drains the worker pool, stops the reaper and notifies extensions.
// The wait is bounded by Config.ShutdownTimeout when ctx has no deadline.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if eng.pool != nil {
		if err := eng.pool.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
		}
	}
	if err := eng.reaper.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop reaper: %w", err))
	}
	eng.extensions.EmitShutdown(ctx)
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Orchestrator returns the job lifecycle service.
func (eng *Engine) Orchestrator() *orchestrator.Orchestrator { return eng.orch }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Reaper returns the timeout reaper.
func (eng *Engine) Reaper() *reaper.Reaper { return eng.reaper }

// Pool returns the worker pool, or nil before Start or when the worker is
// disabled.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Broker returns the message broker.
func (eng *Engine) Broker() broker.Broker { return eng.broker }

// Store returns the job store.
func (eng *Engine) Store() job.Store { return eng.store }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Config returns the runtime tuning in effect.
func (eng *Engine) Config() asyncjob.Config { return eng.config }
