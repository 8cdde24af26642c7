package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/backoff"
	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/broker/memory"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/middleware"
	"github.com/xraph/asyncjob/queue"
	"github.com/xraph/asyncjob/worker"
)

type resumePayload struct {
	ResumeID string `json:"resume_id"`
}

// recordingHook records every lifecycle call it receives.
type recordingHook struct {
	mu     sync.Mutex
	calls  []string
	errs   []error
	before func(*broker.Message) error
}

func (h *recordingHook) record(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
	h.errs = append(h.errs, err)
}

func (h *recordingHook) BeforeProcess(_ context.Context, m *broker.Message) error {
	h.record("before", nil)
	if h.before != nil {
		return h.before(m)
	}
	return nil
}

func (h *recordingHook) AfterProcess(_ context.Context, _ *broker.Message, err error) {
	h.record("after", err)
}

func (h *recordingHook) AfterPermanentFailure(_ context.Context, _ *broker.Message, err error) {
	h.record("permanent", err)
}

func (h *recordingHook) AfterSkip(context.Context, *broker.Message) {
	h.record("skip", nil)
}

func (h *recordingHook) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == name {
			n++
		}
	}
	return n
}

type harness struct {
	broker   *memory.Broker
	registry *job.Registry
	hook     *recordingHook
	pool     *worker.Pool
}

func newHarness(t *testing.T, concurrency int, poolOpts ...worker.PoolOption) *harness {
	t.Helper()
	h := &harness{
		broker:   memory.New(),
		registry: job.NewRegistry(),
		hook:     &recordingHook{},
	}
	exec := worker.NewExecutor(h.broker, h.registry,
		worker.WithHooks(h.hook),
		worker.WithBackoff(backoff.Constant(5*time.Millisecond)),
		worker.WithMiddleware(middleware.Recover(slog.Default())),
	)
	opts := append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithConsumeWait(20 * time.Millisecond),
		worker.WithPollInterval(5 * time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
	}, poolOpts...)
	h.pool = worker.NewPool(h.broker, exec, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.pool.Stop(ctx)
		_ = h.broker.Close()
	})
	return h
}

func (h *harness) publish(t *testing.T, typ job.Type, payload any, maxRetries int) *broker.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	m := broker.NewMessage("default", typ, id.NewJobID(), raw, maxRetries)
	if err := h.broker.Publish(context.Background(), m); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return m
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPool_StartStopIdempotent(t *testing.T) {
	h := newHarness(t, 2)
	h.start(t)
	h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestPool_ProcessesMessage(t *testing.T) {
	h := newHarness(t, 1)

	var gotJob atomic.Value
	var done atomic.Bool
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeResumeAnalysis,
		func(_ context.Context, jobID id.JobID, p resumePayload) error {
			if p.ResumeID != "r-42" {
				t.Errorf("payload.ResumeID = %q", p.ResumeID)
			}
			gotJob.Store(jobID)
			done.Store(true)
			return nil
		}), json.Unmarshal)

	m := h.publish(t, job.TypeResumeAnalysis, resumePayload{ResumeID: "r-42"}, 3)
	h.start(t)
	waitFor(t, "message handled", func() bool { return done.Load() && h.hook.count("after") == 1 })
	waitFor(t, "ack", func() bool { return h.broker.InFlight() == 0 })

	if gotJob.Load().(id.JobID).String() != m.JobID {
		t.Errorf("handler got job %v, want %s", gotJob.Load(), m.JobID)
	}
	if h.hook.count("before") != 1 || h.hook.count("permanent") != 0 {
		t.Errorf("unexpected hook calls %v", h.hook.calls)
	}
	if len(h.broker.DeadLetters()) != 0 {
		t.Error("no message should be dead-lettered")
	}
}

func TestPool_RetriesThenDeadLetters(t *testing.T) {
	h := newHarness(t, 1)

	var attempts atomic.Int32
	boom := errors.New("model endpoint unavailable")
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypePDFAnalysis,
		func(context.Context, id.JobID, struct{}) error {
			attempts.Add(1)
			return boom
		}), json.Unmarshal)

	h.publish(t, job.TypePDFAnalysis, struct{}{}, 2)
	h.start(t)
	waitFor(t, "dead letter", func() bool { return len(h.broker.DeadLetters()) == 1 && h.hook.count("permanent") == 1 })

	if got := attempts.Load(); got != 3 {
		t.Errorf("handler attempts = %d, want 3", got)
	}
	if got := h.hook.count("after"); got != 3 {
		t.Errorf("AfterProcess calls = %d, want 3", got)
	}
	dl := h.broker.DeadLetters()[0]
	if dl.Reason != boom.Error() || dl.Message.Attempt != 2 || dl.Message.LastError != boom.Error() {
		t.Errorf("unexpected dead letter %+v", dl)
	}
}

// vetoingHook refuses every redelivery.
type vetoingHook struct{ recordingHook }

func (*vetoingHook) AllowRetry(*broker.Message, error) bool { return false }

func TestPool_RetryGateVetoDeadLetters(t *testing.T) {
	b := memory.New()
	registry := job.NewRegistry()
	hook := &vetoingHook{}
	exec := worker.NewExecutor(b, registry,
		worker.WithHooks(hook),
		worker.WithBackoff(backoff.Constant(5*time.Millisecond)),
	)
	pool := worker.NewPool(b, exec,
		worker.WithConsumeWait(20*time.Millisecond),
		worker.WithPollInterval(5*time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
		_ = b.Close()
	})

	var attempts atomic.Int32
	job.RegisterDefinition(registry, job.NewDefinition(job.TypePDFAnalysis,
		func(context.Context, id.JobID, struct{}) error {
			attempts.Add(1)
			return errors.New("scanned pdf has no text layer")
		}), json.Unmarshal)

	m := broker.NewMessage("default", job.TypePDFAnalysis, id.NewJobID(), []byte(`{}`), 3)
	if err := b.Publish(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "dead letter", func() bool { return len(b.DeadLetters()) == 1 && hook.count("permanent") == 1 })

	time.Sleep(30 * time.Millisecond)
	if got := attempts.Load(); got != 1 {
		t.Errorf("handler attempts = %d, want 1", got)
	}
	if dl := b.DeadLetters()[0]; dl.Message.Attempt != 0 {
		t.Errorf("dead-lettered attempt = %d, want 0", dl.Message.Attempt)
	}
}

func TestPool_SkipDropsDelivery(t *testing.T) {
	h := newHarness(t, 1)
	h.hook.before = func(*broker.Message) error { return worker.ErrSkip }

	var ran atomic.Bool
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeBulkImport,
		func(context.Context, id.JobID, struct{}) error {
			ran.Store(true)
			return nil
		}), json.Unmarshal)

	h.publish(t, job.TypeBulkImport, struct{}{}, 0)
	h.start(t)
	waitFor(t, "skip", func() bool { return h.hook.count("skip") == 1 })
	waitFor(t, "ack", func() bool { return h.broker.InFlight() == 0 })

	if ran.Load() {
		t.Error("handler ran for a skipped delivery")
	}
	if h.hook.count("after") != 0 {
		t.Error("AfterProcess ran for a skipped delivery")
	}
}

func TestPool_BeforeHookErrorDoesNotBlock(t *testing.T) {
	h := newHarness(t, 1)
	h.hook.before = func(*broker.Message) error { return errors.New("store unavailable") }

	var ran atomic.Bool
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeBulkImport,
		func(context.Context, id.JobID, struct{}) error {
			ran.Store(true)
			return nil
		}), json.Unmarshal)

	h.publish(t, job.TypeBulkImport, struct{}{}, 0)
	h.start(t)
	waitFor(t, "handler", ran.Load)
}

func TestPool_UnknownTypeIsPermanent(t *testing.T) {
	h := newHarness(t, 1)

	h.publish(t, job.Type("unregistered"), struct{}{}, 5)
	h.start(t)
	waitFor(t, "dead letter", func() bool { return h.hook.count("permanent") == 1 })

	h.hook.mu.Lock()
	defer h.hook.mu.Unlock()
	last := h.hook.errs[len(h.hook.errs)-1]
	if !errors.Is(last, asyncjob.ErrHandlerNotFound) {
		t.Errorf("permanent failure error = %v, want ErrHandlerNotFound", last)
	}
}

func TestPool_PanicBecomesFailure(t *testing.T) {
	h := newHarness(t, 1)
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeReportGeneration,
		func(context.Context, id.JobID, struct{}) error {
			panic("nil template")
		}), json.Unmarshal)

	h.publish(t, job.TypeReportGeneration, struct{}{}, 0)
	h.start(t)
	waitFor(t, "permanent failure", func() bool { return h.hook.count("permanent") == 1 })
}

func TestPool_MalformedJobIDDeadLettered(t *testing.T) {
	h := newHarness(t, 1)
	m := broker.NewMessage("default", job.TypeBulkImport, id.NewJobID(), nil, 3)
	m.JobID = "not-a-job-id"
	if err := h.broker.Publish(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	h.start(t)
	waitFor(t, "dead letter", func() bool { return len(h.broker.DeadLetters()) == 1 })
	if h.hook.count("before") != 0 {
		t.Error("hooks ran for a malformed message")
	}
}

func TestPool_GracefulStopWaitsForHandler(t *testing.T) {
	h := newHarness(t, 1)

	started := make(chan struct{})
	var finished atomic.Bool
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypePDFAnalysis,
		func(context.Context, id.JobID, struct{}) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		}), json.Unmarshal)

	h.publish(t, job.TypePDFAnalysis, struct{}{}, 0)
	h.start(t)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the running handler finished")
	}
}

func TestPool_StopDeadlineCancelsHandler(t *testing.T) {
	h := newHarness(t, 1)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypePDFAnalysis,
		func(ctx context.Context, _ id.JobID, _ struct{}) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		}), json.Unmarshal)

	h.publish(t, job.TypePDFAnalysis, struct{}{}, 0)
	h.start(t)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.pool.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stop error = %v, want deadline exceeded", err)
	}
	select {
	case <-cancelled:
	default:
		t.Fatal("handler context was not cancelled")
	}
	// The cancelled attempt still reports through the hooks.
	waitFor(t, "after hook", func() bool { return h.hook.count("after") == 1 })
}

func TestPool_QueueConcurrencyLimit(t *testing.T) {
	qm := queue.NewManager(queue.Config{Name: "default", MaxConcurrency: 1})
	h := newHarness(t, 4, worker.WithQueueManager(qm))

	var running, peak, handled atomic.Int32
	job.RegisterDefinition(h.registry, job.NewDefinition(job.TypeCandidateMatching,
		func(context.Context, id.JobID, struct{}) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			handled.Add(1)
			return nil
		}), json.Unmarshal)

	for range 6 {
		h.publish(t, job.TypeCandidateMatching, struct{}{}, 0)
	}
	h.start(t)
	waitFor(t, "all handled", func() bool { return handled.Load() == 6 })

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
	waitFor(t, "queue slots released", func() bool { return qm.ActiveCount("default") == 0 })
}
