package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
	"github.com/xraph/asyncjob/orchestrator"
	"github.com/xraph/asyncjob/worker"
)

var (
	_ worker.Hook      = (*Hook)(nil)
	_ worker.RetryGate = (*Hook)(nil)
)

// FallbackResults is stored when a handler returns cleanly without
// completing its job, so clients can tell it apart from handler results.
var FallbackResults = json.RawMessage(`{"completed_by":"broker_fallback"}`)

// maxSummary bounds the error text recorded on a failed job.
const maxSummary = 1024

// Option configures a Hook.
type Option func(*Hook)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hook) { h.logger = l }
}

// WithRetryAwareFailures defers marking a job failed while the broker
// will redeliver the message. The job stays in processing between
// attempts and is failed by AfterPermanentFailure once retries run out.
// Without it the first handler error fails the job.
func WithRetryAwareFailures() Option {
	return func(h *Hook) { h.retryAware = true }
}

// Hook mirrors delivery outcomes onto job records through the
// orchestrator.
type Hook struct {
	orch       *orchestrator.Orchestrator
	logger     *slog.Logger
	retryAware bool
}

// New creates a Hook driving orch.
func New(orch *orchestrator.Orchestrator, opts ...Option) *Hook {
	h := &Hook{orch: orch, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BeforeProcess moves the job to processing. A job that has already
// finished is skipped so its handler does not run again.
func (h *Hook) BeforeProcess(ctx context.Context, m *broker.Message) error {
	jobID, ok := h.jobID(m)
	if !ok {
		return nil
	}

	var (
		outcome orchestrator.Outcome
		err     error
	)
	if m.Attempt > 0 {
		message := fmt.Sprintf("processing retry %d of %d", m.Attempt, m.MaxRetries)
		outcome, err = h.orch.RestartProcessing(ctx, jobID, message)
	} else {
		outcome, err = h.orch.StartProcessing(ctx, jobID, "processing started")
	}
	switch outcome {
	case orchestrator.Applied:
		return nil
	case orchestrator.AlreadyTerminal:
		return worker.ErrSkip
	case orchestrator.NotFound:
		h.logger.Warn("delivery references an unknown job",
			slog.String("job_id", jobID.String()),
			slog.String("message_id", m.ID),
		)
		return nil
	}
	return err
}

// AfterProcess fails the job when the handler returned an error, or times
// it out when the error is an expired delivery deadline. When the handler
// returned cleanly but left the job in processing, the job is completed
// with FallbackResults.
func (h *Hook) AfterProcess(ctx context.Context, m *broker.Message, err error) {
	jobID, ok := h.jobID(m)
	if !ok {
		return
	}

	if err != nil {
		if h.retryAware && willRetry(m, err) {
			h.logger.Info("job failure deferred, delivery will be retried",
				slog.String("job_id", jobID.String()),
				slog.Int("attempt", m.Attempt),
				slog.String("error", err.Error()),
			)
			return
		}
		h.finish(ctx, jobID, err)
		return
	}

	j, getErr := h.orch.Get(ctx, jobID)
	if getErr != nil {
		if !errors.Is(getErr, asyncjob.ErrJobNotFound) {
			h.logger.Error("job lookup after processing failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", getErr.Error()),
			)
		}
		return
	}
	if j.Status != job.StatusProcessing {
		return
	}

	outcome, cErr := h.orch.Complete(ctx, jobID, FallbackResults)
	if cErr != nil {
		h.logger.Error("fallback completion failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", cErr.Error()),
		)
		return
	}
	if outcome == orchestrator.Applied {
		h.logger.Info("job completed by broker fallback", slog.String("job_id", jobID.String()))
	}
}

// AfterPermanentFailure fails the job. The broker will not deliver the
// message again.
func (h *Hook) AfterPermanentFailure(ctx context.Context, m *broker.Message, err error) {
	jobID, ok := h.jobID(m)
	if !ok {
		return
	}
	h.finish(ctx, jobID, err)
}

// AllowRetry vetoes redelivery of a tracked message whose failure has
// already been written to the job. Without retry-aware failures the first
// error is terminal, so another attempt would only be skipped.
func (h *Hook) AllowRetry(m *broker.Message, _ error) bool {
	if _, ok := h.jobID(m); !ok {
		return true
	}
	return h.retryAware
}

// AfterSkip only logs. A skipped delivery never ran the handler.
func (h *Hook) AfterSkip(_ context.Context, m *broker.Message) {
	h.logger.Info("delivery skipped",
		slog.String("message_id", m.ID),
		slog.String("job_id", m.JobID),
	)
}

// finish records a failed delivery on the job. An expired delivery
// deadline is a timeout, anything else a failure.
func (h *Hook) finish(ctx context.Context, jobID id.JobID, cause error) {
	op, write := "fail", func() (orchestrator.Outcome, error) {
		return h.orch.Fail(ctx, jobID, Summary(cause))
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		op, write = "timeout", func() (orchestrator.Outcome, error) {
			return h.orch.Timeout(ctx, jobID)
		}
	}
	if _, err := write(); err != nil {
		h.logger.Error("recording job failure",
			slog.String("job_id", jobID.String()),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// jobID extracts the tracked job. The executor dead-letters malformed IDs
// before hooks run, so a parse error here only means "not tracked".
func (h *Hook) jobID(m *broker.Message) (id.JobID, bool) {
	jobID, ok, err := m.TrackedJob()
	if err != nil || !ok {
		return id.Nil, false
	}
	return jobID, true
}

// willRetry mirrors the executor's redelivery decision.
func willRetry(m *broker.Message, err error) bool {
	return m.WillRetry() && !errors.Is(err, asyncjob.ErrHandlerNotFound)
}

// Summary renders err as the error message recorded on a failed job:
// trimmed and cut to a bounded length on a rune boundary.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	s := strings.TrimSpace(err.Error())
	if len(s) <= maxSummary {
		return s
	}
	cut := maxSummary
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
