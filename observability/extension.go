package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/asyncjob/ext"
	"github.com/xraph/asyncjob/job"
)

var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobCreated   = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobTimedOut  = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/asyncjob/observability"

// MetricsExtension counts job lifecycle transitions.
//
// Instruments:
//   - asyncjob.job.created (Int64Counter), attribute type
//   - asyncjob.job.transitions (Int64Counter), attributes type and status
//   - asyncjob.job.run_duration (Float64Histogram, seconds from
//     started_at to completion), attribute type
type MetricsExtension struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewMetricsExtension creates the extension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates the extension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// Instrument errors still come with usable noop instruments.
	created, _ := meter.Int64Counter("asyncjob.job.created",
		metric.WithDescription("Jobs created"),
		metric.WithUnit("{job}"),
	)
	transitions, _ := meter.Int64Counter("asyncjob.job.transitions",
		metric.WithDescription("Applied job status transitions"),
		metric.WithUnit("{transition}"),
	)
	runDuration, _ := meter.Float64Histogram("asyncjob.job.run_duration",
		metric.WithDescription("Time from processing start to completion"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		created:     created,
		transitions: transitions,
		runDuration: runDuration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(j.Type))))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.transition(ctx, j)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.transition(ctx, j)
	m.runDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("type", string(j.Type))))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job) error {
	m.transition(ctx, j)
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, j *job.Job) error {
	m.transition(ctx, j)
	return nil
}

func (m *MetricsExtension) transition(ctx context.Context, j *job.Job) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(j.Type)),
		attribute.String("status", string(j.Status)),
	))
}
