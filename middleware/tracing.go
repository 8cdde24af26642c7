package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/asyncjob/broker"
)

// instrumentationName is the OTel scope for tracing and metrics.
const instrumentationName = "github.com/xraph/asyncjob"

// Tracing returns middleware that runs each delivery in a span from the
// global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using tracer.
//
// Span attributes: asyncjob.message.id, asyncjob.job.id, asyncjob.job.type,
// asyncjob.queue, asyncjob.attempt.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, m *broker.Message, next Handler) error {
		ctx, span := tracer.Start(ctx, "asyncjob.message.process",
			trace.WithAttributes(
				attribute.String("asyncjob.message.id", m.ID),
				attribute.String("asyncjob.job.id", m.JobID),
				attribute.String("asyncjob.job.type", string(m.Type)),
				attribute.String("asyncjob.queue", m.Queue),
				attribute.Int("asyncjob.attempt", m.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
