package audithook

import (
	"context"
	"log/slog"
)

// SlogRecorder writes audit events as structured log records. Critical
// events log at Error, warnings at Warn, everything else at Info.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a Recorder writing to logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *SlogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityCritical:
		level = slog.LevelError
	case SeverityWarning:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("category", evt.Category),
		slog.String("job_id", evt.ResourceID),
		slog.String("outcome", evt.Outcome),
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	if len(evt.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", evt.Metadata))
	}
	r.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}
