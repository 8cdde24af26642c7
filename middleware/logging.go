package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/asyncjob/broker"
)

// Logging returns middleware that logs each delivery and its result.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *broker.Message, next Handler) error {
		logger.Debug("message received",
			slog.String("message_id", m.ID),
			slog.String("type", string(m.Type)),
			slog.String("job_id", m.JobID),
			slog.String("queue", m.Queue),
			slog.Int("attempt", m.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("message handler failed",
				slog.String("message_id", m.ID),
				slog.String("type", string(m.Type)),
				slog.String("job_id", m.JobID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return err
		}

		logger.Info("message handled",
			slog.String("message_id", m.ID),
			slog.String("type", string(m.Type)),
			slog.String("job_id", m.JobID),
			slog.Duration("elapsed", elapsed),
		)
		return nil
	}
}
