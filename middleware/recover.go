package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/asyncjob/broker"
)

// Recover returns middleware that converts a handler panic into an error
// and logs the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *broker.Message, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("type", string(m.Type)),
					slog.String("job_id", m.JobID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s handler: %v", m.Type, r)
			}
		}()
		return next(ctx)
	}
}
