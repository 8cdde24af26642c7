package middleware

import (
	"context"
	"time"

	"github.com/xraph/asyncjob/broker"
)

// Timeout returns middleware that bounds each delivery by limit. The
// handler sees a cancelled context once the limit passes and is expected
// to return. A non-positive limit disables the bound.
//
// This is the worker-side limit on a single delivery. The job record's own
// timeout is enforced separately by the reaper.
func Timeout(limit time.Duration) Middleware {
	return func(ctx context.Context, _ *broker.Message, next Handler) error {
		if limit <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		return next(ctx)
	}
}
