// Package middleware provides composable middleware around message
// handling in the worker pool.
package middleware

import (
	"context"

	"github.com/xraph/asyncjob/broker"
)

// Handler is the terminal function that runs the job handler.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler. It receives the message being processed and
// the next handler in the chain, which it must call unless it
// short-circuits with an error.
type Middleware func(ctx context.Context, m *broker.Message, next Handler) error

// Chain composes middleware into one. The first middleware in the list is
// the outermost wrapper:
//
//	Chain(logging, recover, timeout) runs logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, m *broker.Message, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) error {
				return mw(ctx, m, inner)
			}
		}
		return h(ctx)
	}
}
