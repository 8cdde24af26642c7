package worker

import (
	"context"
	"errors"

	"github.com/xraph/asyncjob/broker"
)

// ErrSkip is returned by Hook.BeforeProcess to drop a delivery without
// running its handler. The message is acknowledged and AfterSkip runs.
var ErrSkip = errors.New("asyncjob/worker: skip delivery")

// Hook observes the lifecycle of every delivery the executor handles.
//
// BeforeProcess runs before the handler. Returning ErrSkip drops the
// delivery; any other error is logged and processing continues.
// AfterProcess runs after every handler attempt with its error.
// AfterPermanentFailure runs once a failed message will not be delivered
// again. AfterSkip runs for skipped deliveries.
type Hook interface {
	BeforeProcess(ctx context.Context, m *broker.Message) error
	AfterProcess(ctx context.Context, m *broker.Message, err error)
	AfterPermanentFailure(ctx context.Context, m *broker.Message, err error)
	AfterSkip(ctx context.Context, m *broker.Message)
}

// RetryGate is implemented by hooks that can veto redelivery of a failed
// message. The executor retries only when every gate allows it; a vetoed
// message is dead-lettered as a permanent failure.
type RetryGate interface {
	AllowRetry(m *broker.Message, err error) bool
}
