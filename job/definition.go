package job

import (
	"context"

	"github.com/xraph/asyncjob/id"
)

// Definition binds a job type to a typed handler. T is the message payload
// type and must be serializable by the broker codec.
type Definition[T any] struct {
	// Type is the job type this handler executes.
	Type Type

	// Handler runs the work. It receives the job ID so it can report
	// progress and completion through the orchestrator.
	Handler func(ctx context.Context, jobID id.JobID, payload T) error

	// Policy overrides the type's default queue and retry budget.
	Policy Policy
}

// DefinitionOption tweaks a Definition's policy.
type DefinitionOption func(*Policy)

// NewDefinition creates a typed job definition starting from PolicyFor(t).
func NewDefinition[T any](t Type, handler func(ctx context.Context, jobID id.JobID, payload T) error, opts ...DefinitionOption) *Definition[T] {
	def := &Definition[T]{
		Type:    t,
		Handler: handler,
		Policy:  PolicyFor(t),
	}
	for _, opt := range opts {
		opt(&def.Policy)
	}
	return def
}

// WithQueue routes messages of this definition to queue q.
func WithQueue(q string) DefinitionOption {
	return func(p *Policy) { p.Queue = q }
}

// WithMaxRetries sets the broker redelivery budget.
func WithMaxRetries(n int) DefinitionOption {
	return func(p *Policy) { p.MaxRetries = n }
}
