package job

import "time"

// CreateOptions collects the caller-supplied fields of a new job.
type CreateOptions struct {
	EntityType string
	EntityID   string
	Metadata   map[string]any

	// Timeout overrides the type policy's timeout. Zero means "use the
	// policy"; negative values are rejected at creation.
	Timeout    time.Duration
	timeoutSet bool
}

// TimeoutSet reports whether a timeout option was applied explicitly.
func (o CreateOptions) TimeoutSet() bool { return o.timeoutSet }

// Option configures a job at creation.
type Option func(*CreateOptions)

// NewCreateOptions applies opts over the zero value.
func NewCreateOptions(opts ...Option) CreateOptions {
	var o CreateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEntity links the job to a business entity for idempotent lookup.
func WithEntity(entityType, entityID string) Option {
	return func(o *CreateOptions) {
		o.EntityType = entityType
		o.EntityID = entityID
	}
}

// WithMetadata attaches opaque caller context. Keys are merged.
func WithMetadata(md map[string]any) Option {
	return func(o *CreateOptions) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}

// WithTimeout sets the execution budget. The value is truncated to whole
// seconds.
func WithTimeout(d time.Duration) Option {
	return func(o *CreateOptions) {
		o.Timeout = d
		o.timeoutSet = true
	}
}

// WithTimeoutSeconds sets the execution budget in seconds.
func WithTimeoutSeconds(n int) Option {
	return WithTimeout(time.Duration(n) * time.Second)
}
