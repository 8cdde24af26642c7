package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/asyncjob/id"
)

// Decoder turns a raw message payload into v. The broker codec satisfies it.
type Decoder func(data []byte, v any) error

// HandlerFunc is a type-erased handler operating on the raw payload.
type HandlerFunc func(ctx context.Context, jobID id.JobID, payload []byte) error

// Entry is a registered handler together with its policy.
type Entry struct {
	Type    Type
	Policy  Policy
	Handler HandlerFunc
}

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Type]Entry)}
}

// RegisterDefinition registers def, decoding payloads with decode before
// calling the typed handler. Registering a type twice replaces the
// previous handler.
func RegisterDefinition[T any](r *Registry, def *Definition[T], decode Decoder) {
	h := func(ctx context.Context, jobID id.JobID, payload []byte) error {
		var v T
		if len(payload) > 0 {
			if err := decode(payload, &v); err != nil {
				return fmt.Errorf("decode payload for %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, jobID, v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Type] = Entry{Type: def.Type, Policy: def.Policy, Handler: h}
}

// Get returns the entry registered for t.
func (r *Registry) Get(t Type) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// Policy returns the registered policy for t, or PolicyFor(t).
func (r *Registry) Policy(t Type) Policy {
	if e, ok := r.Get(t); ok {
		return e.Policy
	}
	return PolicyFor(t)
}

// Queues returns the distinct queues of all registered types.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.entries))
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		if _, ok := seen[e.Policy.Queue]; ok {
			continue
		}
		seen[e.Policy.Queue] = struct{}{}
		out = append(out, e.Policy.Queue)
	}
	return out
}

// Types returns all registered job types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	return out
}
