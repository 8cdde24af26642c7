package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config sets limits for one broker queue.
type Config struct {
	// Name is the broker queue name.
	Name string

	// MaxConcurrency caps how many messages from this queue run at once in
	// the local pool. Zero means no queue-specific cap.
	MaxConcurrency int

	// RateLimit is the sustained number of messages per second the pool
	// takes from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// ready reports whether another message may be taken now.
func (qs *queueState) ready() bool {
	if qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}
	return qs.limiter == nil || qs.limiter.Tokens() >= 1
}

// Manager decides which queues the pool may consume from. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queueState
}

// NewManager creates a Manager. Queues without a Config are unlimited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{queues: make(map[string]*queueState, len(configs))}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

// Reserve returns the queues among names that currently have both a free
// concurrency slot and a rate token, and holds one slot on each of them.
// Order is preserved. After consuming, callers Release every reserved
// queue except the one the message came from, and Commit that one.
func (m *Manager) Reserve(names []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(names))
	for _, n := range names {
		qs := m.queues[n]
		if qs == nil {
			out = append(out, n)
			continue
		}
		if !qs.ready() {
			continue
		}
		qs.active++
		out = append(out, n)
	}
	return out
}

// Commit takes a rate token for a message consumed from queue. The message
// has already been handed over, so a token raced away by another consumer
// is borrowed from the future.
func (m *Manager) Commit(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.limiter != nil {
		qs.limiter.Reserve()
	}
}

// Release frees a slot held by Reserve.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// SetQueueConfig replaces (or adds) a queue configuration, keeping its
// active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := newQueueState(cfg)
	if existing := m.queues[cfg.Name]; existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// ActiveCount returns the number of running messages from queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
