package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/asyncjob/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPollInterval makes Wait poll at a fixed interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.poll = backoff.Constant(d) }
}

// WithPollBackoff sets the delay strategy between Wait polls. Poll n uses
// Delay(n). Defaults to exponential from 500ms up to 10s.
func WithPollBackoff(s backoff.Strategy) Option {
	return func(c *Client) { c.poll = s }
}

// WithMaxPollDelay caps any single delay between Wait polls.
func WithMaxPollDelay(d time.Duration) Option {
	return func(c *Client) { c.maxPoll = d }
}
