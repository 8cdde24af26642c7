package client

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/asyncjob/api"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// Status returns the polling projection of a job.
func (c *Client) Status(ctx context.Context, jobID id.JobID) (*job.StatusView, error) {
	var view job.StatusView
	if err := c.get(ctx, "/v1/jobs/"+jobID.String()+"/status", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetJob returns the full job record.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.get(ctx, "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns jobs in status, oldest first. The server caps the
// page size.
func (c *Client) ListJobs(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	q.Set("status", string(status))
	if opts.Type != "" {
		q.Set("type", string(opts.Type))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []*job.Job
	if err := c.get(ctx, "/v1/jobs", q, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Counts returns job counts by status, optionally for one job type.
func (c *Client) Counts(ctx context.Context, t job.Type) (*api.JobCountsResponse, error) {
	q := url.Values{}
	if t != "" {
		q.Set("type", string(t))
	}
	var counts api.JobCountsResponse
	if err := c.get(ctx, "/v1/jobs/counts", q, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// Wait polls a job's status until it is terminal or ctx ends. On error
// the last view seen is returned alongside it, nil if there was none.
func (c *Client) Wait(ctx context.Context, jobID id.JobID) (*job.StatusView, error) {
	var last *job.StatusView
	for attempt := 1; ; attempt++ {
		view, err := c.Status(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = view
		if view.Status.IsTerminal() {
			return view, nil
		}

		delay := c.poll.Delay(attempt)
		if c.maxPoll > 0 && delay > c.maxPoll {
			delay = c.maxPoll
		}
		c.logger.Debug("job still running",
			slog.String("job_id", jobID.String()),
			slog.String("status", string(view.Status)),
			slog.Int("progress", view.Progress),
			slog.Duration("next_poll", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return view, ctx.Err()
		case <-timer.C:
		}
	}
}
