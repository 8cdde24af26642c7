package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/asyncjob"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// JobCountsResponse reports how many jobs sit in each status.
type JobCountsResponse struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Timeout    int64 `json:"timeout"`
	Total      int64 `json:"total"`
}

func (a *API) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	view, err := a.orch.GetStatus(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	j, err := a.orch.Get(r.Context(), jobID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := job.StatusPending
	if s := q.Get("status"); s != "" {
		parsed, err := job.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	jobs, err := a.orch.Store().ListJobsByStatus(r.Context(), status, job.ListOpts{
		Limit:  limit,
		Offset: offset,
		Type:   job.Type(q.Get("type")),
	})
	if err != nil {
		writeStoreError(w, fmt.Errorf("list jobs: %w", err))
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobType := job.Type(r.URL.Query().Get("type"))

	var resp JobCountsResponse
	for _, status := range []job.Status{
		job.StatusPending,
		job.StatusProcessing,
		job.StatusCompleted,
		job.StatusFailed,
		job.StatusTimeout,
	} {
		count, err := a.orch.Store().CountJobs(ctx, job.CountOpts{Type: jobType, Status: status})
		if err != nil {
			writeStoreError(w, fmt.Errorf("count jobs (%s): %w", status, err))
			return
		}
		switch status {
		case job.StatusPending:
			resp.Pending = count
		case job.StatusProcessing:
			resp.Processing = count
		case job.StatusCompleted:
			resp.Completed = count
		case job.StatusFailed:
			resp.Failed = count
		case job.StatusTimeout:
			resp.Timeout = count
		}
		resp.Total += count
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── helpers ──────────────────────────────────────────────────────

func parseJobID(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job ID: %v", err))
		return id.Nil, false
	}
	return jobID, true
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, asyncjob.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
