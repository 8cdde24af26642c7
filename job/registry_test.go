package job_test

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

type resumePayload struct {
	CandidateID string `json:"candidate_id"`
	FileURL     string `json:"file_url"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var (
		got   resumePayload
		gotID id.JobID
	)
	def := job.NewDefinition(job.TypeResumeAnalysis, func(_ context.Context, jobID id.JobID, p resumePayload) error {
		gotID = jobID
		got = p
		return nil
	})

	job.RegisterDefinition(r, def, json.Unmarshal)

	e, ok := r.Get(job.TypeResumeAnalysis)
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	jobID := id.NewJobID()
	payload, _ := json.Marshal(resumePayload{CandidateID: "cand-1", FileURL: "s3://cv.pdf"})
	if err := e.Handler(context.Background(), jobID, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CandidateID != "cand-1" {
		t.Errorf("CandidateID = %q, want %q", got.CandidateID, "cand-1")
	}
	if gotID.String() != jobID.String() {
		t.Errorf("jobID = %q, want %q", gotID, jobID)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered type")
	}
}

func TestRegistry_InvalidPayload(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition(job.TypePDFAnalysis, func(_ context.Context, _ id.JobID, _ resumePayload) error {
		t.Fatal("handler should not be called with an invalid payload")
		return nil
	}), json.Unmarshal)

	e, _ := r.Get(job.TypePDFAnalysis)
	if err := e.Handler(context.Background(), id.NewJobID(), []byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegistry_PolicyAndQueues(t *testing.T) {
	r := job.NewRegistry()
	noop := func(_ context.Context, _ id.JobID, _ struct{}) error { return nil }

	job.RegisterDefinition(r, job.NewDefinition(job.TypePDFAnalysis, noop), json.Unmarshal)
	job.RegisterDefinition(r, job.NewDefinition(job.TypeResumeAnalysis, noop), json.Unmarshal)
	job.RegisterDefinition(r, job.NewDefinition(job.TypeBulkImport, noop,
		job.WithQueue("imports"), job.WithMaxRetries(0)), json.Unmarshal)

	p := r.Policy(job.TypeBulkImport)
	if p.Queue != "imports" || p.MaxRetries != 0 {
		t.Errorf("policy = %+v, want queue imports and no retries", p)
	}
	if got := r.Policy("unregistered"); got != job.DefaultPolicy {
		t.Errorf("unregistered policy = %+v, want default", got)
	}

	queues := r.Queues()
	sort.Strings(queues)
	want := []string{"ai", "imports"}
	if len(queues) != len(want) {
		t.Fatalf("queues = %v, want %v", queues, want)
	}
	for i := range want {
		if queues[i] != want[i] {
			t.Errorf("queues[%d] = %q, want %q", i, queues[i], want[i])
		}
	}
}
