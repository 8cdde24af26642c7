package broker_test

import (
	"errors"
	"testing"

	"github.com/xraph/asyncjob/broker"
	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

func TestMessage_TrackedJob(t *testing.T) {
	jobID := id.NewJobID()

	tests := []struct {
		name    string
		jobID   string
		wantOK  bool
		wantErr bool
	}{
		{"tracked", jobID.String(), true, false},
		{"untracked", "", false, false},
		{"malformed", "not-a-job-id", true, true},
		{"wrong prefix", id.NewWorkerID().String(), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &broker.Message{JobID: tt.jobID}
			got, ok, err := m.TrackedJob()
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.name == "tracked" && got.String() != jobID.String() {
				t.Errorf("job id = %q, want %q", got, jobID)
			}
		})
	}
}

func TestMessage_Retry(t *testing.T) {
	m := broker.NewMessage("ai", job.TypePDFAnalysis, id.NewJobID(), []byte(`{}`), 2)
	m = m.WithReceipt([]byte("r-1"))

	if !m.WillRetry() {
		t.Fatal("first attempt with budget 2 should retry")
	}

	next := m.Retry(errors.New("ocr service down"))
	if next.Attempt != 1 || next.LastError != "ocr service down" {
		t.Errorf("next = attempt %d error %q", next.Attempt, next.LastError)
	}
	if next.ID != m.ID {
		t.Error("retry must keep the message id")
	}
	if next.Receipt() != nil {
		t.Error("retry must drop the delivery receipt")
	}
	if m.Attempt != 0 {
		t.Error("retry mutated the original message")
	}

	last := next.Retry(nil)
	if last.WillRetry() {
		t.Error("attempt 2 of 2 retries should not retry again")
	}
}

func TestCodecs(t *testing.T) {
	for _, name := range []string{broker.CodecJSON, broker.CodecMsgpack} {
		t.Run(name, func(t *testing.T) {
			c, err := broker.CodecByName(name)
			if err != nil {
				t.Fatal(err)
			}
			if c.Name() != name {
				t.Errorf("Name() = %q, want %q", c.Name(), name)
			}

			in := broker.NewMessage("ai", job.TypeResumeAnalysis, id.NewJobID(), []byte(`{"candidate_id":"c"}`), 3)
			data, err := c.Marshal(in)
			if err != nil {
				t.Fatal(err)
			}
			var out broker.Message
			if err := c.Unmarshal(data, &out); err != nil {
				t.Fatal(err)
			}
			if out.JobID != in.JobID || out.Type != in.Type || string(out.Payload) != string(in.Payload) {
				t.Errorf("decoded %+v, want %+v", out, in)
			}
			if !out.EnqueuedAt.Equal(in.EnqueuedAt) {
				t.Errorf("EnqueuedAt = %v, want %v", out.EnqueuedAt, in.EnqueuedAt)
			}
		})
	}

	if _, err := broker.CodecByName("protobuf"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
