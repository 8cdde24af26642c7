package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/xraph/asyncjob/id"
	"github.com/xraph/asyncjob/job"
)

// Message is the envelope delivered to workers. JobID links the message to
// a job record; messages without one are delivered but not tracked.
type Message struct {
	// ID uniquely identifies this delivery chain. Redeliveries keep it.
	ID string `json:"id" msgpack:"id"`

	// Queue is the queue the message was published to.
	Queue string `json:"queue" msgpack:"queue"`

	// Type selects the registered handler.
	Type job.Type `json:"type" msgpack:"type"`

	// JobID is the string form of the tracked job's ID, if any.
	JobID string `json:"job_id,omitempty" msgpack:"job_id,omitempty"`

	// Payload is the codec-encoded handler input.
	Payload []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// Attempt counts deliveries before this one. Zero is the first attempt.
	Attempt int `json:"attempt" msgpack:"attempt"`

	// MaxRetries is how many redeliveries are allowed after a failure.
	MaxRetries int `json:"max_retries" msgpack:"max_retries"`

	// LastError holds the error of the previous attempt.
	LastError string `json:"last_error,omitempty" msgpack:"last_error,omitempty"`

	// EnqueuedAt records when the message was first published.
	EnqueuedAt time.Time `json:"enqueued_at" msgpack:"enqueued_at"`

	// receipt is the broker-specific handle needed to acknowledge this
	// delivery. It is never serialized.
	receipt []byte
}

// NewMessage builds a first-attempt message for a tracked job.
func NewMessage(queue string, t job.Type, jobID id.JobID, payload []byte, maxRetries int) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Queue:      queue,
		Type:       t,
		JobID:      jobID.String(),
		Payload:    payload,
		MaxRetries: maxRetries,
		EnqueuedAt: time.Now().UTC(),
	}
}

// TrackedJob parses JobID. ok is false when the message carries no job_id.
func (m *Message) TrackedJob() (jobID id.JobID, ok bool, err error) {
	if m.JobID == "" {
		return id.Nil, false, nil
	}
	jobID, err = id.ParseJobID(m.JobID)
	if err != nil {
		return id.Nil, true, err
	}
	return jobID, true, nil
}

// WillRetry reports whether a failure of this attempt leads to a
// redelivery.
func (m *Message) WillRetry() bool {
	return m.Attempt < m.MaxRetries
}

// Retry returns the message for the next attempt.
func (m *Message) Retry(lastErr error) *Message {
	next := *m
	next.Attempt++
	next.receipt = nil
	if lastErr != nil {
		next.LastError = lastErr.Error()
	}
	return &next
}

// Receipt returns the broker handle of this delivery.
func (m *Message) Receipt() []byte { return m.receipt }

// WithReceipt returns a shallow copy carrying the given delivery handle.
// Broker implementations call it when handing a message to a consumer.
func (m *Message) WithReceipt(r []byte) *Message {
	cp := *m
	cp.receipt = r
	return &cp
}
