package job

import "time"

// Type categorizes the opaque payload a job carries. It selects the
// registered handler and the default timeout/retry policy.
type Type string

const (
	TypePDFAnalysis       Type = "pdf_analysis"
	TypeResumeAnalysis    Type = "resume_analysis"
	TypeCandidateMatching Type = "candidate_matching"
	TypeBulkImport        Type = "bulk_import"
	TypeReportGeneration  Type = "report_generation"
)

// Policy holds per-type defaults applied at creation and delivery time.
type Policy struct {
	// Timeout is the default budget for jobs of this type.
	Timeout time.Duration
	// MaxRetries is the number of broker redeliveries after the first attempt.
	MaxRetries int
	// Queue is the broker queue messages of this type are published to.
	Queue string
}

// DefaultPolicy applies to types without an explicit entry.
var DefaultPolicy = Policy{
	Timeout:    5 * time.Minute,
	MaxRetries: 3,
	Queue:      "default",
}

var policies = map[Type]Policy{
	TypePDFAnalysis:       {Timeout: 10 * time.Minute, MaxRetries: 2, Queue: "ai"},
	TypeResumeAnalysis:    {Timeout: 5 * time.Minute, MaxRetries: 2, Queue: "ai"},
	TypeCandidateMatching: {Timeout: 2 * time.Minute, MaxRetries: 3, Queue: "default"},
	TypeBulkImport:        {Timeout: 30 * time.Minute, MaxRetries: 1, Queue: "bulk"},
	TypeReportGeneration:  {Timeout: 15 * time.Minute, MaxRetries: 3, Queue: "default"},
}

// PolicyFor returns the policy for t, falling back to DefaultPolicy.
func PolicyFor(t Type) Policy {
	if p, ok := policies[t]; ok {
		return p
	}
	return DefaultPolicy
}
