package provider

import (
	"encoding/json"
	"strings"
)

// Status is the provider-side state of an asynchronous reveal job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further polling is needed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ParseStatus maps the provider's status vocabulary onto Status. Unknown
// values are treated as still processing.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "completed", "done", "success", "succeeded":
		return StatusComplete
	case "failed", "failure", "error":
		return StatusFailed
	case "pending", "queued", "created", "":
		return StatusPending
	default:
		return StatusProcessing
	}
}

// EnrichOptions are forwarded verbatim as the job "options" object.
type EnrichOptions struct {
	Email bool   `json:"email"`
	Phone bool   `json:"phone"`
	Depth string `json:"depth,omitempty"`
}

// JobRef is the handle returned by CreateJob.
type JobRef struct {
	ID      string
	Credits *float64
}

// Job is one status observation of a reveal job.
type Job struct {
	ID     string
	Status Status
	Reason string

	// AccountLevel is set when the provider marks a billing failure as
	// affecting the whole account rather than the key.
	AccountLevel bool

	Result  json.RawMessage
	Credits *float64
}

type SearchRequest struct {
	Filters map[string]any `json:"filters"`
	Size    int            `json:"size"`
	Page    int            `json:"page,omitempty"`
}

type SearchResponse struct {
	Total    int              `json:"total"`
	Profiles []map[string]any `json:"profiles"`
	Credits  *float64         `json:"-"`
}

func (r SearchResponse) CreditHint() *float64 { return r.Credits }

type createJobRequest struct {
	Target  string        `json:"target"`
	Options EnrichOptions `json:"options"`
}

type createJobResponse struct {
	JobID            string   `json:"job_id"`
	ID               string   `json:"id"`
	CreditsRemaining *float64 `json:"credits_remaining"`
}

type jobResponse struct {
	JobID            string          `json:"job_id"`
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	Reason           string          `json:"reason"`
	AccountLevel     bool            `json:"account_level"`
	Result           json.RawMessage `json:"result"`
	CreditsRemaining *float64        `json:"credits_remaining"`
}

type searchResponse struct {
	Total            int              `json:"total"`
	Profiles         []map[string]any `json:"profiles"`
	CreditsRemaining *float64         `json:"credits_remaining"`
}
