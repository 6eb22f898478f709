// Package model defines the shared domain types for the research pipeline.
package model

// Phase is the job's current stage in the state machine.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhasePlanning  Phase = "planning"
	PhaseSearching Phase = "searching"
	PhaseWriting   Phase = "writing"
	PhaseEmail     Phase = "email"
	PhaseDone      Phase = "done"

	// Terminal short-circuit phases.
	PhaseRejected Phase = "rejected"
	PhaseError    Phase = "error"

	// PhaseUnknown is reported for job IDs the status store has never seen.
	PhaseUnknown Phase = "unknown"
)

// Terminal reports whether the phase ends a job's lifecycle.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDone, PhaseRejected, PhaseError:
		return true
	default:
		return false
	}
}

// Status is the externally visible state of a job. Phase, Detail and Payload
// are always written together so pollers never observe a partial update.
type Status struct {
	JobID   string         `json:"job_id"`
	Phase   Phase          `json:"phase"`
	Detail  string         `json:"detail,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DeliveryResult reports the outcome of an email delivery attempt.
type DeliveryResult struct {
	Status     string   `json:"status"`
	StatusCode int      `json:"status_code"`
	Links      []string `json:"links,omitempty"`
}
