package failures

import "time"

// Phase of the pipeline in which an analysis failed.
type Phase string

const (
	PhaseDecode    Phase = "decode"
	PhaseInference Phase = "inference"
	PhaseTimeout   Phase = "timeout"
	PhaseCanceled  Phase = "canceled"
	PhaseOther     Phase = "other"
)

// Failure represents a persisted failed analysis entry
type Failure struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ReportID  string    `json:"report_id,omitempty"`
	ImageRef  string    `json:"image_ref"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	CreatedAt time.Time `json:"created_at"`
}
