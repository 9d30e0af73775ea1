package reports

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// ID tipe untuk Report
type ID string

// State enum
type State string

const (
	StateDraft     State = "draft"
	StateAnalyzing State = "analyzing"
	StateAnalyzed  State = "analyzed"
	StateSaved     State = "saved"
	StateShared    State = "shared"
	StateFeedback  State = "feedback"
)

var stateRank = map[State]int{
	StateDraft:     0,
	StateAnalyzing: 1,
	StateAnalyzed:  2,
	StateSaved:     3,
	StateShared:    4,
	StateFeedback:  5,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Reached reports whether s is at or past other in the lifecycle.
func (s State) Reached(other State) bool {
	return stateRank[s] >= stateRank[other]
}

// Aggregate Root: Report
//
// Fields are exported for persistence adapters; callers mutate a report only
// through the lifecycle methods in lifecycle.go. Always handle reports by pointer.
type Report struct {
	mu sync.Mutex

	ID                ID                `json:"id,omitempty"`
	UserID            string            `json:"user_id"`
	ImageRef          string            `json:"image_ref"`
	Diagnosis         *diagnosis.Result `json:"diagnosis,omitempty"`
	State             State             `json:"state"`
	SharedWithDoctors []string          `json:"shared_with_doctors"`
	DoctorFeedback    *string           `json:"doctor_feedback,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	// Version is the stored revision this instance was loaded at; 0 until saved.
	Version           int64             `json:"version"`

	analysisSeq uint64
	analysisErr error
}

// New creates a draft report for an image.
func New(userID, imageRef string, now time.Time) (*Report, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if imageRef == "" {
		return nil, ErrNoImage
	}
	return &Report{
		UserID:            userID,
		ImageRef:          imageRef,
		State:             StateDraft,
		SharedWithDoctors: []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (r *Report) MarshalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type Alias Report
	return json.Marshal((*Alias)(r))
}

func (r *Report) UnmarshalJSON(data []byte) error {
	type Alias Report
	return json.Unmarshal(data, (*Alias)(r))
}

// CurrentState returns the lifecycle state under the report lock.
func (r *Report) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.State
}

// Doctors returns a copy of the doctors the report is shared with.
func (r *Report) Doctors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.SharedWithDoctors...)
}

// SetVersion records the revision the store accepted for this instance.
func (r *Report) SetVersion(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Version = v
}

// AnalysisErr returns the error recorded by the last FailAnalysis on this instance.
func (r *Report) AnalysisErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.analysisErr
}

// Clone returns a deep copy without the lock or in-flight analysis bookkeeping.
func (r *Report) Clone() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Report{
		ID:                r.ID,
		UserID:            r.UserID,
		ImageRef:          r.ImageRef,
		State:             r.State,
		SharedWithDoctors: append([]string{}, r.SharedWithDoctors...),
		LastError:         r.LastError,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
		Version:           r.Version,
	}
	if r.Diagnosis != nil {
		d := *r.Diagnosis
		if d.Scores != nil {
			d.Scores = make(diagnosis.Scores, len(r.Diagnosis.Scores))
			for k, v := range r.Diagnosis.Scores {
				d.Scores[k] = v
			}
		}
		c.Diagnosis = &d
	}
	if r.DoctorFeedback != nil {
		f := *r.DoctorFeedback
		c.DoctorFeedback = &f
	}
	return c
}
