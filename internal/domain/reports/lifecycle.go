package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// AnalysisHandle identifies one analysis run of one report instance.
type AnalysisHandle struct {
	ImageRef string
	seq      uint64
}

// StartAnalysis moves draft → analyzing.
func (r *Report) StartAnalysis() (AnalysisHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.State == StateAnalyzing:
		return AnalysisHandle{}, ErrAnalysisInProgress
	case r.State != StateDraft:
		return AnalysisHandle{}, fmt.Errorf("%w: state %s", ErrAlreadyAnalyzed, r.State)
	case r.ImageRef == "":
		return AnalysisHandle{}, ErrNoImage
	}
	r.analysisSeq++
	r.State = StateAnalyzing
	return AnalysisHandle{ImageRef: r.ImageRef, seq: r.analysisSeq}, nil
}

func (r *Report) checkHandle(h AnalysisHandle) error {
	if r.State != StateAnalyzing {
		return fmt.Errorf("%w: state %s", ErrNotAnalyzing, r.State)
	}
	if h.seq == 0 || h.seq != r.analysisSeq {
		return ErrStaleAnalysis
	}
	return nil
}

// CompleteAnalysis moves analyzing → analyzed and attaches the result. The
// result must carry the risk level s derives for its class and confidence.
func (r *Report) CompleteAnalysis(h AnalysisHandle, res diagnosis.Result, s diagnosis.Stratifier, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkHandle(h); err != nil {
		return err
	}
	if err := s.Check(res); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	r.Diagnosis = &res
	r.State = StateAnalyzed
	r.LastError = ""
	r.analysisErr = nil
	r.UpdatedAt = now
	return nil
}

// FailAnalysis moves analyzing → draft and records cause for the caller.
func (r *Report) FailAnalysis(h AnalysisHandle, cause error, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkHandle(h); err != nil {
		return err
	}
	if cause == nil {
		cause = diagnosis.ErrInference
	}
	r.State = StateDraft
	r.analysisErr = cause
	r.LastError = cause.Error()
	r.UpdatedAt = now
	return nil
}

// CanSave returns ErrNotAnalyzed unless the report is analyzed and unsaved.
func (r *Report) CanSave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canSave()
}

func (r *Report) canSave() error {
	if r.ID != "" || r.State.Reached(StateSaved) {
		return ErrAlreadySaved
	}
	if r.State != StateAnalyzed || r.Diagnosis == nil {
		return fmt.Errorf("%w: state %s", ErrNotAnalyzed, r.State)
	}
	return nil
}

// MarkSaved moves analyzed → saved once the store has assigned id.
func (r *Report) MarkSaved(id ID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.canSave(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrPersistence)
	}
	r.ID = id
	r.State = StateSaved
	r.Version = 1
	r.UpdatedAt = now
	return nil
}

// Share adds doctors as a set union, keeping first-seen order. Saved reports
// become shared; shared and feedback reports keep their state.
func (r *Report) Share(now time.Time, doctorIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.State.Reached(StateSaved) || r.ID == "" {
		return fmt.Errorf("%w: state %s", ErrNotSaved, r.State)
	}
	cleaned := make([]string, 0, len(doctorIDs))
	for _, d := range doctorIDs {
		d = strings.TrimSpace(d)
		if d == "" {
			return ErrInvalidDoctor
		}
		cleaned = append(cleaned, d)
	}
	if len(cleaned) == 0 {
		return ErrInvalidDoctor
	}

	seen := make(map[string]struct{}, len(r.SharedWithDoctors)+len(cleaned))
	for _, d := range r.SharedWithDoctors {
		seen[d] = struct{}{}
	}
	for _, d := range cleaned {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		r.SharedWithDoctors = append(r.SharedWithDoctors, d)
	}
	if r.State == StateSaved {
		r.State = StateShared
	}
	r.UpdatedAt = now
	return nil
}

// AddFeedback records doctor feedback; the report must be shared first.
func (r *Report) AddFeedback(text string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.SharedWithDoctors) == 0 {
		return ErrNotShared
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyFeedback
	}
	r.DoctorFeedback = &text
	r.State = StateFeedback
	r.UpdatedAt = now
	return nil
}
