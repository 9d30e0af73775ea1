package reports

import "errors"

// Lifecycle precondition errors are caller bugs and are not retryable.
var (
	ErrNoUser             = errors.New("report requires a user")
	ErrNoImage            = errors.New("report has no image attached")
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	ErrAlreadyAnalyzed    = errors.New("report already analyzed")
	ErrNotAnalyzing       = errors.New("report is not being analyzed")
	ErrStaleAnalysis      = errors.New("analysis handle does not match the running analysis")
	ErrInvalidResult      = errors.New("invalid diagnosis result")
	ErrNotAnalyzed        = errors.New("report not analyzed")
	ErrAlreadySaved       = errors.New("report already saved")
	ErrNotSaved           = errors.New("report not saved")
	ErrNotShared          = errors.New("report not shared with any doctor")
	ErrInvalidDoctor      = errors.New("doctor identifier is empty")
	ErrEmptyFeedback      = errors.New("feedback text is empty")
)

// Collaborator errors.
var (
	ErrPersistence = errors.New("persistence failure")
	ErrNotFound    = errors.New("report not found")
	// ErrConflict: the stored report changed since it was loaded.
	ErrConflict    = errors.New("report was modified concurrently")
)

// IsLifecycle reports whether err is a lifecycle precondition violation.
func IsLifecycle(err error) bool {
	for _, target := range []error{
		ErrNoUser, ErrNoImage, ErrAnalysisInProgress, ErrAlreadyAnalyzed, ErrNotAnalyzing,
		ErrStaleAnalysis, ErrInvalidResult, ErrNotAnalyzed, ErrAlreadySaved, ErrNotSaved,
		ErrNotShared, ErrInvalidDoctor, ErrEmptyFeedback,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
