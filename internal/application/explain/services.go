package explain

import (
	"context"

	"github.com/bryanwahyu/skinscan/internal/domain/ai"
	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
)

// ReportGetter loads a report owned by a user.
type ReportGetter interface {
	Get(ctx context.Context, userID string, id domain.ID) (*domain.Report, error)
}

type Service struct {
	client  ai.Explainer
	reports ReportGetter
}

// NewService returns a service; a nil client makes every call ErrUnavailable.
func NewService(client ai.Explainer, reports ReportGetter) *Service {
	return &Service{client: client, reports: reports}
}

func (s *Service) Enabled() bool { return s != nil && s.client != nil }

// Explain describes the diagnosis of an analyzed report in plain language.
func (s *Service) Explain(ctx context.Context, userID string, id domain.ID) (string, error) {
	if !s.Enabled() {
		return "", ai.ErrUnavailable
	}
	r, err := s.reports.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	snap := r.Clone()
	if snap.Diagnosis == nil {
		return "", domain.ErrNotAnalyzed
	}
	return s.client.Explain(ctx, diagnosis.Describe(*snap.Diagnosis))
}
