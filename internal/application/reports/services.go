package reports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/skinscan/internal/application"
	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	"github.com/bryanwahyu/skinscan/internal/domain/failures"
	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
)

// Classifier runs one image through decode, inference and stratification.
type Classifier interface {
	ClassifyImage(ctx context.Context, imageRef string) (diagnosis.Result, error)
}

// Service implements use-cases untuk Report.
// Service is safe for concurrent use; a single *Report is guarded by its own lock.
type Service struct {
	Repo       domain.Repository
	Classifier Classifier
	// Stratifier must match the one the classifier stratifies with.
	Stratifier diagnosis.Stratifier
	Images     domain.ImageStore
	FailureLog failures.Repository
	Clock      application.Clock
	Log        *zap.Logger
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return application.SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

//
// ==== USE CASES ====
//

// ClassifyImage classifies without creating a report.
func (s *Service) ClassifyImage(ctx context.Context, imageRef string) (diagnosis.Result, error) {
	if strings.TrimSpace(imageRef) == "" {
		return diagnosis.Result{}, domain.ErrNoImage
	}
	return s.Classifier.ClassifyImage(ctx, imageRef)
}

// CreateReport makes a draft. Nothing is persisted until SaveReport.
func (s *Service) CreateReport(_ context.Context, userID, imageRef string) (*domain.Report, error) {
	return domain.New(strings.TrimSpace(userID), strings.TrimSpace(imageRef), s.now())
}

// Analyze runs the pipeline for r. On failure r is back in draft, the
// failure is logged to the failure store and the pipeline error is returned.
func (s *Service) Analyze(ctx context.Context, r *domain.Report) error {
	h, err := r.StartAnalysis()
	if err != nil {
		return err
	}

	res, err := s.Classifier.ClassifyImage(ctx, h.ImageRef)
	if err == nil {
		err = r.CompleteAnalysis(h, res, s.Stratifier, s.now())
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrInvalidResult) {
			return err
		}
	}

	if ferr := r.FailAnalysis(h, err, s.now()); ferr != nil {
		return errors.Join(err, ferr)
	}
	s.recordFailure(ctx, r, err)
	return err
}

// SaveReport persists an analyzed report. The state is unchanged on failure.
func (s *Service) SaveReport(ctx context.Context, r *domain.Report) (domain.ID, error) {
	if err := r.CanSave(); err != nil {
		return "", err
	}
	id, err := s.Repo.Save(ctx, r)
	if err != nil {
		return "", persistence(err)
	}
	if err := r.MarkSaved(id, s.now()); err != nil {
		return "", err
	}
	s.log().Info("report saved", zap.String("id", string(id)), zap.String("user", r.UserID))
	return id, nil
}

// Scan creates, analyzes and saves a report in one call. On an analysis
// failure the draft report is returned along with the error.
func (s *Service) Scan(ctx context.Context, userID, imageRef string) (*domain.Report, error) {
	r, err := s.CreateReport(ctx, userID, imageRef)
	if err != nil {
		return nil, err
	}
	if err := s.Analyze(ctx, r); err != nil {
		return r, err
	}
	if _, err := s.SaveReport(ctx, r); err != nil {
		return r, err
	}
	return r, nil
}

// ShareReport adds doctors to a saved report owned by userID.
func (s *Service) ShareReport(ctx context.Context, userID string, id domain.ID, doctorIDs []string) (*domain.Report, error) {
	r, err := s.modify(ctx, userID, id, func(r *domain.Report) error {
		return r.Share(s.now(), doctorIDs...)
	})
	if err != nil {
		return nil, err
	}
	s.log().Info("report shared", zap.String("id", string(id)), zap.Strings("doctors", doctorIDs))
	return r, nil
}

// AddFeedback stores doctor feedback on a shared report.
func (s *Service) AddFeedback(ctx context.Context, userID string, id domain.ID, text string) (*domain.Report, error) {
	return s.modify(ctx, userID, id, func(r *domain.Report) error {
		return r.AddFeedback(text, s.now())
	})
}

// updateAttempts bounds the load-change-write rounds of one request.
const updateAttempts = 5

// modify loads a report, applies fn and writes it back. A concurrent write
// in between makes Update fail with ErrConflict; the round starts over from
// a fresh load so no change of the other writer is lost.
func (s *Service) modify(ctx context.Context, userID string, id domain.ID, fn func(*domain.Report) error) (*domain.Report, error) {
	var err error
	for attempt := 1; attempt <= updateAttempts; attempt++ {
		var r *domain.Report
		if r, err = s.Get(ctx, userID, id); err != nil {
			return nil, err
		}
		if err = fn(r); err != nil {
			return nil, err
		}
		if err = s.Repo.Update(ctx, r); err == nil {
			return r, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, persistence(err)
		}
		s.log().Debug("report changed concurrently, reloading",
			zap.String("id", string(id)), zap.Int("attempt", attempt))
	}
	return nil, err
}

// Get loads a report owned by userID. Reports of other users are not found.
func (s *Service) Get(ctx context.Context, userID string, id domain.ID) (*domain.Report, error) {
	r, err := s.Repo.Load(ctx, id)
	if err != nil {
		return nil, persistence(err)
	}
	if r.UserID != userID {
		return nil, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (s *Service) Latest(ctx context.Context, userID string, limit int) ([]*domain.Report, error) {
	list, err := s.Repo.Latest(ctx, userID, limit)
	if err != nil {
		return nil, persistence(err)
	}
	return list, nil
}

func (s *Service) Delete(ctx context.Context, userID string, id domain.ID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return persistence(err)
	}
	s.log().Info("report deleted", zap.String("id", string(id)), zap.String("user", userID))
	return nil
}

func (s *Service) Failures(ctx context.Context, userID string, limit int) ([]*failures.Failure, error) {
	if s.FailureLog == nil {
		return nil, nil
	}
	list, err := s.FailureLog.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, persistence(err)
	}
	return list, nil
}

var imageExt = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// UploadImage stores an image under the user's prefix and returns its reference.
func (s *Service) UploadImage(ctx context.Context, userID string, r io.Reader, size int64, contentType string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", domain.ErrNoUser
	}
	ext, ok := imageExt[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("%w: content type %q", diagnosis.ErrUnsupportedFormat, contentType)
	}
	key := fmt.Sprintf("%s/%s%s", userID, uuid.New().String(), ext)
	ref, err := s.Images.Put(ctx, key, r, size, contentType)
	if err != nil {
		return "", persistence(err)
	}
	return ref, nil
}

func (s *Service) recordFailure(ctx context.Context, r *domain.Report, cause error) {
	s.log().Warn("analysis failed",
		zap.String("user", r.UserID),
		zap.String("image", r.ImageRef),
		zap.Error(cause))
	if s.FailureLog == nil {
		return
	}
	snap := r.Clone()
	f := &failures.Failure{
		UserID:    snap.UserID,
		ReportID:  string(snap.ID),
		ImageRef:  snap.ImageRef,
		Phase:     phaseOf(cause),
		Message:   cause.Error(),
		Retryable: diagnosis.Retryable(cause),
		CreatedAt: s.now(),
	}
	// the failure is logged even when the caller has gone away
	if err := s.FailureLog.Save(context.WithoutCancel(ctx), f); err != nil {
		s.log().Error("record failure", zap.Error(err))
	}
}

func phaseOf(err error) failures.Phase {
	switch {
	case errors.Is(err, diagnosis.ErrDecode), errors.Is(err, diagnosis.ErrUnsupportedFormat):
		return failures.PhaseDecode
	case errors.Is(err, diagnosis.ErrTimeout):
		return failures.PhaseTimeout
	case errors.Is(err, context.Canceled):
		return failures.PhaseCanceled
	case errors.Is(err, diagnosis.ErrInference), errors.Is(err, diagnosis.ErrBusy),
		errors.Is(err, domain.ErrInvalidResult):
		return failures.PhaseInference
	default:
		return failures.PhaseOther
	}
}

// persistence makes sure store errors carry ErrPersistence or ErrNotFound.
func persistence(err error) error {
	if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}
