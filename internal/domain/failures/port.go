package failures

import "context"

// Repository defines persistence for failed analyses
type Repository interface {
	Save(ctx context.Context, f *Failure) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Failure, error)
}
