package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/skinscan/internal/domain/failures"
	"github.com/bryanwahyu/skinscan/internal/infra/db"
)

var notFound = sql.ErrNoRows

type FailureRepository struct {
	mu   sync.RWMutex
	rows []*domain.Failure
}

func NewFailureRepository() *FailureRepository { return &FailureRepository{} }

func (r *FailureRepository) Save(_ context.Context, f *domain.Failure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	c := *f
	r.mu.Lock()
	r.rows = append(r.rows, &c)
	r.mu.Unlock()
	return nil
}

func (r *FailureRepository) ListByUser(_ context.Context, userID string, limit int) ([]*domain.Failure, error) {
	r.mu.RLock()
	var out []*domain.Failure
	for _, f := range r.rows {
		if f.UserID == userID {
			c := *f
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := db.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
