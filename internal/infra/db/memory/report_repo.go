// Package memory keeps reports and failures in process memory. It backs the
// "memory" database driver and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
	"github.com/bryanwahyu/skinscan/internal/infra/db"
)

type ReportRepository struct {
	mu   sync.RWMutex
	rows map[domain.ID]*domain.Report
	// FailWith, when set, is returned by every call.
	FailWith error
}

func NewReportRepository() *ReportRepository {
	return &ReportRepository{rows: make(map[domain.ID]*domain.Report)}
}

func (r *ReportRepository) Save(_ context.Context, rep *domain.Report) (domain.ID, error) {
	if r.FailWith != nil {
		return "", db.Wrap("save", r.FailWith)
	}
	c := rep.Clone()
	c.ID = domain.ID(uuid.New().String())
	c.State = domain.StateSaved
	c.Version = 1

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[c.ID] = c
	return c.ID, nil
}

func (r *ReportRepository) Load(_ context.Context, id domain.ID) (*domain.Report, error) {
	if r.FailWith != nil {
		return nil, db.Wrap("load", r.FailWith)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.rows[id]
	if !ok {
		return nil, db.Wrap("load", notFound)
	}
	return rep.Clone(), nil
}

func (r *ReportRepository) Update(_ context.Context, rep *domain.Report) error {
	if r.FailWith != nil {
		return db.Wrap("update", r.FailWith)
	}
	c := rep.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[c.ID]
	if !ok {
		return db.Wrap("update", notFound)
	}
	if cur.Version != c.Version {
		return db.Wrap("update", domain.ErrConflict)
	}
	c.Version++
	r.rows[c.ID] = c
	rep.SetVersion(c.Version)
	return nil
}

func (r *ReportRepository) Latest(_ context.Context, userID string, limit int) ([]*domain.Report, error) {
	if r.FailWith != nil {
		return nil, db.Wrap("latest", r.FailWith)
	}
	r.mu.RLock()
	var out []*domain.Report
	for _, rep := range r.rows {
		if rep.UserID == userID {
			out = append(out, rep.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := db.Limit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *ReportRepository) Delete(_ context.Context, id domain.ID) error {
	if r.FailWith != nil {
		return db.Wrap("delete", r.FailWith)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return db.Wrap("delete", notFound)
	}
	delete(r.rows, id)
	return nil
}

// Len is the number of stored reports.
func (r *ReportRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
