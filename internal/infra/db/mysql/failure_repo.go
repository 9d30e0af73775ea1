package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/skinscan/internal/domain/failures"
	"github.com/bryanwahyu/skinscan/internal/infra/db"
)

type FailureRepository struct {
	db *sql.DB
}

func NewFailureRepository(conn *sql.DB) *FailureRepository { return &FailureRepository{db: conn} }

func (r *FailureRepository) Save(ctx context.Context, f *domain.Failure) error {
	const q = `
INSERT INTO analysis_failures
  (id, user_id, report_id, image_ref, phase, message, retryable, created_at)
VALUES (?,?,?,?,?,?,?,?)
`
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	msg := f.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		f.ID, stringOrDash(f.UserID), f.ReportID, stringOrDash(f.ImageRef),
		stringOrDash(string(f.Phase)), msg, f.Retryable, created)
	return db.Wrap("save failure", err)
}

func (r *FailureRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.Failure, error) {
	const q = `
SELECT id, user_id, report_id, image_ref, phase, message, retryable, created_at
FROM analysis_failures
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, userID, db.Limit(limit))
	if err != nil {
		return nil, db.Wrap("list failures", err)
	}
	defer rows.Close()
	var out []*domain.Failure
	for rows.Next() {
		var f domain.Failure
		if err := rows.Scan(&f.ID, &f.UserID, &f.ReportID, &f.ImageRef, &f.Phase, &f.Message, &f.Retryable, &f.CreatedAt); err != nil {
			return nil, db.Wrap("list failures", err)
		}
		out = append(out, &f)
	}
	return out, db.Wrap("list failures", rows.Err())
}
