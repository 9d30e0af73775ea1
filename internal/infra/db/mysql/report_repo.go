package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
	"github.com/bryanwahyu/skinscan/internal/infra/db"
)

type ReportRepository struct {
	db *sql.DB
}

func NewReportRepository(conn *sql.DB) *ReportRepository {
	return &ReportRepository{db: conn}
}

const reportColumns = `id, user_id, image_ref, state,
       cancer_type, confidence, risk_level, inconclusive, scores_json,
       shared_with_doctors, doctor_feedback, last_error, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var rec db.Record
	var doctors string
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ImageRef, &rec.State,
		&rec.CancerType, &rec.Confidence, &rec.RiskLevel, &rec.Inconclusive, &rec.ScoresJSON,
		&doctors, &rec.DoctorFeedback, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
	); err != nil {
		return nil, err
	}
	if err := rec.SetDoctorsJSON(doctors); err != nil {
		return nil, err
	}
	return rec.Report()
}

// Save inserts a new report row and returns the generated id. The row is
// written in the saved state; the caller moves the aggregate once this returns.
func (r *ReportRepository) Save(ctx context.Context, rep *domain.Report) (domain.ID, error) {
	const q = `
INSERT INTO skin_reports
(id, user_id, image_ref, state,
 cancer_type, confidence, risk_level, inconclusive, scores_json,
 shared_with_doctors, doctor_feedback, last_error, created_at, updated_at, version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,1);
`
	rec, err := db.FromReport(rep)
	if err != nil {
		return "", db.Wrap("save", err)
	}
	id := uuid.New().String()
	_, err = r.db.ExecContext(ctx, q,
		id, stringOrDash(rec.UserID), rec.ImageRef, string(domain.StateSaved),
		rec.CancerType, rec.Confidence, rec.RiskLevel, rec.Inconclusive, rec.ScoresJSON,
		rec.DoctorsJSON(), rec.DoctorFeedback, rec.LastError, rec.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return "", db.Wrap("save", err)
	}
	return domain.ID(id), nil
}

// Load by ID
func (r *ReportRepository) Load(ctx context.Context, id domain.ID) (*domain.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM skin_reports WHERE id=? LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, db.Wrap("load", err)
	}
	return rep, nil
}

// Update overwrites the mutable columns of a persisted report when the row
// is still at the version rep was loaded at.
func (r *ReportRepository) Update(ctx context.Context, rep *domain.Report) error {
	const q = `
UPDATE skin_reports
SET state = ?,
    shared_with_doctors = ?,
    doctor_feedback = ?,
    last_error = ?,
    updated_at = ?,
    version = version + 1
WHERE id = ? AND version = ?;`
	rec, err := db.FromReport(rep)
	if err != nil {
		return db.Wrap("update", err)
	}
	res, err := r.db.ExecContext(ctx, q,
		rec.State, rec.DoctorsJSON(), rec.DoctorFeedback, rec.LastError, rec.UpdatedAt,
		rec.ID, rec.Version,
	)
	if err != nil {
		return db.Wrap("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.Wrap("update", err)
	}
	if n == 0 {
		return db.Wrap("update", r.missOrConflict(ctx, rec.ID))
	}
	rep.SetVersion(rec.Version + 1)
	return nil
}

// missOrConflict tells a deleted row apart from a version mismatch.
func (r *ReportRepository) missOrConflict(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM skin_reports WHERE id = ?;`, id).Scan(&one)
	if err != nil {
		return err
	}
	return domain.ErrConflict
}

// Latest reports per user
func (r *ReportRepository) Latest(ctx context.Context, userID string, limit int) ([]*domain.Report, error) {
	q := `SELECT ` + reportColumns + `
FROM skin_reports
WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, userID, db.Limit(limit))
	if err != nil {
		return nil, db.Wrap("latest", err)
	}
	defer rows.Close()

	var out []*domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, db.Wrap("latest", err)
		}
		out = append(out, rep)
	}
	return out, db.Wrap("latest", rows.Err())
}

// Delete removes a report row.
func (r *ReportRepository) Delete(ctx context.Context, id domain.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM skin_reports WHERE id = ?;`, id)
	if err != nil {
		return db.Wrap("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.Wrap("delete", sql.ErrNoRows)
	}
	return nil
}
