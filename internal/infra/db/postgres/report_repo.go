package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
	"github.com/bryanwahyu/skinscan/internal/infra/db"
)

type ReportRepository struct{ db *sql.DB }

func NewReportRepository(conn *sql.DB) *ReportRepository { return &ReportRepository{db: conn} }

const reportColumns = `id, user_id, image_ref, state,
       cancer_type, confidence, risk_level, inconclusive, scores_json,
       shared_with_doctors, doctor_feedback, last_error, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var rec db.Record
	var doctors pq.StringArray
	if err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ImageRef, &rec.State,
		&rec.CancerType, &rec.Confidence, &rec.RiskLevel, &rec.Inconclusive, &rec.ScoresJSON,
		&doctors, &rec.DoctorFeedback, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version,
	); err != nil {
		return nil, err
	}
	rec.Doctors = doctors
	return rec.Report()
}

// Save inserts a new report row and returns the generated id.
func (r *ReportRepository) Save(ctx context.Context, rep *domain.Report) (domain.ID, error) {
	const q = `
INSERT INTO skin_reports
(id, user_id, image_ref, state,
 cancer_type, confidence, risk_level, inconclusive, scores_json,
 shared_with_doctors, doctor_feedback, last_error, created_at, updated_at, version)
VALUES ($1,$2,$3,$4,
        $5,$6,$7,$8,$9,
        $10,$11,$12,$13,$14,1);`

	rec, err := db.FromReport(rep)
	if err != nil {
		return "", db.Wrap("save", err)
	}
	id := uuid.New().String()
	_, err = r.db.ExecContext(ctx, q,
		id, stringOrDash(rec.UserID), rec.ImageRef, string(domain.StateSaved),
		rec.CancerType, rec.Confidence, rec.RiskLevel, rec.Inconclusive, rec.ScoresJSON,
		pq.Array(nonNil(rec.Doctors)), rec.DoctorFeedback, rec.LastError, rec.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return "", db.Wrap("save", err)
	}
	return domain.ID(id), nil
}

// Load by ID
func (r *ReportRepository) Load(ctx context.Context, id domain.ID) (*domain.Report, error) {
	q := `SELECT ` + reportColumns + ` FROM skin_reports WHERE id=$1 LIMIT 1;`
	rep, err := scanReport(r.db.QueryRowContext(ctx, q, string(id)))
	if err != nil {
		return nil, db.Wrap("load", err)
	}
	return rep, nil
}

// Update is a compare-and-set on the version column.
func (r *ReportRepository) Update(ctx context.Context, rep *domain.Report) error {
	const q = `
UPDATE skin_reports
SET state = $1,
    shared_with_doctors = $2,
    doctor_feedback = $3,
    last_error = $4,
    updated_at = $5,
    version = version + 1
WHERE id = $6 AND version = $7;`
	rec, err := db.FromReport(rep)
	if err != nil {
		return db.Wrap("update", err)
	}
	res, err := r.db.ExecContext(ctx, q,
		rec.State, pq.Array(nonNil(rec.Doctors)), rec.DoctorFeedback, rec.LastError, rec.UpdatedAt,
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
		var one int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM skin_reports WHERE id = $1;`, rec.ID).Scan(&one)
		if err == nil {
			err = domain.ErrConflict
		}
		return db.Wrap("update", err)
	}
	rep.SetVersion(rec.Version + 1)
	return nil
}

// Latest reports per user
func (r *ReportRepository) Latest(ctx context.Context, userID string, limit int) ([]*domain.Report, error) {
	q := `SELECT ` + reportColumns + `
FROM skin_reports
WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2;`
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

func (r *ReportRepository) Delete(ctx context.Context, id domain.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM skin_reports WHERE id = $1;`, string(id))
	if err != nil {
		return db.Wrap("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.Wrap("delete", sql.ErrNoRows)
	}
	return nil
}

// nonNil keeps pq from writing NULL into a NOT NULL array column.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
