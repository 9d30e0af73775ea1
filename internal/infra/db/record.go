// Package db holds the row mapping shared by the SQL report repositories.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
	domain "github.com/bryanwahyu/skinscan/internal/domain/reports"
)

// Record is the flat column form of a report.
type Record struct {
	ID             string
	UserID         string
	ImageRef       string
	State          string
	CancerType     sql.NullString
	Confidence     sql.NullFloat64
	RiskLevel      sql.NullString
	Inconclusive   bool
	ScoresJSON     sql.NullString
	Doctors        []string
	DoctorFeedback sql.NullString
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
}

// FromReport flattens r. The caller must not hold r's lock.
func FromReport(r *domain.Report) (Record, error) {
	c := r.Clone()
	rec := Record{
		ID:        string(c.ID),
		UserID:    c.UserID,
		ImageRef:  c.ImageRef,
		State:     string(c.State),
		Doctors:   c.SharedWithDoctors,
		LastError: c.LastError,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Version:   c.Version,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if d := c.Diagnosis; d != nil {
		rec.CancerType = sql.NullString{String: string(d.CancerType), Valid: true}
		rec.Confidence = sql.NullFloat64{Float64: d.Confidence, Valid: true}
		rec.RiskLevel = sql.NullString{String: string(d.RiskLevel), Valid: true}
		rec.Inconclusive = d.Inconclusive
		if len(d.Scores) > 0 {
			b, err := json.Marshal(d.Scores)
			if err != nil {
				return Record{}, err
			}
			rec.ScoresJSON = sql.NullString{String: string(b), Valid: true}
		}
	}
	if c.DoctorFeedback != nil {
		rec.DoctorFeedback = sql.NullString{String: *c.DoctorFeedback, Valid: true}
	}
	return rec, nil
}

// DoctorsJSON encodes the doctor set for JSON columns.
func (rec Record) DoctorsJSON() string {
	if len(rec.Doctors) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(rec.Doctors)
	return string(b)
}

// SetDoctorsJSON decodes a JSON doctor column.
func (rec *Record) SetDoctorsJSON(s string) error {
	if strings.TrimSpace(s) == "" {
		rec.Doctors = nil
		return nil
	}
	return json.Unmarshal([]byte(s), &rec.Doctors)
}

// Report rebuilds the aggregate.
func (rec Record) Report() (*domain.Report, error) {
	r := &domain.Report{
		ID:                domain.ID(rec.ID),
		UserID:            rec.UserID,
		ImageRef:          rec.ImageRef,
		State:             domain.State(rec.State),
		SharedWithDoctors: append([]string{}, rec.Doctors...),
		LastError:         rec.LastError,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		Version:           rec.Version,
	}
	if !r.State.Valid() {
		return nil, fmt.Errorf("report %s: unknown state %q", rec.ID, rec.State)
	}
	if rec.CancerType.Valid {
		d := diagnosis.Result{
			CancerType:   diagnosis.CancerType(rec.CancerType.String),
			Confidence:   rec.Confidence.Float64,
			RiskLevel:    diagnosis.RiskLevel(rec.RiskLevel.String),
			Inconclusive: rec.Inconclusive,
		}
		if rec.ScoresJSON.Valid && rec.ScoresJSON.String != "" {
			if err := json.Unmarshal([]byte(rec.ScoresJSON.String), &d.Scores); err != nil {
				return nil, fmt.Errorf("report %s: scores: %w", rec.ID, err)
			}
		}
		r.Diagnosis = &d
	}
	if rec.DoctorFeedback.Valid {
		f := rec.DoctorFeedback.String
		r.DoctorFeedback = &f
	}
	return r, nil
}

// Wrap maps driver errors onto the domain error set.
func Wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, domain.ErrConflict):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
	}
}

// Limit clamps list sizes.
func Limit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
