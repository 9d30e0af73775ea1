package reports

import (
	"context"
	"io"
)

// Repository port (interface untuk persistence). Save assigns the id and
// stores version 1. Update writes only when the stored version still equals
// r.Version, bumps it and returns ErrConflict otherwise.
type Repository interface {
	Save(ctx context.Context, r *Report) (ID, error)
	Load(ctx context.Context, id ID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	Latest(ctx context.Context, userID string, limit int) ([]*Report, error)
	Delete(ctx context.Context, id ID) error
}

// ImageStore port (interface untuk penyimpanan gambar)
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}
