package ai

import (
	"context"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

// Explainer turns a diagnosis into a short plain-language text for the patient.
type Explainer interface {
	Explain(ctx context.Context, v diagnosis.View) (string, error)
}
