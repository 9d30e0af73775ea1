package diagnosis

import (
	"fmt"
	"math"
)

// DefaultLowConfidenceThreshold below which a prediction is inconclusive.
const DefaultLowConfidenceThreshold = 0.5

var baseRisk = map[CancerType]RiskLevel{
	Benign:                RiskLow,
	Melanoma:              RiskVeryHigh,
	BasalCellCarcinoma:    RiskHigh,
	SquamousCellCarcinoma: RiskHigh,
	Unknown:               RiskMedium,
}

// Stratifier maps a predicted class and its confidence to a risk level.
// An inconclusive prediction is never reported below MEDIUM.
type Stratifier struct {
	threshold float64
}

// NewStratifier builds a stratifier; a threshold outside (0,1] falls back to the default.
func NewStratifier(threshold float64) Stratifier {
	if !(threshold > 0 && threshold <= 1) {
		threshold = DefaultLowConfidenceThreshold
	}
	return Stratifier{threshold: threshold}
}

// Threshold returns the low-confidence threshold in use.
func (s Stratifier) Threshold() float64 {
	if s.threshold == 0 {
		return DefaultLowConfidenceThreshold
	}
	return s.threshold
}

// Inconclusive reports whether confidence falls below the threshold or is not a valid probability.
func (s Stratifier) Inconclusive(confidence float64) bool {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return true
	}
	return confidence < s.Threshold()
}

// Stratify is pure: identical inputs always yield the same level.
func (s Stratifier) Stratify(t CancerType, confidence float64) RiskLevel {
	base, ok := baseRisk[t]
	if !ok {
		base = baseRisk[Unknown]
	}
	if s.Inconclusive(confidence) {
		return base.AtLeast(RiskMedium)
	}
	return base
}

// Diagnose picks the top class of the distribution and stratifies it.
func (s Stratifier) Diagnose(scores Scores) Result {
	t, conf := scores.Top()
	out := make(Scores, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return Result{
		CancerType:   t,
		Confidence:   conf,
		RiskLevel:    s.Stratify(t, conf),
		Inconclusive: s.Inconclusive(conf),
		Scores:       out,
	}
}

// Check validates r and verifies that its risk level and inconclusive flag
// are the ones s derives from the class and confidence.
func (s Stratifier) Check(r Result) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if want := s.Stratify(r.CancerType, r.Confidence); r.RiskLevel != want {
		return fmt.Errorf("risk level %s for %s at %.3f, want %s", r.RiskLevel, r.CancerType, r.Confidence, want)
	}
	if want := s.Inconclusive(r.Confidence); r.Inconclusive != want {
		return fmt.Errorf("inconclusive=%t at %.3f, want %t", r.Inconclusive, r.Confidence, want)
	}
	return nil
}
