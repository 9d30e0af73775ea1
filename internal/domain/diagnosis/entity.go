package diagnosis

import (
	"fmt"
	"math"
	"strings"
)

// CancerType enum
type CancerType string

const (
	Melanoma              CancerType = "MELANOMA"
	BasalCellCarcinoma    CancerType = "BASAL_CELL_CARCINOMA"
	SquamousCellCarcinoma CancerType = "SQUAMOUS_CELL_CARCINOMA"
	Benign                CancerType = "BENIGN"
	Unknown               CancerType = "UNKNOWN"
)

// CancerTypes lists every class in a stable order.
var CancerTypes = []CancerType{Melanoma, BasalCellCarcinoma, SquamousCellCarcinoma, Benign, Unknown}

// aliases used by model metadata files
var cancerAliases = map[string]CancerType{
	"melanoma":                Melanoma,
	"mel":                     Melanoma,
	"basal_cell_carcinoma":    BasalCellCarcinoma,
	"bcc":                     BasalCellCarcinoma,
	"squamous_cell_carcinoma": SquamousCellCarcinoma,
	"scc":                     SquamousCellCarcinoma,
	"benign":                  Benign,
	"nevus":                   Benign,
	"nv":                      Benign,
	"unknown":                 Unknown,
	"other":                   Unknown,
}

// ParseCancerType accepts canonical names and the short labels models are usually exported with.
func ParseCancerType(s string) (CancerType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if t, ok := cancerAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown cancer type %q", s)
}

// RiskLevel enum, ordered from LOW to VERY_HIGH.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskVeryHigh RiskLevel = "VERY_HIGH"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskVeryHigh: 3,
}

// Rank returns the ordinal of the level; unknown levels rank -1.
func (r RiskLevel) Rank() int {
	if v, ok := riskRank[r]; ok {
		return v
	}
	return -1
}

// AtLeast returns the higher of r and floor.
func (r RiskLevel) AtLeast(floor RiskLevel) RiskLevel {
	if r.Rank() < floor.Rank() {
		return floor
	}
	return r
}

// Scores is the per-class probability distribution produced by the engine.
type Scores map[CancerType]float64

// Top returns the class holding the largest probability mass. Ties resolve
// in CancerTypes order so the outcome is deterministic.
func (s Scores) Top() (CancerType, float64) {
	best, bestVal := Unknown, -1.0
	for _, t := range CancerTypes {
		v, ok := s[t]
		if !ok {
			continue
		}
		if v > bestVal {
			best, bestVal = t, v
		}
	}
	if bestVal < 0 {
		return Unknown, 0
	}
	return best, bestVal
}

// Result value object
type Result struct {
	CancerType   CancerType `json:"cancer_type"`
	Confidence   float64    `json:"confidence"`
	RiskLevel    RiskLevel  `json:"risk_level"`
	Inconclusive bool       `json:"inconclusive"`
	Scores       Scores     `json:"scores,omitempty"`
}

// Validate checks the range invariants of a result.
func (r Result) Validate() error {
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1]", r.Confidence)
	}
	if _, ok := baseRisk[r.CancerType]; !ok {
		return fmt.Errorf("unknown cancer type %q", r.CancerType)
	}
	if r.RiskLevel.Rank() < 0 {
		return fmt.Errorf("unknown risk level %q", r.RiskLevel)
	}
	return nil
}
