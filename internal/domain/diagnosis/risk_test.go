package diagnosis

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confidenceGrid() []float64 {
	var out []float64
	for i := 0; i <= 100; i++ {
		out = append(out, float64(i)/100)
	}
	return out
}

func TestStratifyBaseTable(t *testing.T) {
	s := NewStratifier(0.5)
	tests := []struct {
		cancer CancerType
		want   RiskLevel
	}{
		{Benign, RiskLow},
		{Melanoma, RiskVeryHigh},
		{BasalCellCarcinoma, RiskHigh},
		{SquamousCellCarcinoma, RiskHigh},
		{Unknown, RiskMedium},
	}
	for _, tc := range tests {
		t.Run(string(tc.cancer), func(t *testing.T) {
			assert.Equal(t, tc.want, s.Stratify(tc.cancer, 0.9))
		})
	}
}

func TestStratifyBenignConfidentIsLow(t *testing.T) {
	s := NewStratifier(DefaultLowConfidenceThreshold)
	for _, c := range confidenceGrid() {
		if c < 0.5 {
			continue
		}
		assert.Equal(t, RiskLow, s.Stratify(Benign, c), "confidence %v", c)
	}
}

func TestStratifyMelanomaNeverLow(t *testing.T) {
	s := NewStratifier(DefaultLowConfidenceThreshold)
	for _, c := range confidenceGrid() {
		assert.Equal(t, RiskVeryHigh, s.Stratify(Melanoma, c), "confidence %v", c)
	}
}

func TestStratifyLowConfidenceEscalates(t *testing.T) {
	s := NewStratifier(DefaultLowConfidenceThreshold)
	for _, cancer := range CancerTypes {
		for _, c := range confidenceGrid() {
			if c >= 0.5 {
				continue
			}
			got := s.Stratify(cancer, c)
			assert.GreaterOrEqual(t, got.Rank(), RiskMedium.Rank(), "%s at %v", cancer, c)
		}
	}
	assert.Equal(t, RiskMedium, s.Stratify(Benign, 0.49))
	assert.Equal(t, RiskHigh, s.Stratify(BasalCellCarcinoma, 0.1))
}

func TestStratifyInvalidConfidenceIsInconclusive(t *testing.T) {
	s := NewStratifier(0.5)
	for _, c := range []float64{math.NaN(), -0.1, 1.5} {
		assert.Equal(t, RiskMedium, s.Stratify(Benign, c))
		assert.True(t, s.Inconclusive(c))
	}
}

func TestStratifyIsPure(t *testing.T) {
	s := NewStratifier(0.5)
	for _, cancer := range CancerTypes {
		for _, c := range []float64{0, 0.25, 0.5, 0.75, 1} {
			first := s.Stratify(cancer, c)
			for i := 0; i < 10; i++ {
				require.Equal(t, first, s.Stratify(cancer, c))
			}
		}
	}
}

func TestNewStratifierThresholdFallback(t *testing.T) {
	for _, th := range []float64{0, -1, 2, math.NaN()} {
		assert.Equal(t, DefaultLowConfidenceThreshold, NewStratifier(th).Threshold(), fmt.Sprint(th))
	}
	assert.Equal(t, 0.7, NewStratifier(0.7).Threshold())
	assert.Equal(t, DefaultLowConfidenceThreshold, Stratifier{}.Threshold())
}

func TestDiagnose(t *testing.T) {
	s := NewStratifier(0.5)
	scores := Scores{Melanoma: 0.92, Benign: 0.05, BasalCellCarcinoma: 0.01, SquamousCellCarcinoma: 0.01, Unknown: 0.01}

	res := s.Diagnose(scores)
	assert.Equal(t, Melanoma, res.CancerType)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Equal(t, RiskVeryHigh, res.RiskLevel)
	assert.False(t, res.Inconclusive)
	require.NoError(t, res.Validate())

	scores[Melanoma] = 0
	assert.InDelta(t, 0.92, res.Scores[Melanoma], 1e-9, "result keeps its own copy of the scores")
}

func TestScoresTopTieBreaksInClassOrder(t *testing.T) {
	top, conf := Scores{Benign: 0.4, BasalCellCarcinoma: 0.4, Unknown: 0.2}.Top()
	assert.Equal(t, BasalCellCarcinoma, top)
	assert.InDelta(t, 0.4, conf, 1e-9)

	top, conf = Scores{}.Top()
	assert.Equal(t, Unknown, top)
	assert.Zero(t, conf)
}

func TestResultValidate(t *testing.T) {
	assert.Error(t, Result{CancerType: Benign, Confidence: 1.2, RiskLevel: RiskLow}.Validate())
	assert.Error(t, Result{CancerType: "FRECKLE", Confidence: 0.6, RiskLevel: RiskLow}.Validate())
	assert.Error(t, Result{CancerType: Benign, Confidence: 0.6, RiskLevel: "SEVERE"}.Validate())
	assert.NoError(t, Result{CancerType: Benign, Confidence: 0.6, RiskLevel: RiskLow}.Validate())
}

func TestParseCancerType(t *testing.T) {
	tests := map[string]CancerType{
		"MELANOMA":                Melanoma,
		"bcc":                     BasalCellCarcinoma,
		"Squamous Cell Carcinoma": SquamousCellCarcinoma,
		"nevus":                   Benign,
		" unknown ":               Unknown,
	}
	for in, want := range tests {
		got, err := ParseCancerType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCancerType("freckle")
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	for _, c := range CancerTypes {
		assert.NotEmpty(t, c.Label())
	}
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskVeryHigh} {
		assert.NotEqual(t, "Unknown", r.Label())
		assert.NotEqual(t, "#757575", r.Color())
	}
	v := Describe(Result{CancerType: Melanoma, Confidence: 0.9, RiskLevel: RiskVeryHigh})
	assert.Equal(t, "Melanoma", v.CancerLabel)
	assert.Equal(t, "Very high risk", v.RiskLabel)
	assert.Equal(t, Disclaimer, v.Disclaimer)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("prepare: %w", ErrDecode)))
	assert.True(t, Retryable(ErrUnsupportedFormat))
	assert.True(t, Retryable(ErrBusy))
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(ErrInference))
	assert.False(t, Retryable(ErrClosed))
	assert.False(t, Retryable(errors.New("boom")))
	assert.False(t, Retryable(nil))
}

func TestStratifierCheck(t *testing.T) {
	s := NewStratifier(0.5)
	good := s.Diagnose(Scores{Melanoma: 0.92, Benign: 0.08})
	require.NoError(t, s.Check(good))

	edited := good
	edited.RiskLevel = RiskLow
	assert.Error(t, s.Check(edited))

	flipped := good
	flipped.Inconclusive = true
	assert.Error(t, s.Check(flipped))

	// a stricter threshold derives a different level for the same confidence
	low := s.Diagnose(Scores{Benign: 0.6, Melanoma: 0.4})
	require.NoError(t, s.Check(low))
	assert.Error(t, NewStratifier(0.7).Check(low))

	bad := good
	bad.Confidence = 1.5
	assert.Error(t, s.Check(bad))
}
