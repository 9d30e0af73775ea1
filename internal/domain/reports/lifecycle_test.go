package reports

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

var now = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

var strat = diagnosis.NewStratifier(0.5)

func melanoma() diagnosis.Result {
	return strat.Diagnose(diagnosis.Scores{
		diagnosis.Melanoma: 0.92, diagnosis.Benign: 0.08,
	})
}

func newDraft(t *testing.T) *Report {
	t.Helper()
	r, err := New("u1", "img1", now)
	require.NoError(t, err)
	return r
}

func analyzed(t *testing.T) *Report {
	t.Helper()
	r := newDraft(t)
	h, err := r.StartAnalysis()
	require.NoError(t, err)
	require.NoError(t, r.CompleteAnalysis(h, melanoma(), strat, now))
	return r
}

func saved(t *testing.T) *Report {
	t.Helper()
	r := analyzed(t)
	require.NoError(t, r.MarkSaved("r-1", now))
	return r
}

func TestNew(t *testing.T) {
	r := newDraft(t)
	assert.Equal(t, StateDraft, r.CurrentState())
	assert.Empty(t, r.ID)
	assert.Nil(t, r.Diagnosis)
	assert.Equal(t, now, r.CreatedAt)

	_, err := New("", "img1", now)
	assert.ErrorIs(t, err, ErrNoUser)
	_, err = New("u1", "", now)
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestStartAnalysis(t *testing.T) {
	t.Run("draft to analyzing", func(t *testing.T) {
		r := newDraft(t)
		h, err := r.StartAnalysis()
		require.NoError(t, err)
		assert.Equal(t, "img1", h.ImageRef)
		assert.Equal(t, StateAnalyzing, r.CurrentState())
	})

	t.Run("rejects overlapping analysis", func(t *testing.T) {
		r := newDraft(t)
		_, err := r.StartAnalysis()
		require.NoError(t, err)
		_, err = r.StartAnalysis()
		assert.ErrorIs(t, err, ErrAnalysisInProgress)
	})

	t.Run("rejects missing image", func(t *testing.T) {
		r := &Report{UserID: "u1", State: StateDraft}
		_, err := r.StartAnalysis()
		assert.ErrorIs(t, err, ErrNoImage)
	})

	t.Run("rejects analyzed report", func(t *testing.T) {
		r := analyzed(t)
		_, err := r.StartAnalysis()
		assert.ErrorIs(t, err, ErrAlreadyAnalyzed)
	})

	t.Run("only one concurrent starter wins", func(t *testing.T) {
		r := newDraft(t)
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := r.StartAnalysis(); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestCompleteAnalysis(t *testing.T) {
	r := newDraft(t)
	h, err := r.StartAnalysis()
	require.NoError(t, err)

	require.NoError(t, r.CompleteAnalysis(h, melanoma(), strat, now))
	assert.Equal(t, StateAnalyzed, r.CurrentState())
	require.NotNil(t, r.Diagnosis)
	assert.Equal(t, diagnosis.Melanoma, r.Diagnosis.CancerType)
	assert.InDelta(t, 0.92, r.Diagnosis.Confidence, 1e-9)
	assert.Equal(t, diagnosis.RiskVeryHigh, r.Diagnosis.RiskLevel)

	assert.ErrorIs(t, r.CompleteAnalysis(h, melanoma(), strat, now), ErrNotAnalyzing)
}

func TestCompleteAnalysisRejectsBadInput(t *testing.T) {
	r := newDraft(t)
	h, err := r.StartAnalysis()
	require.NoError(t, err)

	bad := melanoma()
	bad.Confidence = 1.5
	assert.ErrorIs(t, r.CompleteAnalysis(h, bad, strat, now), ErrInvalidResult)

	edited := melanoma()
	edited.RiskLevel = diagnosis.RiskLow
	assert.ErrorIs(t, r.CompleteAnalysis(h, edited, strat, now), ErrInvalidResult)
	assert.Nil(t, r.Diagnosis)
	assert.ErrorIs(t, r.CompleteAnalysis(AnalysisHandle{}, melanoma(), strat, now), ErrStaleAnalysis)
	assert.Equal(t, StateAnalyzing, r.CurrentState())
}

func TestFailAnalysis(t *testing.T) {
	r := newDraft(t)
	h, err := r.StartAnalysis()
	require.NoError(t, err)

	cause := errors.Join(diagnosis.ErrDecode, errors.New("truncated jpeg"))
	require.NoError(t, r.FailAnalysis(h, cause, now))
	assert.Equal(t, StateDraft, r.CurrentState())
	assert.ErrorIs(t, r.AnalysisErr(), diagnosis.ErrDecode)
	assert.Contains(t, r.LastError, "truncated jpeg")
	assert.Nil(t, r.Diagnosis)

	// stale handle from the failed run cannot complete a later run
	h2, err := r.StartAnalysis()
	require.NoError(t, err)
	assert.ErrorIs(t, r.CompleteAnalysis(h, melanoma(), strat, now), ErrStaleAnalysis)
	require.NoError(t, r.CompleteAnalysis(h2, melanoma(), strat, now))
	assert.Empty(t, r.LastError)
	assert.NoError(t, r.AnalysisErr())
}

func TestMarkSaved(t *testing.T) {
	t.Run("draft fails and keeps state", func(t *testing.T) {
		r := newDraft(t)
		err := r.MarkSaved("r-1", now)
		assert.ErrorIs(t, err, ErrNotAnalyzed)
		assert.Equal(t, StateDraft, r.CurrentState())
		assert.Empty(t, r.ID)
	})

	t.Run("analyzed to saved", func(t *testing.T) {
		r := analyzed(t)
		require.NoError(t, r.CanSave())
		require.NoError(t, r.MarkSaved("r-1", now))
		assert.Equal(t, StateSaved, r.CurrentState())
		assert.Equal(t, ID("r-1"), r.ID)
		assert.EqualValues(t, 1, r.Version)
		assert.ErrorIs(t, r.MarkSaved("r-2", now), ErrAlreadySaved)
	})

	t.Run("empty id is rejected", func(t *testing.T) {
		r := analyzed(t)
		assert.ErrorIs(t, r.MarkSaved("", now), ErrPersistence)
		assert.Equal(t, StateAnalyzed, r.CurrentState())
	})
}

func TestShare(t *testing.T) {
	t.Run("requires saved", func(t *testing.T) {
		r := analyzed(t)
		assert.ErrorIs(t, r.Share(now, "d1"), ErrNotSaved)
		assert.Empty(t, r.Doctors())
	})

	t.Run("idempotent union", func(t *testing.T) {
		r := saved(t)
		require.NoError(t, r.Share(now, "d1"))
		require.NoError(t, r.Share(now, "d1"))
		assert.Equal(t, []string{"d1"}, r.Doctors())
		assert.Equal(t, StateShared, r.CurrentState())

		require.NoError(t, r.Share(now, "d2", "d1", " d3 "))
		assert.Equal(t, []string{"d1", "d2", "d3"}, r.Doctors())
	})

	t.Run("rejects blank ids", func(t *testing.T) {
		r := saved(t)
		assert.ErrorIs(t, r.Share(now, "d1", " "), ErrInvalidDoctor)
		assert.ErrorIs(t, r.Share(now), ErrInvalidDoctor)
		assert.Empty(t, r.Doctors())
		assert.Equal(t, StateSaved, r.CurrentState())
	})

	t.Run("sharing after feedback keeps feedback", func(t *testing.T) {
		r := saved(t)
		require.NoError(t, r.Share(now, "d1"))
		require.NoError(t, r.AddFeedback("benign looking, recheck in 3 months", now))
		require.NoError(t, r.Share(now, "d2"))
		assert.Equal(t, StateFeedback, r.CurrentState())
	})
}

func TestAddFeedback(t *testing.T) {
	r := saved(t)
	assert.ErrorIs(t, r.AddFeedback("looks fine", now), ErrNotShared)
	assert.Nil(t, r.DoctorFeedback)

	require.NoError(t, r.Share(now, "d1"))
	assert.ErrorIs(t, r.AddFeedback("  ", now), ErrEmptyFeedback)
	require.NoError(t, r.AddFeedback("book a dermatology visit", now))
	require.NotNil(t, r.DoctorFeedback)
	assert.Equal(t, "book a dermatology visit", *r.DoctorFeedback)
	assert.Equal(t, StateFeedback, r.CurrentState())

	draft := newDraft(t)
	assert.ErrorIs(t, draft.AddFeedback("x", now), ErrNotShared)
}

func TestCloneAndJSON(t *testing.T) {
	r := saved(t)
	require.NoError(t, r.Share(now, "d1"))

	c := r.Clone()
	c.SharedWithDoctors[0] = "other"
	c.Diagnosis.Scores[diagnosis.Melanoma] = 0
	assert.Equal(t, []string{"d1"}, r.Doctors())
	assert.InDelta(t, 0.92, r.Diagnosis.Scores[diagnosis.Melanoma], 1e-9)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, StateShared, back.State)
	assert.Equal(t, []string{"d1"}, back.SharedWithDoctors)
	assert.Equal(t, diagnosis.RiskVeryHigh, back.Diagnosis.RiskLevel)
}

func TestIsLifecycle(t *testing.T) {
	assert.True(t, IsLifecycle(ErrNotSaved))
	assert.False(t, IsLifecycle(ErrPersistence))
	assert.False(t, IsLifecycle(diagnosis.ErrDecode))
}
