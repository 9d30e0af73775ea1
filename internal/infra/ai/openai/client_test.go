package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/skinscan/internal/domain/ai"
	"github.com/bryanwahyu/skinscan/internal/domain/diagnosis"
)

func view() diagnosis.View {
	return diagnosis.Describe(diagnosis.NewStratifier(0.5).Diagnose(diagnosis.Scores{diagnosis.Melanoma: 0.92, diagnosis.Benign: 0.08}))
}

func TestClient_Explain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  See a doctor soon.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient("key", "gpt-4o-mini", srv.URL)
	text, err := c.Explain(context.Background(), view())
	require.NoError(t, err)
	assert.Equal(t, "See a doctor soon.", text)
}

func TestClient_ExplainQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota","type":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	c := NewClient("key", "gpt-4o-mini", srv.URL)
	_, err := c.Explain(context.Background(), view())
	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
}
