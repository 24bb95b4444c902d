package guardrailssdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmitRetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v0/submit-validation", r.URL.Path)
		require.Equal(t, "gr_key", r.Header.Get("X-Api-Key"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"slow down"}}`))
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "sales-bot", body["initiator_bot"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"v1","status":"pending","priority":100,"estimated_review_time":"< 30 minutes","requires_immediate_attention":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "gr_key")
	res, err := c.Submit(context.Background(), Submission{
		InitiatorBot:   "sales-bot",
		ActionType:     "send_proposal",
		ValidationType: "high_value_deal",
		ActionData:     json.RawMessage(`{"amount":600}`),
	})
	require.NoError(t, err)
	require.Equal(t, "v1", res.ID)
	require.True(t, res.RequiresImmediateAttention)
	require.EqualValues(t, 2, calls.Load())
}

func TestDecideConflictIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"already_decided","message":"validation v1 already approved","details":{"status":"approved"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	c.BearerToken = "tok"
	_, err := c.Decide(context.Background(), "v1", "rejected", "", nil)
	require.Error(t, err)
	require.True(t, AlreadyDecided(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "already_decided", apiErr.Code)
	require.Equal(t, "approved", apiErr.Details["status"])
	require.EqualValues(t, 1, calls.Load())
}

func TestEndpointJoinsBasePath(t *testing.T) {
	c := New("http://localhost:8080/", "")
	require.Equal(t, "http://localhost:8080/v0/validate/x", c.endpoint("validate/x"))
	c.BasePath = ""
	require.Equal(t, "http://localhost:8080/stream", c.endpoint("/stream"))
}
