package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guardrails/internal/config"
)

func TestWebhookSinkRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, EventEmergencyEscalated, r.Header.Get("X-Guardrails-Event"))
		assert.Equal(t, "evt-1", r.Header.Get("X-Guardrails-Delivery"))
		assert.Equal(t, "s3cret", r.Header.Get("X-Guardrails-Secret"))
		_ = json.NewDecoder(r.Body).Decode(&gotEvent)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := sink.Deliver(ctx, Event{ID: "evt-1", Type: EventEmergencyEscalated, Payload: map[string]any{"severity": "critical"}})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "critical", gotEvent.Payload["severity"])
}

func TestWebhookSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad hook", http.StatusBadRequest)
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL})
	err := sink.Deliver(context.Background(), Event{ID: "evt-2", Type: EventValidationDecision})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	require.Equal(t, int32(1), calls.Load())
}

func TestWebhookSinkSkipsFilteredEvents(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Events: []string{EventEmergencyEscalated}})
	require.NoError(t, sink.Deliver(context.Background(), Event{ID: "evt-3", Type: EventStatusSynced}))
	require.Equal(t, int32(0), calls.Load())
}
