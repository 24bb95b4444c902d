package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"guardrails/internal/config"
)

const (
	defaultWebhookTimeout    = 5 * time.Second
	defaultWebhookMaxElapsed = 30 * time.Second
)

// WebhookSink POSTs events to one configured hook, retrying transient
// failures with exponential backoff.
type WebhookSink struct {
	hook       config.WebhookConfig
	client     *http.Client
	filter     eventFilter
	maxElapsed time.Duration
}

func NewWebhookSink(hook config.WebhookConfig) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		hook:       hook,
		client:     &http.Client{Timeout: timeout},
		filter:     newEventFilter(hook.Events),
		maxElapsed: defaultWebhookMaxElapsed,
	}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.hook.URL }

func (s *WebhookSink) newBackoff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; build one per delivery.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = s.maxElapsed
	return backoff.WithContext(bo, ctx)
}

func (s *WebhookSink) Deliver(ctx context.Context, ev Event) error {
	if !s.filter.match(ev.Type) {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return backoff.Retry(func() error {
		return s.post(ctx, ev, data)
	}, s.newBackoff(ctx))
}

func (s *WebhookSink) post(ctx context.Context, ev Event, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guardrails-Event", ev.Type)
	req.Header.Set("X-Guardrails-Delivery", ev.ID)
	if strings.TrimSpace(s.hook.Secret) != "" {
		req.Header.Set("X-Guardrails-Secret", s.hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	err = fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	// Client errors other than throttling will not succeed on retry.
	if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}
