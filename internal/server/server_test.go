package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"guardrails/internal/config"
	"guardrails/internal/db"
	"guardrails/internal/engine"
	"guardrails/internal/engine/auth"
	"guardrails/internal/metrics"
	"guardrails/internal/migrate"
	"guardrails/internal/notify"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, rl RateLimitConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := notify.NewHub(notify.HubOptions{Buffer: 16})
	e := engine.New(conn, cfg)
	e.Notifier = hub
	handler, err := New(Config{
		Engine:   e,
		Metrics:  metrics.Aggregator{Repo: e.Repo, Config: cfg, Now: time.Now},
		Hub:      hub,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testSecret,
			Policy:                 auth.Policy{Roles: cfg.Auth.Roles},
			AllowLegacyActorHeader: true,
			LegacyRoles:            []string{"supervisor"},
			DevLogin:               true,
		},
		RateLimit: rl,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			hub.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var supervisor = map[string]string{"X-Actor-Id": "alice"}

func doRaw(t *testing.T, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var b []byte
	if body != nil {
		var err error
		if b, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	return doRaw(t, client, method, url, b, headers)
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pending-validations", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, body)
	}
	if decodeError(t, body).Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope: %s", body)
	}
}

func TestSubmitApproveAndReplay(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()
	client := srv.Client()

	payload := []byte(`{"initiator_bot":"sales-bot","action_type":"send_proposal","validation_type":"high_value_deal",` +
		`"estimated_impact":600,"urgency_level":90,"action_data":{"z":1,"a":[3,2,1],"client":"acme"}}`)
	res, body := doRaw(t, client, http.MethodPost, srv.URL+"/v0/submit-validation", payload, supervisor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, body)
	}
	var submitted SubmitValidationResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Priority != 100 || submitted.EstimatedReviewTime != engine.ReviewTimeUrgent || !submitted.RequiresImmediateAttention {
		t.Fatalf("unexpected submit response: %s", body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/pending-validations", nil, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending: %d %s", res.StatusCode, body)
	}
	var view engine.PendingView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if view.Total != 1 || len(view.Grouped["high_value_deals"]) != 1 {
		t.Fatalf("unexpected pending view: %s", body)
	}

	url := srv.URL + "/v0/validate/" + submitted.ID
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"decision": "approved"}, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, body)
	}
	if !strings.Contains(string(body), `"action_data":{"z":1,"a":[3,2,1],"client":"acme"}`) {
		t.Fatalf("execution directive should carry action_data unchanged: %s", body)
	}
	var decided DecisionResponse
	if err := json.Unmarshal(body, &decided); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if decided.Execution == nil || decided.Validation.DecidedBy != "alice" {
		t.Fatalf("unexpected decision response: %s", body)
	}

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"decision": "rejected", "feedback": "too late"}, supervisor)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, body)
	}
	env := decodeError(t, body)
	if env.Error.Code != "already_decided" || env.Error.Details["status"] != "approved" {
		t.Fatalf("conflict should name the existing status: %s", body)
	}
}

func TestInvalidPayloadsMapTo400(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submit-validation", map[string]any{
		"initiator_bot":   "sales-bot",
		"action_type":     "send_proposal",
		"validation_type": "coffee_order",
	}, supervisor)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error.Code != "invalid_payload" || env.Error.Details["field"] != "validation_type" {
		t.Fatalf("unexpected envelope: %s", body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/coordination/emergency-escalation", map[string]any{
		"issue_type":    "outage",
		"description":   "crm down",
		"affected_bots": []string{"sales-bot"},
	}, supervisor)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("escalation without severity: %d %s", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error.Details["field"] != "severity" {
		t.Fatalf("unexpected envelope: %s", body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/validate/missing", map[string]any{"decision": "approved"}, supervisor)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard-metrics?timeframe=fortnight", nil, supervisor)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad timeframe: %d %s", res.StatusCode, body)
	}
}

func TestValidateBatchRejectsBlankIDWithoutDeciding(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submit-validation", map[string]any{
		"initiator_bot":   "sales-bot",
		"action_type":     "send_proposal",
		"validation_type": "high_value_deal",
	}, supervisor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, body)
	}
	var submitted SubmitValidationResponse
	if err := json.Unmarshal(body, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/validate-batch", map[string]any{
		"validation_ids": []string{submitted.ID, "", "missing"},
		"decision":       "approved",
	}, supervisor)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error.Code != "invalid_payload" || env.Error.Details["field"] != "validation_ids" {
		t.Fatalf("unexpected envelope: %s", body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/validations/"+submitted.ID, nil, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, body)
	}
	var got struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal validation: %v", err)
	}
	if got.Status != "pending" {
		t.Fatalf("rejected batch must not decide any id, got status %q", got.Status)
	}
}

func TestOversizedBodyReturns413(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()

	payload := []byte(`{"initiator_bot":"sales-bot","action_type":"send_proposal","validation_type":"high_value_deal","action_data":{"blob":"` +
		strings.Repeat("x", MaxRequestBodyBytes) + `"}}`)
	res, body := doRaw(t, srv.Client(), http.MethodPost, srv.URL+"/v0/submit-validation", payload, supervisor)
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", res.StatusCode, body)
	}
	if decodeError(t, body).Error.Code != "payload_too_large" {
		t.Fatalf("unexpected envelope: %s", body)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pending-validations", nil, supervisor)
	if res.StatusCode != http.StatusOK || strings.Contains(string(body), "send_proposal") {
		t.Fatalf("oversized submit must not be stored: %d %s", res.StatusCode, body)
	}
}

func TestEscalationAndWorkflowMessages(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/coordination/emergency-escalation", map[string]any{
		"severity":      "critical",
		"issue_type":    "outage",
		"description":   "crm down",
		"affected_bots": []string{"sales-bot", "support-bot"},
		"details":       map[string]any{"region": "eu"},
	}, supervisor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("escalate: %d %s", res.StatusCode, body)
	}
	var wf struct {
		ID           string          `json:"id"`
		Status       string          `json:"status"`
		WorkflowData json.RawMessage `json:"workflow_data"`
	}
	if err := json.Unmarshal(body, &wf); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if wf.Status != "escalated" || !strings.Contains(string(wf.WorkflowData), `"region":"eu"`) {
		t.Fatalf("unexpected escalation: %s", body)
	}

	msgURL := srv.URL + "/v0/coordination/workflows/" + wf.ID + "/messages"
	res, body = doJSON(t, client, http.MethodPost, msgURL, map[string]any{"bot_id": "support-bot", "message": "on it"}, supervisor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("message: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, msgURL, map[string]any{"bot_id": "stranger", "message": "hi"}, supervisor)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("non participant: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/coordination/workflows/"+wf.ID, nil, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get workflow: %d %s", res.StatusCode, body)
	}
	var full struct {
		Status           string `json:"status"`
		CommunicationLog []struct {
			BotID string `json:"bot_id"`
		} `json:"communication_log"`
	}
	if err := json.Unmarshal(body, &full); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if full.Status != "escalated" || len(full.CommunicationLog) != 2 {
		t.Fatalf("unexpected workflow: %s", body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/audit-log?action=emergency_escalation", nil, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit log: %d %s", res.StatusCode, body)
	}
	var audit AuditLogResponse
	if err := json.Unmarshal(body, &audit); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(audit.Items) != 1 || audit.Items[0].Outcome != "error" {
		t.Fatalf("unexpected audit: %s", body)
	}
}

func TestAPIKeyRolesAndDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()
	client := srv.Client()

	mint := func(actor, role string) string {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": actor, "role": role}, supervisor)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create key: %d %s", res.StatusCode, body)
		}
		var key APIKeyResponse
		if err := json.Unmarshal(body, &key); err != nil {
			t.Fatalf("unmarshal key: %v", err)
		}
		return key.Key
	}
	botKey := mint("sales-bot", "bot")
	observerKey := mint("dash", "observer")

	submission := map[string]any{"initiator_bot": "sales-bot", "action_type": "email", "validation_type": "client_communication"}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/submit-validation", submission, map[string]string{"X-Api-Key": botKey})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("bot submit: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/submit-validation", submission, map[string]string{"X-Api-Key": observerKey})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("observer submit should be forbidden: %d %s", res.StatusCode, body)
	}
	if env := decodeError(t, body); env.Error.Details["permission"] != auth.PermValidationSubmit {
		t.Fatalf("unexpected envelope: %s", body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/pending-validations", nil, map[string]string{"X-Api-Key": "gr_nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/api-keys?actor_id=sales-bot", nil, supervisor)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", res.StatusCode, body)
	}
	var keys []APIKeyResponse
	if err := json.Unmarshal(body, &keys); err != nil {
		t.Fatalf("unmarshal keys: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("listing must not expose secrets: %s", body)
	}
	res, body = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+keys[0].ID, nil, supervisor)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/pending-validations", nil, map[string]string{"X-Api-Key": botKey})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should fail: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "bob", "roles": []string{"observer"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, body)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + login.Token}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, body)
	}
	var me MeResponse
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "bob" || me.Source != "jwt" || len(me.Roles) != 1 {
		t.Fatalf("unexpected me: %s", body)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard-metrics", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("observer metrics: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/validate-batch", map[string]any{"validation_ids": []string{"x"}, "decision": "approved"}, bearer)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("observer decide should be forbidden: %d %s", res.StatusCode, body)
	}
}

func TestStreamDeliversUrgentEvents(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{})
	defer cleanup()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/stream?types=" + notify.EventUrgentValidation
	header := http.Header{}
	header.Set("X-Actor-Id", "alice")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev notify.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read ready frame: %v", err)
	}
	if ev.Type != StreamReady {
		t.Fatalf("first frame = %s", ev.Type)
	}

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/submit-validation", map[string]any{
		"initiator_bot":    "ops-bot",
		"action_type":      "page_oncall",
		"validation_type":  "emergency_response",
		"estimated_impact": 100,
	}, supervisor)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, body)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != notify.EventUrgentValidation || ev.Payload["initiator_bot"] != "ops-bot" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	srv, cleanup := newTestServer(t, RateLimitConfig{RPS: 0.001, Burst: 1})
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first request: %d %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", res.StatusCode, body)
	}
	if decodeError(t, body).Error.Code != "rate_limited" {
		t.Fatalf("unexpected envelope: %s", body)
	}
}
