// Package guardrailssdk is a small client for the Guardrails HTTP API, meant
// for bots that submit actions and wait for a human decision.
package guardrailssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Client is a minimal Guardrails HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// MaxRetries bounds retries of rate limited (429) and 5xx responses.
	MaxRetries uint64
}

// New creates a client with sane defaults.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		BasePath:   "/v0",
		APIKey:     apiKey,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
}

type Submission struct {
	InitiatorBot        string          `json:"initiator_bot"`
	ActionType          string          `json:"action_type"`
	ActionData          json.RawMessage `json:"action_data,omitempty"`
	ValidationType      string          `json:"validation_type"`
	EstimatedImpact     float64         `json:"estimated_impact,omitempty"`
	UrgencyLevel        int             `json:"urgency_level,omitempty"`
	BusinessContext     string          `json:"business_context,omitempty"`
	RecommendedDecision string          `json:"recommended_decision,omitempty"`
}

type SubmitResponse struct {
	ID                         string `json:"id"`
	Status                     string `json:"status"`
	Priority                   int    `json:"priority"`
	EstimatedReviewTime        string `json:"estimated_review_time"`
	RequiresImmediateAttention bool   `json:"requires_immediate_attention"`
	RequiresAdvisoryAnalysis   bool   `json:"requires_advisory_analysis"`
}

// Validation is the API view of a request (partial).
type Validation struct {
	ID               string          `json:"id"`
	InitiatorBot     string          `json:"initiator_bot"`
	ActionType       string          `json:"action_type"`
	ActionData       json.RawMessage `json:"action_data"`
	ValidationType   string          `json:"validation_type"`
	EstimatedImpact  float64         `json:"estimated_impact"`
	Priority         int             `json:"priority"`
	Status           string          `json:"status"`
	HumanFeedback    string          `json:"human_feedback,omitempty"`
	DecisionTime     *string         `json:"decision_time,omitempty"`
	DecidedBy        string          `json:"decided_by,omitempty"`
	Adjustments      json.RawMessage `json:"adjustments,omitempty"`
	AdvisoryAnalysis json.RawMessage `json:"advisory_analysis,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

// Execution is returned on approval and carries the submitted action_data.
type Execution struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	ValidationID string          `json:"validation_id"`
	InitiatorBot string          `json:"initiator_bot"`
	ActionType   string          `json:"action_type"`
	ActionData   json.RawMessage `json:"action_data"`
}

type Decision struct {
	Validation Validation `json:"validation"`
	Execution  *Execution `json:"execution,omitempty"`
}

type PendingItem struct {
	Validation
	RequiresImmediateAttention bool   `json:"requires_immediate_attention"`
	EstimatedReviewTime        string `json:"estimated_review_time"`
	AgeMinutes                 int    `json:"age_minutes"`
	Overdue                    bool   `json:"overdue"`
}

type Pending struct {
	Total   int                      `json:"total"`
	Urgent  int                      `json:"urgent"`
	Items   []PendingItem            `json:"items"`
	Grouped map[string][]PendingItem `json:"grouped"`
}

type Workflow struct {
	ID               string            `json:"id"`
	WorkflowType     string            `json:"workflow_type"`
	InitiatorBot     string            `json:"initiator_bot"`
	InvolvedBots     []string          `json:"involved_bots"`
	Status           string            `json:"status"`
	WorkflowData     json.RawMessage   `json:"workflow_data"`
	CommunicationLog []json.RawMessage `json:"communication_log"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
}

type Escalation struct {
	InitiatorBot string   `json:"initiator_bot,omitempty"`
	Severity     string   `json:"severity"`
	IssueType    string   `json:"issue_type"`
	Description  string   `json:"description"`
	AffectedBots []string `json:"affected_bots"`
	Details      any      `json:"details,omitempty"`
}

// Event is one frame from the live stream.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Target    string         `json:"target,omitempty"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// AlreadyDecided reports whether err is the conflict returned for a request
// that is no longer pending.
func AlreadyDecided(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

func (c *Client) Submit(ctx context.Context, s Submission) (SubmitResponse, error) {
	var resp SubmitResponse
	err := c.do(ctx, http.MethodPost, "submit-validation", s, &resp)
	return resp, err
}

// Pending lists pending requests. validationType may be empty.
func (c *Client) Pending(ctx context.Context, validationType string, limit int) (Pending, error) {
	q := url.Values{}
	if validationType != "" {
		q.Set("type", validationType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp Pending
	err := c.do(ctx, http.MethodGet, withQuery("pending-validations", q), nil, &resp)
	return resp, err
}

func (c *Client) GetValidation(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodGet, "validations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Decide records a human decision. adjustments may be nil.
func (c *Client) Decide(ctx context.Context, id, decision, feedback string, adjustments any) (Decision, error) {
	body := map[string]any{"decision": decision}
	if feedback != "" {
		body["feedback"] = feedback
	}
	if adjustments != nil {
		body["adjustments"] = adjustments
	}
	var resp Decision
	err := c.do(ctx, http.MethodPost, "validate/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// WaitForDecision polls until the request leaves pending or ctx ends.
func (c *Client) WaitForDecision(ctx context.Context, id string, interval time.Duration) (Validation, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		v, err := c.GetValidation(ctx, id)
		if err != nil {
			return Validation{}, err
		}
		if v.Status != "pending" {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Analyze asks the server to attach advisory analysis to a request.
func (c *Client) Analyze(ctx context.Context, validationID, analysisType string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, "claude-analysis", map[string]any{
		"validation_id": validationID,
		"analysis_type": analysisType,
	}, &resp)
	return resp, err
}

func (c *Client) DashboardMetrics(ctx context.Context, timeframe string) (json.RawMessage, error) {
	q := url.Values{}
	if timeframe != "" {
		q.Set("timeframe", timeframe)
	}
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, withQuery("dashboard-metrics", q), nil, &resp)
	return resp, err
}

// DailyStandup runs a standup snapshot over the given bots, or every
// registered bot when none are named.
func (c *Client) DailyStandup(ctx context.Context, initiator string, bots ...string) (Workflow, error) {
	return c.snapshot(ctx, "coordination/daily-standup", initiator, bots)
}

func (c *Client) SyncStatus(ctx context.Context, initiator string, bots ...string) (Workflow, error) {
	return c.snapshot(ctx, "coordination/sync-status", initiator, bots)
}

func (c *Client) GenerateReport(ctx context.Context, initiator string, bots ...string) (Workflow, error) {
	return c.snapshot(ctx, "coordination/generate-report", initiator, bots)
}

func (c *Client) snapshot(ctx context.Context, path, initiator string, bots []string) (Workflow, error) {
	body := map[string]any{}
	if initiator != "" {
		body["initiator_bot"] = initiator
	}
	if len(bots) > 0 {
		body["involved_bots"] = bots
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, path, body, &resp)
	return resp, err
}

func (c *Client) Escalate(ctx context.Context, e Escalation) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "coordination/emergency-escalation", e, &resp)
	return resp, err
}

// Say appends a participant message to a workflow's log.
func (c *Client) Say(ctx context.Context, workflowID, botID, message string) error {
	return c.do(ctx, http.MethodPost, "coordination/workflows/"+url.PathEscape(workflowID)+"/messages", map[string]any{
		"bot_id":  botID,
		"message": message,
	}, nil)
}

// Stream subscribes to live events and calls fn for each one until ctx ends,
// the connection drops, or fn returns an error. An empty types list receives
// every event.
func (c *Client) Stream(ctx context.Context, types []string, fn func(Event) error) error {
	u, err := url.Parse(c.endpoint("stream"))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if len(types) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(types, ",")}}.Encode()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), c.authHeader())
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return apiError(resp)
		}
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	switch {
	case c.BearerToken != "":
		h.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		h.Set("X-Api-Key", c.APIKey)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	target := c.endpoint(endpoint)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.authHeader() {
			req.Header[k] = v
		}
		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			apiErr := apiError(resp)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.MaxRetries), ctx))
}

func apiError(resp *http.Response) *APIError {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) endpoint(p string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	prefix := strings.Trim(c.BasePath, "/")
	if prefix != "" {
		base += "/" + prefix
	}
	return base + "/" + strings.TrimLeft(p, "/")
}
