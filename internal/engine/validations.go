package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"guardrails/internal/audit"
	"guardrails/internal/domain"
	"guardrails/internal/notify"
	"guardrails/internal/repo"
)

const (
	ReviewTimeUrgent   = "< 30 minutes"
	ReviewTimeStandard = "< 2 hours"

	reviewWindowUrgent   = 30 * time.Minute
	reviewWindowStandard = 2 * time.Hour

	maxListLimit = 500
)

type SubmitInput struct {
	InitiatorBot        string
	ActionType          string
	ActionData          json.RawMessage
	ValidationType      string
	EstimatedImpact     float64
	UrgencyLevel        int
	BusinessContext     string
	RecommendedDecision string
}

type SubmitResult struct {
	Validation                 domain.ValidationRequest
	EstimatedReviewTime        string
	RequiresImmediateAttention bool
}

func (in SubmitInput) validate() (domain.ValidationType, error) {
	if strings.TrimSpace(in.InitiatorBot) == "" {
		return "", InvalidPayloadError{Field: "initiator_bot", Reason: "required"}
	}
	if strings.TrimSpace(in.ActionType) == "" {
		return "", InvalidPayloadError{Field: "action_type", Reason: "required"}
	}
	if strings.TrimSpace(in.ValidationType) == "" {
		return "", InvalidPayloadError{Field: "validation_type", Reason: "required"}
	}
	vt, err := domain.ParseValidationType(in.ValidationType)
	if err != nil {
		return "", InvalidPayloadError{Field: "validation_type", Reason: err.Error()}
	}
	if math.IsNaN(in.EstimatedImpact) || math.IsInf(in.EstimatedImpact, 0) {
		return "", InvalidPayloadError{Field: "estimated_impact", Reason: "must be a finite number"}
	}
	if in.EstimatedImpact < 0 {
		return "", InvalidPayloadError{Field: "estimated_impact", Reason: "must be >= 0"}
	}
	if in.UrgencyLevel < 0 {
		return "", InvalidPayloadError{Field: "urgency_level", Reason: "must be >= 0"}
	}
	return vt, nil
}

// ReviewTime is the advisory review window label for a priority.
func (e Engine) ReviewTime(priority int) string {
	if priority >= e.UrgentPriority() {
		return ReviewTimeUrgent
	}
	return ReviewTimeStandard
}

func (e Engine) reviewWindow(priority int) time.Duration {
	if priority >= e.UrgentPriority() {
		return reviewWindowUrgent
	}
	return reviewWindowStandard
}

// Submit queues a bot action for human review.
func (e Engine) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	vt, err := in.validate()
	if err != nil {
		return SubmitResult{}, err
	}
	actionData, err := normalizeJSON(in.ActionData, "action_data", "{}")
	if err != nil {
		return SubmitResult{}, err
	}
	now := e.timestamp()
	priority := domain.Priority(in.EstimatedImpact, in.UrgencyLevel)
	urgent := priority >= e.UrgentPriority()
	v := domain.ValidationRequest{
		ID:              uuid.NewString(),
		InitiatorBot:    strings.TrimSpace(in.InitiatorBot),
		ActionType:      strings.TrimSpace(in.ActionType),
		ActionData:      actionData,
		ValidationType:  vt,
		EstimatedImpact: in.EstimatedImpact,
		UrgencyLevel:    in.UrgencyLevel,
		Priority:        priority,
		Status:          domain.StatusPending,
		GuardrailsContext: domain.GuardrailsContext{
			BusinessContext:          in.BusinessContext,
			RecommendedDecision:      in.RecommendedDecision,
			UrgencyLevel:             in.UrgencyLevel,
			SubmissionTime:           now,
			RequiresAdvisoryAnalysis: in.EstimatedImpact > e.Config.Queue.AdvisoryImpactThreshold,
		},
		CreatedAt: now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertValidationTx(ctx, tx, v); err != nil {
		return SubmitResult{}, fmt.Errorf("insert validation: %w", err)
	}
	outcome := domain.OutcomeSuccess
	if urgent {
		outcome = domain.OutcomeWarning
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      v.InitiatorBot,
		Action:     "validation_requested",
		Outcome:    outcome,
		Message:    fmt.Sprintf("Validation requested: %s (priority %d)", v.ActionType, v.Priority),
		EntityKind: "validation",
		EntityID:   v.ID,
		Context: audit.Context{
			"validation_type":  string(v.ValidationType),
			"estimated_impact": v.EstimatedImpact,
			"urgency_level":    v.UrgencyLevel,
			"priority":         v.Priority,
		},
	}); err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}

	e.metrics().Submission(ctx, string(vt), urgent)
	if urgent {
		e.publish(notify.Event{
			Type: notify.EventUrgentValidation,
			Payload: map[string]any{
				"id":               v.ID,
				"initiator_bot":    v.InitiatorBot,
				"action_type":      v.ActionType,
				"validation_type":  string(v.ValidationType),
				"estimated_impact": v.EstimatedImpact,
				"priority":         v.Priority,
			},
		})
	}
	return SubmitResult{
		Validation:                 v,
		EstimatedReviewTime:        e.ReviewTime(priority),
		RequiresImmediateAttention: urgent,
	}, nil
}

func (e Engine) GetValidation(ctx context.Context, id string) (domain.ValidationRequest, error) {
	v, err := e.Repo.GetValidation(ctx, id)
	if err != nil {
		return v, wrapNotFound(err, "validation", id)
	}
	return v, nil
}

type DecideInput struct {
	ID          string
	Decision    string
	Feedback    string
	Adjustments json.RawMessage
	// ReviewerID identifies the authenticated caller; the audit actor is
	// always the human supervisor role.
	ReviewerID string
}

// ExecutionDirective hands an approved action back to its initiator. ActionData
// is the submitted payload, byte for byte.
type ExecutionDirective struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	ValidationID string          `json:"validation_id"`
	InitiatorBot string          `json:"initiator_bot"`
	ActionType   string          `json:"action_type"`
	ActionData   json.RawMessage `json:"action_data"`
}

type DecisionResult struct {
	Validation domain.ValidationRequest
	Execution  *ExecutionDirective
}

func decisionOutcome(s domain.ValidationStatus) domain.Outcome {
	switch s {
	case domain.StatusApproved, domain.StatusModified:
		return domain.OutcomeSuccess
	case domain.StatusRejected:
		return domain.OutcomeWarning
	case domain.StatusPending:
		return domain.OutcomeError
	}
	return domain.OutcomeError
}

// Decide applies the single terminal transition of a request. Concurrent
// callers race on a compare-and-swap of status; exactly one wins and the rest
// get AlreadyDecidedError.
func (e Engine) Decide(ctx context.Context, in DecideInput) (DecisionResult, error) {
	if strings.TrimSpace(in.ID) == "" {
		return DecisionResult{}, InvalidPayloadError{Field: "id", Reason: "required"}
	}
	status, err := domain.ParseDecision(in.Decision)
	if err != nil {
		return DecisionResult{}, InvalidPayloadError{Field: "decision", Reason: err.Error()}
	}
	var adjustments json.RawMessage
	if len(in.Adjustments) > 0 {
		if adjustments, err = normalizeJSON(in.Adjustments, "adjustments", ""); err != nil {
			return DecisionResult{}, err
		}
	}
	now := e.timestamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecisionResult{}, err
	}
	defer tx.Rollback()

	applied, err := e.Repo.DecideValidationTx(ctx, tx, repo.DecisionUpdate{
		ID:           in.ID,
		Status:       status,
		Feedback:     in.Feedback,
		DecisionTime: now,
		DecidedBy:    in.ReviewerID,
		Adjustments:  adjustments,
	})
	if err != nil {
		return DecisionResult{}, fmt.Errorf("decide validation: %w", err)
	}
	if !applied {
		cur, err := e.Repo.GetValidationTx(ctx, tx, in.ID)
		if err != nil {
			return DecisionResult{}, wrapNotFound(err, "validation", in.ID)
		}
		decidedAt := ""
		if cur.DecisionTime != nil {
			decidedAt = *cur.DecisionTime
		}
		e.metrics().AlreadyDecided(ctx)
		return DecisionResult{}, AlreadyDecidedError{ID: in.ID, Status: cur.Status, DecidedAt: decidedAt}
	}
	v, err := e.Repo.GetValidationTx(ctx, tx, in.ID)
	if err != nil {
		return DecisionResult{}, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      audit.HumanSupervisor,
		Action:     "validation_" + string(status),
		Outcome:    decisionOutcome(status),
		Message:    fmt.Sprintf("Validation %s: %s by %s", status, v.ActionType, v.InitiatorBot),
		EntityKind: "validation",
		EntityID:   v.ID,
		Context: audit.Context{
			"initiator_bot":    v.InitiatorBot,
			"estimated_impact": v.EstimatedImpact,
			"feedback":         in.Feedback,
			"reviewer":         in.ReviewerID,
			"decision":         string(status),
		},
	}); err != nil {
		return DecisionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DecisionResult{}, err
	}

	if created, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
		decided, _ := time.Parse(time.RFC3339, now)
		e.metrics().Decision(ctx, string(status), decided.Sub(created))
	}
	payload := map[string]any{
		"validation_id": v.ID,
		"initiator_bot": v.InitiatorBot,
		"action_type":   v.ActionType,
		"decision":      string(status),
		"feedback":      in.Feedback,
	}
	if len(adjustments) > 0 {
		payload["adjustments"] = adjustments
	}
	e.publish(notify.Event{Type: notify.EventValidationDecision, Target: v.InitiatorBot, Payload: payload})

	res := DecisionResult{Validation: v}
	if status == domain.StatusApproved {
		res.Execution = &ExecutionDirective{
			Status:       "ready_for_execution",
			Message:      "Action approved and ready for bot execution",
			ValidationID: v.ID,
			InitiatorBot: v.InitiatorBot,
			ActionType:   v.ActionType,
			ActionData:   v.ActionData,
		}
	}
	return res, nil
}

// Batch outcomes.
const (
	BatchDecided        = "decided"
	BatchAlreadyDecided = "already_decided"
	BatchNotFound       = "not_found"
)

type BatchItem struct {
	ID      string                  `json:"id"`
	Outcome string                  `json:"outcome"`
	Status  domain.ValidationStatus `json:"status,omitempty"`
}

type BatchResult struct {
	Decision domain.ValidationStatus `json:"decision"`
	Decided  int                     `json:"decided"`
	Items    []BatchItem             `json:"items"`
}

// DecideBatch applies one decision to many requests. The id list is checked
// as a whole before anything is decided. Each id is then its own
// compare-and-swap; there is no cross-request atomicity.
func (e Engine) DecideBatch(ctx context.Context, ids []string, decision, feedback, reviewerID string) (BatchResult, error) {
	status, err := domain.ParseDecision(decision)
	if err != nil {
		return BatchResult{}, InvalidPayloadError{Field: "decision", Reason: err.Error()}
	}
	if len(ids) == 0 {
		return BatchResult{}, InvalidPayloadError{Field: "validation_ids", Reason: "must be non-empty"}
	}
	cleaned := make([]string, len(ids))
	for i, id := range ids {
		cleaned[i] = strings.TrimSpace(id)
		if cleaned[i] == "" {
			return BatchResult{}, InvalidPayloadError{Field: "validation_ids", Reason: fmt.Sprintf("id at position %d is empty", i)}
		}
	}
	res := BatchResult{Decision: status, Items: make([]BatchItem, 0, len(cleaned))}
	for _, id := range cleaned {
		_, err := e.Decide(ctx, DecideInput{ID: id, Decision: decision, Feedback: feedback, ReviewerID: reviewerID})
		var ad AlreadyDecidedError
		switch {
		case err == nil:
			res.Decided++
			res.Items = append(res.Items, BatchItem{ID: id, Outcome: BatchDecided, Status: status})
		case errors.As(err, &ad):
			res.Items = append(res.Items, BatchItem{ID: id, Outcome: BatchAlreadyDecided, Status: ad.Status})
		case errors.Is(err, ErrNotFound):
			res.Items = append(res.Items, BatchItem{ID: id, Outcome: BatchNotFound})
		default:
			return res, err
		}
	}
	return res, nil
}

type PendingFilter struct {
	Priority       *int
	ValidationType string
	Limit          int
}

// PendingItem is a pending request annotated for reviewers.
type PendingItem struct {
	domain.ValidationRequest
	RequiresImmediateAttention bool   `json:"requires_immediate_attention"`
	EstimatedReviewTime        string `json:"estimated_review_time"`
	AgeMinutes                 int    `json:"age_minutes"`
	// Overdue is informational only; pending requests never expire.
	Overdue bool `json:"overdue"`
}

type PendingView struct {
	Total   int                      `json:"total"`
	Urgent  int                      `json:"urgent"`
	Items   []PendingItem            `json:"items"`
	Grouped map[string][]PendingItem `json:"grouped"`
}

// ListPending returns pending requests highest priority first, then oldest first.
func (e Engine) ListPending(ctx context.Context, f PendingFilter) (PendingView, error) {
	filters := repo.ValidationFilters{Status: domain.StatusPending, Priority: f.Priority, Limit: f.Limit}
	if f.ValidationType != "" {
		vt, err := domain.ParseValidationType(f.ValidationType)
		if err != nil {
			return PendingView{}, InvalidPayloadError{Field: "type", Reason: err.Error()}
		}
		filters.ValidationType = vt
	}
	if f.Priority != nil && (*f.Priority < 0 || *f.Priority > domain.ScoreCap) {
		return PendingView{}, InvalidPayloadError{Field: "priority", Reason: "must be within 0..100"}
	}
	if filters.Limit <= 0 {
		filters.Limit = e.Config.Queue.PendingLimit
	}
	if filters.Limit > maxListLimit {
		filters.Limit = maxListLimit
	}
	list, err := e.Repo.ListValidations(ctx, filters)
	if err != nil {
		return PendingView{}, err
	}
	now := e.now()
	view := PendingView{Items: make([]PendingItem, 0, len(list)), Grouped: map[string][]PendingItem{}}
	for _, t := range domain.ValidationTypes {
		view.Grouped[t.GroupKey()] = []PendingItem{}
	}
	for _, v := range list {
		item := PendingItem{
			ValidationRequest:          v,
			RequiresImmediateAttention: v.Priority >= e.UrgentPriority(),
			EstimatedReviewTime:        e.ReviewTime(v.Priority),
		}
		if created, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
			age := now.Sub(created)
			item.AgeMinutes = int(age.Minutes())
			item.Overdue = age > e.reviewWindow(v.Priority)
		}
		if item.RequiresImmediateAttention {
			view.Urgent++
		}
		view.Items = append(view.Items, item)
		key := v.ValidationType.GroupKey()
		view.Grouped[key] = append(view.Grouped[key], item)
	}
	view.Total = len(view.Items)
	return view, nil
}
