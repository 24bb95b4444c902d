package server

import (
	"guardrails/internal/domain"
	"guardrails/internal/engine"
)

// Request payloads. Free-form JSON fields are typed any for the schema; the
// handlers read their original bytes from the request body.

type SubmitValidationRequest struct {
	InitiatorBot        string  `json:"initiator_bot" minLength:"1"`
	ActionType          string  `json:"action_type" minLength:"1"`
	ActionData          any     `json:"action_data,omitempty" doc:"Opaque payload returned verbatim on approval"`
	ValidationType      string  `json:"validation_type" doc:"high_value_deal, strategic_decision, client_communication, resource_reallocation or emergency_response"`
	EstimatedImpact     float64 `json:"estimated_impact,omitempty"`
	UrgencyLevel        int     `json:"urgency_level,omitempty"`
	BusinessContext     string  `json:"business_context,omitempty"`
	RecommendedDecision string  `json:"recommended_decision,omitempty"`
}

type DecisionRequest struct {
	Decision    string `json:"decision" enum:"approved,rejected,modified"`
	Feedback    string `json:"feedback,omitempty"`
	Adjustments any    `json:"adjustments,omitempty"`
}

type BatchDecisionRequest struct {
	ValidationIDs []string `json:"validation_ids" minItems:"1"`
	Decision      string   `json:"decision" enum:"approved,rejected,modified"`
	Feedback      string   `json:"feedback,omitempty"`
}

type AnalysisRequest struct {
	ValidationID string `json:"validation_id"`
	AnalysisType string `json:"analysis_type" doc:"strategic, technical, risk_assessment or personalization"`
	Context      any    `json:"context,omitempty"`
}

type WorkflowRequest struct {
	InitiatorBot string   `json:"initiator_bot,omitempty"`
	InvolvedBots []string `json:"involved_bots,omitempty" doc:"Defaults to every registered bot"`
	WorkflowData any      `json:"workflow_data,omitempty"`
}

type EscalationRequest struct {
	InitiatorBot string   `json:"initiator_bot,omitempty"`
	Severity     string   `json:"severity,omitempty" doc:"critical, high, medium or low"`
	IssueType    string   `json:"issue_type,omitempty"`
	Description  string   `json:"description,omitempty"`
	AffectedBots []string `json:"affected_bots,omitempty"`
	Details      any      `json:"details,omitempty"`
}

type MessageRequest struct {
	BotID   string `json:"bot_id"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type RegisterBotRequest struct {
	BotID string `json:"bot_id"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

type BotStatusRequest struct {
	Status string `json:"status" enum:"active,maintenance,error,paused"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type SubmitValidationResponse struct {
	ID                         string                  `json:"id"`
	Status                     domain.ValidationStatus `json:"status"`
	Priority                   int                     `json:"priority"`
	EstimatedReviewTime        string                  `json:"estimated_review_time"`
	RequiresImmediateAttention bool                    `json:"requires_immediate_attention"`
	RequiresAdvisoryAnalysis   bool                    `json:"requires_advisory_analysis"`
}

type DecisionResponse struct {
	Validation domain.ValidationRequest   `json:"validation"`
	Execution  *engine.ExecutionDirective `json:"execution,omitempty"`
}

type AuditLogResponse struct {
	Items      []domain.AuditLogEntry `json:"items"`
	NextCursor int64                  `json:"next_cursor,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty" doc:"Only returned when the key is created"`
	CreatedAt string `json:"created_at"`
}

type MeResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
