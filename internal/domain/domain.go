package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidationStatus is the decision state of a ValidationRequest.
type ValidationStatus string

const (
	StatusPending  ValidationStatus = "pending"
	StatusApproved ValidationStatus = "approved"
	StatusRejected ValidationStatus = "rejected"
	StatusModified ValidationStatus = "modified"
)

// Terminal reports whether no further transition is allowed.
func (s ValidationStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusModified:
		return true
	case StatusPending:
		return false
	}
	return false
}

// ParseDecision accepts only the terminal statuses a reviewer may choose.
func ParseDecision(s string) (ValidationStatus, error) {
	switch v := ValidationStatus(s); v {
	case StatusApproved, StatusRejected, StatusModified:
		return v, nil
	}
	return "", fmt.Errorf("decision must be approved, rejected, or modified (got %q)", s)
}

// ParseValidationStatus accepts any known status.
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch v := ValidationStatus(s); v {
	case StatusPending, StatusApproved, StatusRejected, StatusModified:
		return v, nil
	}
	return "", fmt.Errorf("unknown validation status %q", s)
}

// ValidationType routes a request to a reviewer group. It never drives state.
type ValidationType string

const (
	TypeHighValueDeal        ValidationType = "high_value_deal"
	TypeStrategicDecision    ValidationType = "strategic_decision"
	TypeClientCommunication  ValidationType = "client_communication"
	TypeResourceReallocation ValidationType = "resource_reallocation"
	TypeEmergencyResponse    ValidationType = "emergency_response"
)

// ValidationTypes lists the closed set in display order.
var ValidationTypes = []ValidationType{
	TypeHighValueDeal,
	TypeStrategicDecision,
	TypeClientCommunication,
	TypeResourceReallocation,
	TypeEmergencyResponse,
}

func ParseValidationType(s string) (ValidationType, error) {
	for _, t := range ValidationTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown validation type %q", s)
}

// GroupKey is the plural key used when pending requests are grouped for reviewers.
func (t ValidationType) GroupKey() string {
	return string(t) + "s"
}

// Outcome classifies an audit entry.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
)

type WorkflowType string

const (
	WorkflowDailyStandup        WorkflowType = "daily_standup"
	WorkflowStatusSync          WorkflowType = "status_sync"
	WorkflowSquadReport         WorkflowType = "squad_report"
	WorkflowEmergencyEscalation WorkflowType = "emergency_escalation"
)

func ParseWorkflowType(s string) (WorkflowType, error) {
	switch v := WorkflowType(s); v {
	case WorkflowDailyStandup, WorkflowStatusSync, WorkflowSquadReport, WorkflowEmergencyEscalation:
		return v, nil
	}
	return "", fmt.Errorf("unknown workflow type %q", s)
}

type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowEscalated  WorkflowStatus = "escalated"
	WorkflowFailed     WorkflowStatus = "failed"
)

func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch v := WorkflowStatus(s); v {
	case WorkflowPending, WorkflowInProgress, WorkflowCompleted, WorkflowEscalated, WorkflowFailed:
		return v, nil
	}
	return "", fmt.Errorf("unknown workflow status %q", s)
}

// Terminal reports whether the workflow has reached its single closing state.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowEscalated, WorkflowFailed:
		return true
	case WorkflowPending, WorkflowInProgress:
		return false
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(s); v {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return v, nil
	}
	return "", fmt.Errorf("severity must be one of critical, high, medium, low (got %q)", s)
}

type BotStatus string

const (
	BotActive      BotStatus = "active"
	BotMaintenance BotStatus = "maintenance"
	BotError       BotStatus = "error"
	BotPaused      BotStatus = "paused"
)

func ParseBotStatus(s string) (BotStatus, error) {
	switch v := BotStatus(s); v {
	case BotActive, BotMaintenance, BotError, BotPaused:
		return v, nil
	}
	return "", fmt.Errorf("bot status must be one of active, maintenance, error, paused (got %q)", s)
}

// ScoreCap is the saturation point of both priority inputs and the priority itself.
const ScoreCap = 100

// Priority derives the 0-100 queue priority. Both inputs saturate at ScoreCap
// before being summed, and the sum saturates again.
func Priority(estimatedImpact float64, urgencyLevel int) int {
	impact := math.Min(ScoreCap, math.Max(0, estimatedImpact))
	urgency := math.Min(ScoreCap, math.Max(0, float64(urgencyLevel)))
	return int(math.Floor(math.Min(ScoreCap, impact+urgency)))
}

// GuardrailsContext is the structured note stored alongside every request.
type GuardrailsContext struct {
	BusinessContext          string `json:"business_context"`
	RecommendedDecision      string `json:"recommended_decision"`
	UrgencyLevel             int    `json:"urgency_level"`
	SubmissionTime           string `json:"submission_time" format:"date-time"`
	RequiresAdvisoryAnalysis bool   `json:"requires_advisory_analysis"`
}

// AdvisoryAnalysis is informational scoring surfaced to reviewers. The engine
// does not bound or interpret its contents.
type AdvisoryAnalysis struct {
	AnalysisType                string          `json:"analysis_type"`
	Recommendation              string          `json:"recommendation"`
	Confidence                  int             `json:"confidence"`
	RiskFactors                 []string        `json:"risk_factors"`
	OptimizationSuggestions     []string        `json:"optimization_suggestions"`
	EstimatedSuccessProbability int             `json:"estimated_success_probability"`
	TokensUsed                  int64           `json:"tokens_used,omitempty"`
	Provider                    string          `json:"provider,omitempty"`
	Context                     json.RawMessage `json:"context,omitempty"`
	AnalyzedAt                  string          `json:"analyzed_at" format:"date-time"`
}

type ValidationRequest struct {
	ID                string            `json:"id"`
	InitiatorBot      string            `json:"initiator_bot"`
	ActionType        string            `json:"action_type"`
	ActionData        json.RawMessage   `json:"action_data"`
	ValidationType    ValidationType    `json:"validation_type"`
	EstimatedImpact   float64           `json:"estimated_impact"`
	UrgencyLevel      int               `json:"urgency_level"`
	Priority          int               `json:"priority"`
	Status            ValidationStatus  `json:"status"`
	GuardrailsContext GuardrailsContext `json:"guardrails_context"`
	HumanFeedback     string            `json:"human_feedback,omitempty"`
	DecisionTime      *string           `json:"decision_time,omitempty" format:"date-time"`
	DecidedBy         string            `json:"decided_by,omitempty"`
	Adjustments       json.RawMessage   `json:"adjustments,omitempty"`
	AdvisoryAnalysis  *AdvisoryAnalysis `json:"advisory_analysis,omitempty"`
	CreatedAt         string            `json:"created_at" format:"date-time"`
}

// CommunicationEntry is one participant event on a workflow.
type CommunicationEntry struct {
	Seq     int64           `json:"seq"`
	BotID   string          `json:"bot_id"`
	Kind    string          `json:"kind"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	TS      string          `json:"ts" format:"date-time"`
}

type CoordinationWorkflow struct {
	ID               string               `json:"id"`
	WorkflowType     WorkflowType         `json:"workflow_type"`
	InitiatorBot     string               `json:"initiator_bot"`
	InvolvedBots     []string             `json:"involved_bots"`
	Status           WorkflowStatus       `json:"status"`
	WorkflowData     json.RawMessage      `json:"workflow_data"`
	CommunicationLog []CommunicationEntry `json:"communication_log"`
	CreatedAt        string               `json:"created_at" format:"date-time"`
	UpdatedAt        string               `json:"updated_at" format:"date-time"`
}

type AuditLogEntry struct {
	ID         int64           `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	Outcome    Outcome         `json:"outcome"`
	Message    string          `json:"message"`
	EntityKind string          `json:"entity_kind,omitempty"`
	EntityID   string          `json:"entity_id,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	Timestamp  string          `json:"timestamp" format:"date-time"`
}

// Bot is the engine's read view of a registry entry.
type Bot struct {
	BotID          string    `json:"bot_id"`
	Name           string    `json:"name"`
	Role           string    `json:"role,omitempty"`
	Status         BotStatus `json:"status"`
	Health         int       `json:"health"`
	TasksActive    int       `json:"tasks_active"`
	TasksCompleted int       `json:"tasks_completed"`
	LastActivity   string    `json:"last_activity" format:"date-time"`
	CreatedAt      string    `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
