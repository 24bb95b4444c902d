// Package advisory produces the informational analysis attached to
// validation requests. Results are surfaced to reviewers as-is; nothing here
// feeds back into priority or status.
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"guardrails/internal/domain"
)

// Request is the input to an Analyzer.
type Request struct {
	Validation   domain.ValidationRequest
	AnalysisType string
	Context      json.RawMessage
}

type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req Request) (domain.AdvisoryAnalysis, error)
}

// Known analysis types. Any other non-empty value is accepted and treated as general.
const (
	TypeStrategic       = "strategic"
	TypeTechnical       = "technical"
	TypeRiskAssessment  = "risk_assessment"
	TypePersonalization = "personalization"
)

func describe(v domain.ValidationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "initiator_bot: %s\n", v.InitiatorBot)
	fmt.Fprintf(&b, "action_type: %s\n", v.ActionType)
	fmt.Fprintf(&b, "validation_type: %s\n", v.ValidationType)
	fmt.Fprintf(&b, "estimated_impact: %g\n", v.EstimatedImpact)
	fmt.Fprintf(&b, "urgency_level: %d\n", v.UrgencyLevel)
	fmt.Fprintf(&b, "priority: %d\n", v.Priority)
	fmt.Fprintf(&b, "status: %s\n", v.Status)
	if v.GuardrailsContext.BusinessContext != "" {
		fmt.Fprintf(&b, "business_context: %s\n", v.GuardrailsContext.BusinessContext)
	}
	if v.GuardrailsContext.RecommendedDecision != "" {
		fmt.Fprintf(&b, "recommended_decision: %s\n", v.GuardrailsContext.RecommendedDecision)
	}
	fmt.Fprintf(&b, "action_data: %s\n", string(v.ActionData))
	return b.String()
}
