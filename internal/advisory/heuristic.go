package advisory

import (
	"context"
	"time"

	"guardrails/internal/domain"
)

// Heuristic scores a request from its own fields. It is deterministic and
// consumes no tokens.
type Heuristic struct {
	// ImpactThreshold marks impact values that call for closer review.
	ImpactThreshold float64
	UrgentPriority  int
	Now             func() time.Time
}

func (h Heuristic) Name() string { return "heuristic" }

func (h Heuristic) Analyze(_ context.Context, req Request) (domain.AdvisoryAnalysis, error) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	v := req.Validation
	var risks, suggestions []string
	penalty := 0
	if h.ImpactThreshold > 0 && v.EstimatedImpact > h.ImpactThreshold {
		risks = append(risks, "Estimated impact exceeds the review threshold")
		suggestions = append(suggestions, "Consider a phased rollout to limit exposure")
		penalty += 10
	}
	if h.UrgentPriority > 0 && v.Priority >= h.UrgentPriority {
		risks = append(risks, "Urgent timeline leaves little room for correction")
		suggestions = append(suggestions, "Add a quality checkpoint before execution")
		penalty += 8
	}
	switch v.ValidationType {
	case domain.TypeClientCommunication:
		risks = append(risks, "Client expectations need alignment with deliverable scope")
		suggestions = append(suggestions, "Review tone and commitments before sending")
		penalty += 4
	case domain.TypeResourceReallocation:
		risks = append(risks, "Reallocation may starve in-flight work")
		suggestions = append(suggestions, "Confirm capacity with affected owners")
		penalty += 6
	case domain.TypeStrategicDecision, domain.TypeHighValueDeal:
		suggestions = append(suggestions, "Validate assumptions against recent results")
	case domain.TypeEmergencyResponse:
		risks = append(risks, "Emergency actions are hard to reverse")
		penalty += 6
	}
	if risks == nil {
		risks = []string{}
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	recommendation := "Approve as proposed"
	if req.AnalysisType == TypeStrategic || penalty >= 14 {
		recommendation = "Proceed with modifications"
	}
	return domain.AdvisoryAnalysis{
		AnalysisType:                req.AnalysisType,
		Recommendation:              recommendation,
		Confidence:                  clampScore(95 - penalty),
		RiskFactors:                 risks,
		OptimizationSuggestions:     suggestions,
		EstimatedSuccessProbability: clampScore(92 - penalty),
		Provider:                    h.Name(),
		Context:                     req.Context,
		AnalyzedAt:                  now().UTC().Format(time.RFC3339),
	}, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > domain.ScoreCap {
		return domain.ScoreCap
	}
	return v
}
