package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"guardrails/internal/advisory"
	"guardrails/internal/audit"
	"guardrails/internal/domain"
	"guardrails/internal/notify"
)

// AdvisoryActor is the audit actor for analysis attachments.
const AdvisoryActor = "advisory-analyzer"

type AnalysisInput struct {
	ValidationID string
	AnalysisType string
	Context      json.RawMessage
	RequestedBy  string
}

// AttachAnalysis runs the configured analyzer and stores its result in the
// request's advisory slot, replacing any earlier result. Status and priority
// are never touched, whether or not the request has been decided.
func (e Engine) AttachAnalysis(ctx context.Context, in AnalysisInput) (domain.AdvisoryAnalysis, error) {
	if strings.TrimSpace(in.ValidationID) == "" {
		return domain.AdvisoryAnalysis{}, InvalidPayloadError{Field: "validation_id", Reason: "required"}
	}
	if strings.TrimSpace(in.AnalysisType) == "" {
		return domain.AdvisoryAnalysis{}, InvalidPayloadError{Field: "analysis_type", Reason: "required"}
	}
	var analysisCtx json.RawMessage
	if len(in.Context) > 0 {
		var err error
		if analysisCtx, err = normalizeJSON(in.Context, "context", ""); err != nil {
			return domain.AdvisoryAnalysis{}, err
		}
	}
	v, err := e.GetValidation(ctx, in.ValidationID)
	if err != nil {
		return domain.AdvisoryAnalysis{}, err
	}
	if e.Analyzer == nil {
		return domain.AdvisoryAnalysis{}, fmt.Errorf("advisory analyzer not configured")
	}
	result, err := e.Analyzer.Analyze(ctx, advisory.Request{Validation: v, AnalysisType: in.AnalysisType, Context: analysisCtx})
	if err != nil {
		e.logger().Warn("advisory analysis failed", "validation_id", v.ID, "analyzer", e.Analyzer.Name(), "err", err)
		return domain.AdvisoryAnalysis{}, fmt.Errorf("advisory analysis: %w", err)
	}
	if result.AnalysisType == "" {
		result.AnalysisType = in.AnalysisType
	}
	if result.AnalyzedAt == "" {
		result.AnalyzedAt = e.timestamp()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdvisoryAnalysis{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetAdvisoryAnalysisTx(ctx, tx, v.ID, result); err != nil {
		return domain.AdvisoryAnalysis{}, wrapNotFound(err, "validation", v.ID)
	}
	auditCtx := audit.Context{
		"validation_id": v.ID,
		"analysis_type": result.AnalysisType,
		"confidence":    result.Confidence,
		"analyzer":      e.Analyzer.Name(),
	}
	if result.TokensUsed > 0 {
		auditCtx["tokens_used"] = result.TokensUsed
	}
	if in.RequestedBy != "" {
		auditCtx["requested_by"] = in.RequestedBy
	}
	msg := fmt.Sprintf("Advisory analysis completed for %s", result.AnalysisType)
	if result.TokensUsed > 0 {
		msg = fmt.Sprintf("%s (%d tokens)", msg, result.TokensUsed)
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      AdvisoryActor,
		Action:     "analysis_completed",
		Message:    msg,
		EntityKind: "validation",
		EntityID:   v.ID,
		Context:    auditCtx,
	}); err != nil {
		return domain.AdvisoryAnalysis{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdvisoryAnalysis{}, err
	}

	e.metrics().AdvisoryTokens(ctx, e.Analyzer.Name(), result.TokensUsed)
	e.publish(notify.Event{
		Type: notify.EventAdvisoryCompleted,
		Payload: map[string]any{
			"validation_id":  v.ID,
			"analysis_type":  result.AnalysisType,
			"recommendation": result.Recommendation,
			"confidence":     result.Confidence,
			"tokens_used":    result.TokensUsed,
		},
	})
	return result, nil
}
