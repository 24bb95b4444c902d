package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guardrails/internal/domain"
	"guardrails/internal/engine"
	"guardrails/internal/engine/auth"
	"guardrails/internal/metrics"
)

var validationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerValidations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-validation",
		Method:        http.MethodPost,
		Path:          "/submit-validation",
		Summary:       "Queue a bot action for human review",
		Tags:          []string{"validations"},
		DefaultStatus: http.StatusCreated,
		Errors:        validationErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitValidationRequest `json:"body"`
	}) (*struct {
		Body SubmitValidationResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermValidationSubmit); err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		res, err := e.Submit(ctx, engine.SubmitInput{
			InitiatorBot:        b.InitiatorBot,
			ActionType:          b.ActionType,
			ActionData:          rawField(ctx, "action_data"),
			ValidationType:      b.ValidationType,
			EstimatedImpact:     b.EstimatedImpact,
			UrgencyLevel:        b.UrgencyLevel,
			BusinessContext:     b.BusinessContext,
			RecommendedDecision: b.RecommendedDecision,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitValidationResponse `json:"body"`
		}{Body: SubmitValidationResponse{
			ID:                         res.Validation.ID,
			Status:                     res.Validation.Status,
			Priority:                   res.Validation.Priority,
			EstimatedReviewTime:        res.EstimatedReviewTime,
			RequiresImmediateAttention: res.RequiresImmediateAttention,
			RequiresAdvisoryAnalysis:   res.Validation.GuardrailsContext.RequiresAdvisoryAnalysis,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-validations",
		Method:      http.MethodGet,
		Path:        "/pending-validations",
		Summary:     "List pending requests, highest priority first, grouped by type",
		Tags:        []string{"validations"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		Priority int    `query:"priority" default:"-1" doc:"Exact priority; -1 for any"`
		Type     string `query:"type"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body engine.PendingView `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermValidationRead); err != nil {
			return nil, handleError(err)
		}
		filter := engine.PendingFilter{ValidationType: input.Type, Limit: input.Limit}
		if input.Priority >= 0 {
			p := input.Priority
			filter.Priority = &p
		}
		view, err := e.ListPending(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PendingView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validation",
		Method:      http.MethodGet,
		Path:        "/validations/{id}",
		Summary:     "Get a validation request",
		Tags:        []string{"validations"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermValidationRead); err != nil {
			return nil, handleError(err)
		}
		v, err := e.GetValidation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate",
		Method:      http.MethodPost,
		Path:        "/validate/{id}",
		Summary:     "Decide a pending request",
		Description: "Approval returns an execution directive carrying the submitted action_data unchanged. A request that is no longer pending answers 409 with its current status.",
		Tags:        []string{"validations"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermValidationDecide)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.Decide(ctx, engine.DecideInput{
			ID:          input.ID,
			Decision:    input.Body.Decision,
			Feedback:    input.Body.Feedback,
			Adjustments: rawField(ctx, "adjustments"),
			ReviewerID:  principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionResponse `json:"body"`
		}{Body: DecisionResponse{Validation: res.Validation, Execution: res.Execution}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-batch",
		Method:      http.MethodPost,
		Path:        "/validate-batch",
		Summary:     "Apply one decision to several requests",
		Description: "Each id is decided independently; the result reports decided, already_decided or not_found per id.",
		Tags:        []string{"validations"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		Body BatchDecisionRequest `json:"body"`
	}) (*struct {
		Body engine.BatchResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermValidationDecide)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.DecideBatch(ctx, input.Body.ValidationIDs, input.Body.Decision, input.Body.Feedback, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BatchResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerAnalysis(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claude-analysis",
		Method:      http.MethodPost,
		Path:        "/claude-analysis",
		Summary:     "Attach advisory analysis to a request",
		Description: "Advisory only. The request's status and priority are never changed.",
		Tags:        []string{"validations"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		Body AnalysisRequest `json:"body"`
	}) (*struct {
		Body domain.AdvisoryAnalysis `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermAnalysisAttach)
		if err != nil {
			return nil, handleError(err)
		}
		res, err := e.AttachAnalysis(ctx, engine.AnalysisInput{
			ValidationID: input.Body.ValidationID,
			AnalysisType: input.Body.AnalysisType,
			Context:      rawField(ctx, "context"),
			RequestedBy:  principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AdvisoryAnalysis `json:"body"`
		}{Body: res}, nil
	})
}

func registerMetrics(api huma.API, agg metrics.Aggregator) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-metrics",
		Method:      http.MethodGet,
		Path:        "/dashboard-metrics",
		Summary:     "Queue and decision statistics over a time window",
		Tags:        []string{"metrics"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		Timeframe string `query:"timeframe" doc:"24h, 7d or any Go duration" default:"24h"`
	}) (*struct {
		Body metrics.Dashboard `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermMetricsRead); err != nil {
			return nil, handleError(err)
		}
		out, err := agg.DashboardMetrics(ctx, input.Timeframe)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body metrics.Dashboard `json:"body"`
		}{Body: out}, nil
	})
}
