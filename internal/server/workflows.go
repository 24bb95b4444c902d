package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"guardrails/internal/domain"
	"guardrails/internal/engine"
	"guardrails/internal/engine/auth"
)

type workflowOutput struct {
	Body domain.CoordinationWorkflow `json:"body"`
}

func registerWorkflows(api huma.API, e engine.Engine) {
	snapshots := []struct {
		id, path, summary string
		wt                domain.WorkflowType
	}{
		{"daily-standup", "/coordination/daily-standup", "Run a daily standup snapshot", domain.WorkflowDailyStandup},
		{"sync-status", "/coordination/sync-status", "Synchronize bot status", domain.WorkflowStatusSync},
		{"generate-report", "/coordination/generate-report", "Generate a squad performance report", domain.WorkflowSquadReport},
	}
	for _, s := range snapshots {
		wt := s.wt
		huma.Register(api, huma.Operation{
			OperationID:   s.id,
			Method:        http.MethodPost,
			Path:          s.path,
			Summary:       s.summary,
			Description:   "Gathers current bot and queue state and stores it as a completed workflow.",
			Tags:          []string{"coordination"},
			DefaultStatus: http.StatusCreated,
			Errors:        validationErrors,
		}, func(ctx context.Context, input *struct {
			Body WorkflowRequest `json:"body" required:"false"`
		}) (*workflowOutput, error) {
			principal, err := requirePermission(ctx, auth.PermWorkflowStart)
			if err != nil {
				return nil, handleError(err)
			}
			initiator := input.Body.InitiatorBot
			if initiator == "" && principal.Source == "api_key" {
				initiator = principal.ActorID
			}
			wf, err := e.StartWorkflow(ctx, engine.WorkflowInput{
				Type:         string(wt),
				InitiatorBot: initiator,
				InvolvedBots: input.Body.InvolvedBots,
				WorkflowData: rawField(ctx, "workflow_data"),
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &workflowOutput{Body: wf}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "emergency-escalation",
		Method:        http.MethodPost,
		Path:          "/coordination/emergency-escalation",
		Summary:       "Escalate an incident to human supervision",
		Description:   "Created directly in escalated status. Closing an escalation happens outside this service.",
		Tags:          []string{"coordination"},
		DefaultStatus: http.StatusCreated,
		Errors:        validationErrors,
	}, func(ctx context.Context, input *struct {
		Body EscalationRequest `json:"body"`
	}) (*workflowOutput, error) {
		principal, err := requirePermission(ctx, auth.PermWorkflowStart)
		if err != nil {
			return nil, handleError(err)
		}
		b := input.Body
		data := map[string]any{}
		if b.Severity != "" {
			data["severity"] = b.Severity
		}
		if b.IssueType != "" {
			data["issue_type"] = b.IssueType
		}
		if b.Description != "" {
			data["description"] = b.Description
		}
		if raw := rawField(ctx, "details"); raw != nil {
			data["details"] = raw
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, handleError(err)
		}
		initiator := b.InitiatorBot
		if initiator == "" && principal.Source == "api_key" {
			initiator = principal.ActorID
		}
		wf, err := e.StartWorkflow(ctx, engine.WorkflowInput{
			Type:         string(domain.WorkflowEmergencyEscalation),
			InitiatorBot: initiator,
			InvolvedBots: b.AffectedBots,
			WorkflowData: encoded,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &workflowOutput{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/coordination/workflows",
		Summary:     "List workflows, newest first",
		Tags:        []string{"coordination"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.CoordinationWorkflow `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermWorkflowRead); err != nil {
			return nil, handleError(err)
		}
		list, err := e.ListWorkflows(ctx, engine.WorkflowFilter{Type: input.Type, Status: input.Status, Limit: normalizeLimit(input.Limit, 20)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CoordinationWorkflow `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/coordination/workflows/{id}",
		Summary:     "Get a workflow with its communication log",
		Tags:        []string{"coordination"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*workflowOutput, error) {
		if _, err := requirePermission(ctx, auth.PermWorkflowRead); err != nil {
			return nil, handleError(err)
		}
		wf, err := e.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &workflowOutput{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-workflow-message",
		Method:        http.MethodPost,
		Path:          "/coordination/workflows/{id}/messages",
		Summary:       "Append a participant message to a workflow",
		Tags:          []string{"coordination"},
		DefaultStatus: http.StatusCreated,
		Errors:        validationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body domain.CommunicationEntry `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermWorkflowCommunicate); err != nil {
			return nil, handleError(err)
		}
		entry, err := e.AppendCommunication(ctx, engine.MessageInput{
			WorkflowID: input.ID,
			BotID:      input.Body.BotID,
			Kind:       input.Body.Kind,
			Message:    input.Body.Message,
			Data:       rawField(ctx, "data"),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CommunicationEntry `json:"body"`
		}{Body: entry}, nil
	})
}
