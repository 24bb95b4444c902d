package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"guardrails/internal/domain"
	"guardrails/internal/engine"
	"guardrails/internal/engine/auth"
	"guardrails/internal/repo"
)

const devTokenTTL = 12 * time.Hour

func registerBots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-bot",
		Method:        http.MethodPost,
		Path:          "/bots",
		Summary:       "Register or refresh a bot",
		Tags:          []string{"bots"},
		DefaultStatus: http.StatusCreated,
		Errors:        validationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterBotRequest `json:"body"`
	}) (*struct {
		Body domain.Bot `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermBotManage)
		if err != nil {
			return nil, handleError(err)
		}
		bot, err := e.RegisterBot(ctx, engine.BotInput{
			BotID:   input.Body.BotID,
			Name:    input.Body.Name,
			Role:    input.Body.Role,
			ActorID: principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bot `json:"body"`
		}{Body: bot}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bots",
		Method:      http.MethodGet,
		Path:        "/bots",
		Summary:     "List registered bots",
		Tags:        []string{"bots"},
		Errors:      validationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Bot `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermWorkflowRead); err != nil {
			return nil, handleError(err)
		}
		bots, err := e.ListBots(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Bot `json:"body"`
		}{Body: nonNilSlice(bots)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-bot-status",
		Method:      http.MethodPatch,
		Path:        "/bots/{id}/status",
		Summary:     "Change a bot's status",
		Tags:        []string{"bots"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body BotStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Bot `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermBotManage)
		if err != nil {
			return nil, handleError(err)
		}
		bot, err := e.SetBotStatus(ctx, input.ID, input.Body.Status, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Bot `json:"body"`
		}{Body: bot}, nil
	})
}

func registerAuditLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-log",
		Method:      http.MethodGet,
		Path:        "/audit-log",
		Summary:     "Tail the audit log, newest first",
		Tags:        []string{"audit"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		Actor      string `query:"actor"`
		Action     string `query:"action"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor" doc:"Return entries older than this id"`
	}) (*struct {
		Body AuditLogResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermAuditRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit, 50)
		entries, err := e.Repo.LatestAudit(ctx, repo.AuditFilters{
			Actor:      input.Actor,
			Action:     input.Action,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     input.Cursor,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := AuditLogResponse{Items: nonNilSlice(entries)}
		if len(entries) == limit {
			resp.NextCursor = entries[len(entries)-1].ID
		}
		return &struct {
			Body AuditLogResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Mint an API key for a bot or reviewer",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
		Errors:        validationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PermBotManage)
		if err != nil {
			return nil, handleError(err)
		}
		key, plain, err := e.CreateAPIKey(ctx, input.Body.ActorID, input.Body.Role, input.Body.Name, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Role:      key.Role,
			Name:      key.Name,
			Key:       plain,
			CreatedAt: key.CreatedAt,
		}}, nil
	})
}

func registerAPIKeyAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys without their secrets",
		Tags:        []string{"auth"},
		Errors:      validationErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.PermBotManage); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Role: k.Role, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusNoContent,
		Errors:        validationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		principal, err := requirePermission(ctx, auth.PermBotManage)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeAPIKey(ctx, input.ID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Describe the authenticated caller",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(principal.Permissions),
			Source:      principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Tags:        []string{"auth"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "invalid_payload", "actor_id is required", map[string]any{"field": "actor_id"})
		}
		roles := input.Body.Roles
		if len(roles) == 0 {
			roles = []string{"supervisor"}
		}
		for _, r := range roles {
			if !authCfg.Policy.HasRole(r) {
				return nil, newAPIError(http.StatusBadRequest, "invalid_payload", "unknown role "+r, map[string]any{"field": "roles"})
			}
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, roles, devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
