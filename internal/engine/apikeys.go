package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"guardrails/internal/audit"
	"guardrails/internal/domain"
	"guardrails/internal/repo"
)

const apiKeyPrefix = "gr_"

// CreateAPIKey mints a key bound to actorID and role. The plaintext is only
// returned here; the store keeps its hash.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, role, name, createdBy string) (domain.APIKey, string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domain.APIKey{}, "", InvalidPayloadError{Field: "actor_id", Reason: "required"}
	}
	if _, ok := e.Config.Auth.Roles[role]; !ok {
		return domain.APIKey{}, "", InvalidPayloadError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Role:      role,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	if createdBy == "" {
		createdBy = audit.HumanSupervisor
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      createdBy,
		Action:     "api_key_created",
		Message:    fmt.Sprintf("API key %s created for %s (%s)", key.ID, actorID, role),
		EntityKind: "api_key",
		EntityID:   key.ID,
		Context:    audit.Context{"actor_id": actorID, "role": role},
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// RevokeAPIKey deletes a key so it stops authenticating immediately.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	if actorID == "" {
		actorID = audit.HumanSupervisor
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, id); err != nil {
		return wrapNotFound(err, "api_key", id)
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      actorID,
		Action:     "api_key_revoked",
		Outcome:    domain.OutcomeWarning,
		Message:    fmt.Sprintf("API key %s revoked", id),
		EntityKind: "api_key",
		EntityID:   id,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
