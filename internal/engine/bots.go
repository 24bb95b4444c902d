package engine

import (
	"context"
	"fmt"
	"strings"

	"guardrails/internal/audit"
	"guardrails/internal/domain"
)

const defaultBotHealth = 95

type BotInput struct {
	BotID string
	Name  string
	Role  string
	// ActorID is the caller registering the bot.
	ActorID string
}

// RegisterBot adds a bot to the directory snapshots read from. Registering an
// existing id refreshes its name and role.
func (e Engine) RegisterBot(ctx context.Context, in BotInput) (domain.Bot, error) {
	id := strings.TrimSpace(in.BotID)
	if id == "" {
		return domain.Bot{}, InvalidPayloadError{Field: "bot_id", Reason: "required"}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = id
	}
	now := e.timestamp()
	actor := in.ActorID
	if actor == "" {
		actor = id
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertBotTx(ctx, tx, domain.Bot{
		BotID:        id,
		Name:         name,
		Role:         strings.TrimSpace(in.Role),
		Status:       domain.BotActive,
		Health:       defaultBotHealth,
		LastActivity: now,
		CreatedAt:    now,
	}); err != nil {
		return domain.Bot{}, fmt.Errorf("register bot: %w", err)
	}
	bot, err := e.Repo.GetBotTx(ctx, tx, id)
	if err != nil {
		return domain.Bot{}, err
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      actor,
		Action:     "bot_registered",
		Message:    fmt.Sprintf("Bot %s registered", id),
		EntityKind: "bot",
		EntityID:   id,
		Context:    audit.Context{"name": bot.Name, "role": bot.Role},
	}); err != nil {
		return domain.Bot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bot{}, err
	}
	return bot, nil
}

func (e Engine) ListBots(ctx context.Context) ([]domain.Bot, error) {
	return e.Repo.ListBots(ctx)
}

func (e Engine) SetBotStatus(ctx context.Context, botID, status, actorID string) (domain.Bot, error) {
	st, err := domain.ParseBotStatus(status)
	if err != nil {
		return domain.Bot{}, InvalidPayloadError{Field: "status", Reason: err.Error()}
	}
	if actorID == "" {
		actorID = botID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bot{}, err
	}
	defer tx.Rollback()
	prev, err := e.Repo.GetBotTx(ctx, tx, botID)
	if err != nil {
		return domain.Bot{}, wrapNotFound(err, "bot", botID)
	}
	if err := e.Repo.SetBotStatusTx(ctx, tx, botID, st, e.timestamp()); err != nil {
		return domain.Bot{}, wrapNotFound(err, "bot", botID)
	}
	outcome := domain.OutcomeSuccess
	if st == domain.BotError {
		outcome = domain.OutcomeWarning
	}
	if err := e.appendAudit(ctx, tx, audit.Entry{
		Actor:      actorID,
		Action:     "bot_status_changed",
		Outcome:    outcome,
		Message:    fmt.Sprintf("Bot %s status %s -> %s", botID, prev.Status, st),
		EntityKind: "bot",
		EntityID:   botID,
		Context:    audit.Context{"from": string(prev.Status), "to": string(st)},
	}); err != nil {
		return domain.Bot{}, err
	}
	bot, err := e.Repo.GetBotTx(ctx, tx, botID)
	if err != nil {
		return domain.Bot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bot{}, err
	}
	return bot, nil
}
