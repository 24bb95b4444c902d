package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"guardrails/internal/advisory"
	"guardrails/internal/audit"
	"guardrails/internal/config"
	"guardrails/internal/notify"
	"guardrails/internal/repo"
	"guardrails/internal/telemetry"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Notifier notify.Publisher
	Analyzer advisory.Analyzer
	Metrics  *telemetry.Instruments
	Logger   *slog.Logger
	Now      func() time.Time
}

// New returns an engine with in-process defaults: notifications are
// discarded and advisory analysis uses the heuristic scorer.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Config:   cfg,
		Notifier: notify.Discard{},
		Analyzer: advisory.Heuristic{
			ImpactThreshold: cfg.Queue.AdvisoryImpactThreshold,
			UrgentPriority:  cfg.Queue.UrgentPriority,
		},
		Metrics: telemetry.Noop(),
		Logger:  slog.Default(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) metrics() *telemetry.Instruments {
	if e.Metrics != nil {
		return e.Metrics
	}
	return telemetry.Noop()
}

func (e Engine) publish(ev notify.Event) {
	if e.Notifier == nil {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = e.timestamp()
	}
	e.Notifier.Publish(ev)
}

func (e Engine) appendAudit(ctx context.Context, tx *sql.Tx, entry audit.Entry) error {
	_, err := audit.Writer{Now: e.now}.Append(ctx, tx, entry)
	return err
}

// UrgentPriority is the threshold at which requests are treated as urgent.
func (e Engine) UrgentPriority() int {
	return e.Config.Queue.UrgentPriority
}

// normalizeJSON returns raw unchanged, or fallback when raw is empty. The
// bytes are validated but never re-encoded.
func normalizeJSON(raw json.RawMessage, field, fallback string) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(fallback), nil
	}
	if !json.Valid(raw) {
		return nil, InvalidPayloadError{Field: field, Reason: "must be valid JSON"}
	}
	return raw, nil
}
