// Package app wires the store, configuration, notification hub and engine
// into one process-wide bundle shared by the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"guardrails/internal/advisory"
	"guardrails/internal/config"
	"guardrails/internal/db"
	"guardrails/internal/engine"
	"guardrails/internal/metrics"
	"guardrails/internal/migrate"
	"guardrails/internal/notify"
	"guardrails/internal/telemetry"
)

type Options struct {
	Workspace string
	Logger    *slog.Logger
	// Sinks connects the NATS, Redis and webhook sinks from config. CLI
	// one-shot commands leave it off.
	Sinks bool
	// Telemetry installs the OpenTelemetry meter provider.
	Telemetry bool
	// AnthropicAPIKey overrides ANTHROPIC_API_KEY.
	AnthropicAPIKey string
}

type App struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Hub     *notify.Hub
	Metrics metrics.Aggregator
	Logger  *slog.Logger

	provider *sdkmetric.MeterProvider
}

// Open opens and migrates the workspace database, loads guardrails.yml (or
// defaults) and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{DB: conn, Config: cfg, Logger: logger}

	instruments := telemetry.Noop()
	if opts.Telemetry {
		a.provider, err = telemetry.Setup(cfg.Telemetry.Stdout)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		if instruments, err = telemetry.New(telemetry.Meter()); err != nil {
			a.shutdownTelemetry(ctx)
			conn.Close()
			return nil, fmt.Errorf("telemetry instruments: %w", err)
		}
	}

	a.Hub = notify.NewHub(notify.HubOptions{
		Buffer: cfg.Notifications.Buffer,
		Logger: logger,
		OnDrop: instruments.Dropped,
	})
	if opts.Sinks {
		a.attachSinks(ctx)
	}

	analyzer, err := newAnalyzer(cfg, opts.AnthropicAPIKey)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	eng := engine.New(conn, cfg)
	eng.Notifier = a.Hub
	eng.Analyzer = analyzer
	eng.Metrics = instruments
	eng.Logger = logger
	a.Engine = eng
	a.Metrics = metrics.Aggregator{Repo: eng.Repo, Config: cfg, Now: time.Now}
	return a, nil
}

func (a *App) attachSinks(ctx context.Context) {
	n := a.Config.Notifications
	if n.NATS.URL != "" {
		sink, err := notify.DialNATS(n.NATS.URL, n.NATS.SubjectPrefix)
		if err != nil {
			a.Logger.Warn("nats sink disabled", "url", n.NATS.URL, "err", err)
		} else {
			a.Hub.AddSink(sink)
			a.Logger.Info("nats sink attached", "url", n.NATS.URL, "prefix", n.NATS.SubjectPrefix)
		}
	}
	if n.Redis.Addr != "" {
		sink := notify.NewRedisSink(n.Redis.Addr, n.Redis.Password, n.Redis.DB, n.Redis.Channel)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := sink.Ping(pingCtx); err != nil {
			a.Logger.Warn("redis unreachable; deliveries will retry per event", "addr", n.Redis.Addr, "err", err)
		}
		cancel()
		a.Hub.AddSink(sink)
		a.Logger.Info("redis sink attached", "addr", n.Redis.Addr, "channel", n.Redis.Channel)
	}
	for _, hook := range n.Webhooks {
		if !hook.Active() {
			continue
		}
		a.Hub.AddSink(notify.NewWebhookSink(hook))
		a.Logger.Info("webhook sink attached", "url", hook.URL, "events", hook.Events)
	}
}

func newAnalyzer(cfg *config.Config, apiKey string) (advisory.Analyzer, error) {
	switch cfg.Advisory.Provider {
	case "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return advisory.NewAnthropic(apiKey, cfg.Advisory.Model, cfg.Advisory.MaxTokens)
	default:
		return advisory.Heuristic{
			ImpactThreshold: cfg.Queue.AdvisoryImpactThreshold,
			UrgentPriority:  cfg.Queue.UrgentPriority,
		}, nil
	}
}

func (a *App) shutdownTelemetry(ctx context.Context) error {
	if a.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.provider.Shutdown(ctx)
}

// Close drains notification sinks, flushes telemetry and closes the database.
func (a *App) Close(ctx context.Context) error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	return errors.Join(a.shutdownTelemetry(ctx), a.DB.Close())
}
