package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"guardrails/internal/app"
	"guardrails/internal/engine/auth"
	"guardrails/internal/server"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, live event stream and notification sinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := slog.Default()

			secret := viper.GetString("jwt-secret")
			if secret == "" && !allowActorHeader {
				return fmt.Errorf("GUARDRAILS_JWT_SECRET is required for bearer auth (or pass --allow-actor-header for local use)")
			}
			a, err := app.Open(ctx, app.Options{
				Workspace: viper.GetString("workspace"),
				Logger:    logger,
				Sinks:     true,
				Telemetry: true,
			})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Metrics:  a.Metrics,
				Hub:      a.Hub,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					Policy:                 auth.Policy{Roles: a.Config.Auth.Roles},
					AllowLegacyActorHeader: allowActorHeader,
					LegacyRoles:            []string{"supervisor"},
					DevLogin:               devLogin,
					Logger:                 logger,
				},
				RateLimit: server.RateLimitConfig{
					RPS:   a.Config.Server.RateLimit.RPS,
					Burst: a.Config.Server.RateLimit.Burst,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("serving guardrails api", "addr", addr, "base_path", basePath,
					"openapi", basePath+"/openapi.json", "docs", basePath+"/docs", "stream", basePath+"/stream")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				logger.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env GUARDRAILS_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id as a supervisor (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
