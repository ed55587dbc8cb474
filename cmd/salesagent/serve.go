package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/app"
	"github.com/Gireeshbd/ai-sales-agent/internal/logging"
)

const janitorInterval = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the campaign server and provider webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if store := ctx.flags.store; store != "" {
				cfg.LeadsStoreURL = store
			}
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Media streams and the janitor outlive the signal so that
			// shutdown can end calls in order.
			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()

			res, err := app.Build(baseCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					logger.Warn("cleanup failed", zap.Error(err))
				}
			}()
			res.Correlator.StartJanitor(baseCtx, janitorInterval)

			httpServer := &http.Server{
				Addr:              cfg.BindAddr,
				Handler:           res.API.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			listenErr := make(chan error, 1)
			go func() {
				logger.Info("server listening",
					zap.String("addr", cfg.BindAddr),
					zap.String("webhook_base_url", cfg.WebhookBaseURL),
					zap.String("voice", res.Voice.Detail),
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					listenErr <- err
				}
			}()

			select {
			case <-sigCtx.Done():
				logger.Info("shutdown signal received")
			case err := <-listenErr:
				return fmt.Errorf("listen: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			res.Campaigns.CancelSchedule()
			stopped := res.Campaigns.StopCampaign(shutdownCtx)
			if err := res.Calls.Shutdown(shutdownCtx); err != nil {
				logger.Warn("calls did not end before shutdown deadline", zap.Error(err))
			}
			cancelBase()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", zap.Error(err))
				_ = httpServer.Close()
			}
			logger.Info("shutdown complete", zap.String("campaign", stopped.Status))
			return nil
		},
	}
}
