package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"askbot/internal/audit"
	"askbot/internal/auth"
	"askbot/internal/backend"
	"askbot/internal/bus"
	"askbot/internal/channel"
	"askbot/internal/config"
	"askbot/internal/metrics"
	"askbot/internal/router"

	"github.com/spf13/cobra"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the bot (Slack channel + command router)",
		Long:  "Connects to Slack, loads the allow-list, and serves events until interrupted.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}
	if cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "" {
		return fmt.Errorf("slack credentials missing: set SLACK_BOT_TOKEN and SLACK_APP_TOKEN")
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.General.LogLevel),
	}))

	// Graceful shutdown on signals.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditLog, err := audit.Open(cfg.Audit.Path, nil, logger)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer auditLog.Close()
	auditLog.Record("askbot starting", map[string]any{"version": version, "config": cfgPath})

	messageBus := bus.New(cfg.General.BusBuffer, logger)

	gate := auth.Load(cfg.Auth.AllowlistPath, logger)
	if gate.Size() == 0 {
		logger.Warn("allow-list is empty, every message will be rejected")
	}

	slackCh := channel.NewSlack(channel.SlackConfig{
		BotToken: cfg.Channels.Slack.BotToken,
		AppToken: cfg.Channels.Slack.AppToken,
		Logger:   logger,
		Audit:    auditLog,
	})

	// Identity retrieval failure is fatal: the bot must not serve events
	// without knowing its own identity (self-message suppression).
	self, err := slackCh.Connect(ctx)
	if err != nil {
		return fmt.Errorf("bot identity: %w", err)
	}

	gateway := backend.New(backend.Config{
		Command: cfg.Backend.Command,
		Args:    cfg.Backend.Args,
		Bus:     messageBus,
		Audit:   auditLog,
		Logger:  logger,
	})

	commandRouter := router.New(router.Config{
		Self:    self,
		Gate:    gate,
		Bus:     messageBus,
		Gateway: gateway,
		Audit:   auditLog,
		Logger:  logger,
	})

	go commandRouter.Run(ctx)

	go func() {
		if err := slackCh.Start(ctx, messageBus); err != nil {
			logger.Error("slack channel error", "err", err)
			stop()
		}
	}()

	logger.Info("gateway started. Press Ctrl+C to stop.", "bot", self.DisplayName)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = slackCh.Stop()
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete", "counters", metrics.Collector.Render(), "uptime", metrics.Collector.Uptime().Round(time.Second))
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}

	auditLog.Record("askbot stopped", nil)
	return nil
}
