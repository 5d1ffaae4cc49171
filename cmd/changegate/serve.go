package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mobizinc/changegate/internal/pipeline"
	"github.com/Mobizinc/changegate/internal/queue"
	"github.com/Mobizinc/changegate/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the HTTP server that receives change webhooks from ServiceNow
and processes them through the validation pipeline.

Endpoints:
  POST /api/v1/validations/webhook   receive a change event
  POST /api/v1/validations/worker    process one received change
  GET  /healthz                      health check`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		p, err := buildPipeline(store)
		if err != nil {
			return err
		}

		process := func(ctx context.Context, changeID string) error {
			_, err := p.Process(ctx, changeID)
			return err
		}

		var (
			enq        queue.Enqueuer
			dispatcher *queue.Dispatcher
		)
		if cfg.Async {
			dispatcher = queue.NewDispatcher(queue.DispatcherConfig{
				Process: process,
				Logger:  logger,
			})
			enq = dispatcher
		} else {
			enq = &queue.Inline{Process: process}
		}

		auth := webhook.NewAuthenticator([]byte(cfg.WebhookSecret), cfg.WebhookStaticKey)
		if cfg.WebhookSecretFile != "" {
			if err := webhook.WatchSecretFile(ctx, cfg.WebhookSecretFile, auth, logger); err != nil {
				return err
			}
		}
		if !auth.Enabled() {
			logger.Warn("no webhook secret or key configured, accepting unauthenticated webhooks")
		}

		server := webhook.NewServer(webhook.ServerConfig{
			Pipeline:  p,
			Queue:     enq,
			Auth:      auth,
			Enabled:   cfg.Enabled,
			AsyncMode: cfg.Async,
			Logger:    logger,
		})

		errCh := make(chan error, 1)
		go func() {
			logger.Info("webhook server listening", "addr", cfg.Addr, "async", cfg.Async)
			errCh <- server.Start(cfg.Addr)
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if dispatcher != nil {
			if err := dispatcher.Shutdown(shutdownCtx); err != nil {
				logger.Error("dispatcher shutdown", "error", err)
			}
		}
		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process <change-sys-id>",
	Short: "Run one validation attempt for a received change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		p, err := buildPipeline(store)
		if err != nil {
			return err
		}

		verdict, err := p.Process(ctx, args[0])
		if err != nil {
			var nfe *pipeline.NotFoundError
			if errors.As(err, &nfe) {
				return fmt.Errorf("%s (was the webhook received?)", nfe.Error())
			}
			return err
		}

		printVerdict(args[0], verdict)
		return nil
	},
}
