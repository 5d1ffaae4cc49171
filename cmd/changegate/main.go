// changegate validates ServiceNow change requests: it receives change
// webhooks, collects facts about the changed component, synthesizes a
// verdict, and writes it back to the change record.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mobizinc/changegate/internal/collector"
	"github.com/Mobizinc/changegate/internal/config"
	"github.com/Mobizinc/changegate/internal/pipeline"
	"github.com/Mobizinc/changegate/internal/servicenow"
	"github.com/Mobizinc/changegate/internal/storage"
	"github.com/Mobizinc/changegate/internal/storage/memory"
	"github.com/Mobizinc/changegate/internal/storage/sqlstore"
	"github.com/Mobizinc/changegate/internal/synthesis"
	"github.com/Mobizinc/changegate/internal/telemetry"
)

var version = "0.2.0-dev"

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "changegate",
	Short:         "Change validation pipeline for ServiceNow change requests",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		return telemetry.Init(cmd.Context(), "changegate", version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the changegate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("changegate %s\n", version)
	},
}

// openStore builds the configured storage backend, instrumented when
// telemetry is on.
func openStore(ctx context.Context) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch cfg.Store.Backend {
	case config.StoreMySQL:
		store, err = sqlstore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
	default:
		store = memory.New()
	}
	return telemetry.WrapStore(store), nil
}

// buildPipeline assembles the orchestrator from configuration. Without
// ServiceNow credentials there is nothing to collect from or post to, so
// serve/process refuse to start.
func buildPipeline(store storage.Store) (*pipeline.Pipeline, error) {
	if cfg.ServiceNow.InstanceURL == "" {
		return nil, fmt.Errorf("servicenow.instance_url is required")
	}
	snow := servicenow.NewClient(
		cfg.ServiceNow.InstanceURL,
		cfg.ServiceNow.Username,
		cfg.ServiceNow.Password,
		cfg.ServiceNow.Timeout,
	)

	registry := collector.NewRegistry()
	if cfg.ComponentsFile != "" {
		if err := registry.LoadDefinitionsFile(cfg.ComponentsFile); err != nil {
			return nil, fmt.Errorf("load component definitions: %w", err)
		}
		logger.Info("loaded extra component definitions", "path", cfg.ComponentsFile)
	}

	col := collector.New(collector.Config{
		Client:         snow,
		Registry:       registry,
		FetchTimeout:   cfg.FetchTimeout,
		OverallTimeout: cfg.OverallTimeout,
		TargetInstance: cfg.ServiceNow.TargetInstance,
		StaleAfterDays: cfg.StaleCloneDays,
		Logger:         logger,
	})

	var completer synthesis.Completer
	if cfg.Anthropic.APIKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		client, err := synthesis.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
		if err != nil {
			return nil, err
		}
		completer = client
	} else {
		logger.Warn("no Anthropic API key configured, using rules-only synthesis")
	}

	synth := synthesis.New(synthesis.Config{
		Completer: completer,
		Timeout:   cfg.SynthesisTimeout,
		Logger:    logger,
	})

	return pipeline.New(pipeline.Config{
		Store:       store,
		Collector:   col,
		Synthesizer: synth,
		Notes:       snow,
		Logger:      logger,
	}), nil
}
