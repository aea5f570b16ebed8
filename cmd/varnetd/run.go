package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/directory/natskv"
	"github.com/c360/varnet/engine"
	"github.com/c360/varnet/metric"
	"github.com/c360/varnet/natsclient"
)

var runOpts struct {
	Demo bool
	Tick time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Assemble and run the application until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := initializeCLI()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(flags.ConfigPath)
		if err != nil {
			return err
		}
		logger.Info("Starting varnetd",
			"version", Version,
			"build_time", BuildTime,
			"config_path", flags.ConfigPath,
			"application", cfg.Application.Name)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.Demo, "demo", getEnvBool("VARNET_DEMO", true),
		"Add the ticker and controller demo modules (env: VARNET_DEMO)")
	runCmd.Flags().DurationVar(&runOpts.Tick, "tick", time.Second, "Ticker period of the demo")
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	opts := []engine.Option{engine.WithLogger(logger), engine.WithMetricsRegistry(registry)}

	if cfg.Directory.Kind == config.DirectoryNATS {
		client, bridge, err := connectDirectory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
		opts = append(opts, engine.WithDirectory(bridge))
	}

	app, err := engine.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	if runOpts.Demo {
		buildDemo(app, runOpts.Tick)
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, healthHandler(app))
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}
	logger.Info(app.Report().Summary())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-app.Done():
		runErr = app.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
	}
	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}
	if n := app.DataLossCounter(); n > 0 {
		logger.Warn("Values were lost", "count", n)
	}
	return runErr
}

// connectDirectory connects to NATS and opens the directory bucket
func connectDirectory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, *natskv.Bridge, error) {
	nc := cfg.Directory.NATS
	clientOpts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(cfg.Application.Name),
		natsclient.WithConnectRetry(cfg.Recovery.RetryConfig()),
	}
	if nc.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(nc.Token))
	}
	client, err := natsclient.NewClient(nc.URL, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", nc.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      nc.Bucket,
		Description: "variable directory of " + cfg.Application.Name,
		History:     1,
	})
	if err != nil {
		_ = client.Close(context.Background())
		return nil, nil, fmt.Errorf("open bucket %s: %w", nc.Bucket, err)
	}
	prefix := nc.Prefix
	if prefix == "" {
		prefix = cfg.Application.Name
	}
	bridge := natskv.New(client.NewKVStore(bucket), natskv.WithPrefix(prefix), natskv.WithLogger(logger))
	return client, bridge, nil
}

// healthHandler serves the aggregated application health as JSON
func healthHandler(app *engine.Application) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := app.Health()
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
