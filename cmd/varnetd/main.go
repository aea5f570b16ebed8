// Package main implements varnetd, the runner of the variable network demo application.
// It loads the configuration, assembles the application and serves the variable
// directory in process or over a NATS KV bucket.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/varnet/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "varnetd"
)

// cliFlags holds the persistent command-line settings
type cliFlags struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

var flags cliFlags

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Variable network engine",
	Long: `varnetd assembles a variable network application from its configuration and runs it.
Device registers and control-system variables are resolved by name into networks.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", getEnv("VARNET_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: VARNET_CONFIG)")
	pf.StringVar(&flags.LogLevel, "log-level", getEnv("VARNET_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: VARNET_LOG_LEVEL)")
	pf.StringVar(&flags.LogFormat, "log-format", getEnv("VARNET_LOG_FORMAT", "json"),
		"Log format: json, text (env: VARNET_LOG_FORMAT)")
	pf.DurationVar(&flags.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("VARNET_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: VARNET_SHUTDOWN_TIMEOUT)")
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// validateFlags checks the persistent flags
func validateFlags(f cliFlags) error {
	switch f.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", f.LogLevel)
	}
	switch f.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", f.LogFormat)
	}
	if f.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", f.ShutdownTimeout)
	}
	return nil
}

// initializeCLI validates the flags and installs the logger
func initializeCLI() (*slog.Logger, error) {
	if err := validateFlags(flags); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	logger := setupLogger(flags.LogLevel, flags.LogFormat)
	slog.SetDefault(logger)
	return logger, nil
}

// loadConfig loads the configuration file, or the defaults plus environment overrides
// without one
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
