package main

import (
	"context"
	"log/slog"
	"mule_analyzer/internal/config"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	appName = "mule_analyzer"
)

var (
	configPath string
	dataDir    string
	outDir     string
	logLevel   string

	screenSample int
)

var rootCmd = &cobra.Command{
	Use:           "analyzer",
	Short:         "Exploratory analysis of mule account behaviour",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Input directory or gs://bucket/prefix (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outDir, "out-dir", "", "Output directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	validateCmd.Flags().IntVar(&screenSample, "screen-sample", 0, "Evaluate the screens on the first N transactions")

	rootCmd.AddCommand(runCmd, validateCmd, verifyCmd, configCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", slog.String("name", appName), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
