package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"avsync-studio/internal/config"
	"avsync-studio/internal/domain"
	"avsync-studio/internal/engine"
)

// commandContext carries flag-derived state shared by subcommands.
type commandContext struct {
	configPath *string
	logLevel   *string
	timeout    *time.Duration
}

// loadSettings reads the settings file named by --config, or the
// default location when the flag is empty.
func (c *commandContext) loadSettings() (domain.Settings, error) {
	path := *c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	settings, err := config.NewJSONStore(path).Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// logger builds a slog logger writing to stderr at the selected level.
func (c *commandContext) logger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(*c.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", *c.logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// newEngine loads settings and constructs the ffmpeg-backed engine.
func (c *commandContext) newEngine() (*engine.Engine, domain.Settings, error) {
	settings, err := c.loadSettings()
	if err != nil {
		return nil, domain.Settings{}, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, domain.Settings{}, err
	}
	eng := engine.New(settings, logger)
	if *c.timeout > 0 {
		eng.SetJobTimeout(*c.timeout)
	}
	return eng, settings, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string
	var timeoutFlag time.Duration

	ctx := &commandContext{
		configPath: &configFlag,
		logLevel:   &logLevelFlag,
		timeout:    &timeoutFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "avsync",
		Short:         "Detect and fix audio/video sync offsets",
		Long:          "avsync aligns an externally recorded audio track with a video's embedded audio by cross-correlation, then muxes a synchronized output with ffmpeg.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0, "Per-job time limit, e.g. 10m (0 disables)")

	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))

	return rootCmd
}

// resolveInputs validates that both input files exist before any job
// is started.
func resolveInputs(videoPath, audioPath string) error {
	for _, path := range []string{videoPath, audioPath} {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("input does not exist: %s", path)
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", path)
		}
	}
	return nil
}
