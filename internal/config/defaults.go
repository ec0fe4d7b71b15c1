package config

import (
	"os"
	"path/filepath"

	"avsync-studio/internal/domain"
)

// Search range bounds in seconds, matching the analysis options dialog.
const (
	MinSearchRangeSeconds = 10
	MaxSearchRangeSeconds = 300
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		ScratchDir:            os.TempDir(),
		OutputDir:             filepath.Join(homeDir, "Videos", "Synced"),
		SearchRangeSeconds:    60,
		AnalysisWindowSeconds: 30,
	}
}

// DefaultPath returns the settings file location under the user's
// home directory.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".avsync-studio", "settings.json")
}

// Normalize fills missing fields with defaults and clamps the analysis
// parameters into their supported ranges.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = defaults.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = defaults.FFprobePath
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = defaults.ScratchDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = defaults.OutputDir
	}

	if cfg.SearchRangeSeconds == 0 {
		cfg.SearchRangeSeconds = defaults.SearchRangeSeconds
	}
	if cfg.SearchRangeSeconds < MinSearchRangeSeconds {
		cfg.SearchRangeSeconds = MinSearchRangeSeconds
	}
	if cfg.SearchRangeSeconds > MaxSearchRangeSeconds {
		cfg.SearchRangeSeconds = MaxSearchRangeSeconds
	}

	if cfg.AnalysisWindowSeconds <= 0 {
		cfg.AnalysisWindowSeconds = defaults.AnalysisWindowSeconds
	}
	return cfg
}
