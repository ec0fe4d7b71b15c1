package domain

import (
	"fmt"
	"strings"
)

// JobKind separates the two unit-of-work flavors the engine runs.
type JobKind string

const (
	JobKindAnalyze JobKind = "analyze"
	JobKindExport  JobKind = "export"
)

// JobStatus tracks the lifecycle of a single job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a status is final and immutable.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job stores identity, kind, input pair, and lifecycle status.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	VideoPath string    `json:"videoPath"`
	AudioPath string    `json:"audioPath"`
	Status    JobStatus `json:"status"`
}

// SyncResult is the outcome of one synchronization analysis.
//
// A positive lag means the matching content sits LagSeconds into the
// external audio: the external track must be trimmed by that amount to
// line up with the video. A negative lag means the external track must
// be delayed instead.
type SyncResult struct {
	LagSeconds   float64 `json:"lagSeconds"`
	Confidence   float64 `json:"confidence"`
	RawPeakValue float64 `json:"rawPeakValue"`
	SampleRate   int     `json:"sampleRate"`
	// RangeClamped is set when the requested search range exceeded what
	// the analysis windows could support and was reduced.
	RangeClamped bool `json:"rangeClamped,omitempty"`
}

// ConfidenceLabel buckets a confidence score the way results are
// presented to users.
func (r SyncResult) ConfidenceLabel() string {
	switch {
	case r.Confidence > 0.7:
		return "high"
	case r.Confidence > 0.4:
		return "medium"
	default:
		return "low"
	}
}

// AudioMode selects how the external track relates to the original one.
type AudioMode string

const (
	AudioModeMuteOriginal AudioMode = "mute_original"
	AudioModeMixBoth      AudioMode = "mix_both"
)

// ExportFormats lists the accepted output containers.
var ExportFormats = []string{"mp4", "avi", "mov", "mkv"}

// ResolutionOriginal keeps the source resolution and enables video
// stream copying.
const ResolutionOriginal = "original"

// ExportResolutions lists the selectable target resolutions.
var ExportResolutions = []string{
	ResolutionOriginal,
	"3840x2160",
	"1920x1080",
	"1280x720",
	"854x480",
}

// ExportPresets are the x264 speed/quality presets, fastest first.
var ExportPresets = []string{
	"ultrafast", "superfast", "veryfast", "faster",
	"fast", "medium", "slow", "slower", "veryslow",
}

// AudioBitrates lists the selectable audio bitrates.
var AudioBitrates = []string{"128k", "192k", "256k", "320k"}

// Video bitrate bounds in bits per second (4M..25M).
const (
	MinVideoBitrate = 4_000_000
	MaxVideoBitrate = 25_000_000
)

// ExportConfig fully determines one export job.
type ExportConfig struct {
	Format        string    `json:"format"`
	Resolution    string    `json:"resolution"`
	Preset        string    `json:"preset"`
	VideoBitrate  string    `json:"videoBitrate"`
	AudioBitrate  string    `json:"audioBitrate"`
	AudioMode     AudioMode `json:"audioMode"`
	OffsetSeconds float64   `json:"offsetSeconds"`
}

// DefaultExportConfig mirrors the baseline export dialog choices.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		Format:       "mp4",
		Resolution:   ResolutionOriginal,
		Preset:       "medium",
		VideoBitrate: "8M",
		AudioBitrate: "192k",
		AudioMode:    AudioModeMuteOriginal,
	}
}

// ParseBitrate converts an ffmpeg-style bitrate string such as "8M" or
// "192k" into bits per second.
func ParseBitrate(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("bitrate is empty")
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	}

	var value int64
	if _, err := fmt.Sscanf(s, "%d", &value); err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid bitrate: %q", raw)
	}
	return value * mult, nil
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	FFmpegPath            string `json:"ffmpegPath"`
	FFprobePath           string `json:"ffprobePath"`
	ScratchDir            string `json:"scratchDir"`
	OutputDir             string `json:"outputDir"`
	SearchRangeSeconds    int    `json:"searchRangeSeconds"`
	AnalysisWindowSeconds int    `json:"analysisWindowSeconds"`
}
