package export

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"avsync-studio/internal/domain"
	"avsync-studio/internal/media"
)

// Gains used when mixing the external track over the original one.
const (
	mixOriginalGain = 0.3
	mixExternalGain = 1.0
)

// maxOffsetSeconds bounds manual offsets; anything larger is almost
// certainly a mistaken unit or file pairing.
const maxOffsetSeconds = 300

// JobSpec is an immutable description of one export job: inputs,
// offset handling, codec parameters, and the copy/re-encode decision.
type JobSpec struct {
	VideoPath  string
	AudioPath  string
	OutputPath string
	Config     domain.ExportConfig

	// StreamCopy is set when the video track is copied instead of
	// re-encoded. Copy failures retry once with the fallback args.
	StreamCopy bool

	// Duration is the expected output duration, used to turn backend
	// progress into a completion fraction.
	Duration time.Duration

	args         []string
	fallbackArgs []string
}

// CommandArgs returns the backend invocation with the given output
// path appended.
func (s JobSpec) CommandArgs(outputPath string) []string {
	return append(slices.Clone(s.args), outputPath)
}

// FallbackCommandArgs returns the full re-encode variant used when the
// stream-copy attempt is rejected by the container/codec combination.
func (s JobSpec) FallbackCommandArgs(outputPath string) ([]string, bool) {
	if len(s.fallbackArgs) == 0 {
		return nil, false
	}
	return append(slices.Clone(s.fallbackArgs), outputPath), true
}

// Planner translates an ExportConfig into a concrete backend job.
type Planner struct {
	backend media.Backend
}

// NewPlanner constructs a planner probing inputs through the backend.
func NewPlanner(backend media.Backend) *Planner {
	return &Planner{backend: backend}
}

// Plan validates the configuration against the probed inputs and
// produces the job description. Validation failures return a
// *ConfigError naming the inconsistent field.
func (p *Planner) Plan(ctx context.Context, videoPath, audioPath, outputPath string, cfg domain.ExportConfig) (JobSpec, error) {
	if err := validateConfig(cfg); err != nil {
		return JobSpec{}, err
	}
	if ext := strings.TrimPrefix(filepath.Ext(outputPath), "."); ext != "" && !strings.EqualFold(ext, cfg.Format) {
		return JobSpec{}, &ConfigError{
			Field:  "format",
			Reason: fmt.Sprintf("output extension %q does not match container %q", ext, cfg.Format),
		}
	}

	videoInfo, err := p.backend.Probe(ctx, videoPath)
	if err != nil {
		return JobSpec{}, fmt.Errorf("probe video: %w", err)
	}
	if !videoInfo.HasVideo {
		return JobSpec{}, &ConfigError{Field: "videoPath", Reason: "input has no video stream"}
	}
	audioInfo, err := p.backend.Probe(ctx, audioPath)
	if err != nil {
		return JobSpec{}, fmt.Errorf("probe audio: %w", err)
	}
	if !audioInfo.HasAudio {
		return JobSpec{}, &ConfigError{Field: "audioPath", Reason: "input has no audio stream"}
	}

	if err := validateOffset(cfg.OffsetSeconds, videoInfo.Duration, audioInfo.Duration); err != nil {
		return JobSpec{}, err
	}

	// Matching the source resolution means the video track can be
	// copied bit-for-bit, which is several times faster than encoding.
	streamCopy := cfg.Resolution == domain.ResolutionOriginal
	if w, h, ok := parseResolution(cfg.Resolution); ok && w == videoInfo.Width && h == videoInfo.Height {
		streamCopy = true
	}

	spec := JobSpec{
		VideoPath:  videoPath,
		AudioPath:  audioPath,
		OutputPath: outputPath,
		Config:     cfg,
		StreamCopy: streamCopy,
		Duration:   videoInfo.Duration,
		args:       buildTranscodeArgs(videoPath, audioPath, cfg, streamCopy),
	}
	if streamCopy {
		spec.fallbackArgs = buildTranscodeArgs(videoPath, audioPath, cfg, false)
	}
	return spec, nil
}

// parseResolution splits a "WxH" resolution string.
func parseResolution(s string) (width, height int, ok bool) {
	w, h, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, false
	}
	height, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, false
	}
	return width, height, true
}

func validateConfig(cfg domain.ExportConfig) error {
	if !slices.Contains(domain.ExportFormats, cfg.Format) {
		return &ConfigError{Field: "format", Reason: fmt.Sprintf("unsupported container %q", cfg.Format)}
	}
	if !slices.Contains(domain.ExportResolutions, cfg.Resolution) {
		return &ConfigError{Field: "resolution", Reason: fmt.Sprintf("unsupported resolution %q", cfg.Resolution)}
	}
	if !slices.Contains(domain.ExportPresets, cfg.Preset) {
		return &ConfigError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", cfg.Preset)}
	}
	if !slices.Contains(domain.AudioBitrates, cfg.AudioBitrate) {
		return &ConfigError{Field: "audioBitrate", Reason: fmt.Sprintf("unsupported audio bitrate %q", cfg.AudioBitrate)}
	}
	bitrate, err := domain.ParseBitrate(cfg.VideoBitrate)
	if err != nil {
		return &ConfigError{Field: "videoBitrate", Reason: err.Error()}
	}
	if bitrate < domain.MinVideoBitrate || bitrate > domain.MaxVideoBitrate {
		return &ConfigError{
			Field:  "videoBitrate",
			Reason: fmt.Sprintf("%s outside the 4M..25M range", cfg.VideoBitrate),
		}
	}
	switch cfg.AudioMode {
	case domain.AudioModeMuteOriginal, domain.AudioModeMixBoth:
	default:
		return &ConfigError{Field: "audioMode", Reason: fmt.Sprintf("unknown mode %q", cfg.AudioMode)}
	}
	if math.Abs(cfg.OffsetSeconds) > maxOffsetSeconds {
		return &ConfigError{
			Field:  "offsetSeconds",
			Reason: fmt.Sprintf("%.3fs outside the +/-%.0fs range", cfg.OffsetSeconds, float64(maxOffsetSeconds)),
		}
	}
	return nil
}

// validateOffset rejects offsets that would leave no overlapping
// content: trimming past the end of the external audio or delaying it
// beyond the end of the video.
func validateOffset(offset float64, videoDur, audioDur time.Duration) error {
	if offset > 0 && audioDur > 0 && time.Duration(offset*float64(time.Second)) >= audioDur {
		return &ConfigError{
			Field:  "offsetSeconds",
			Reason: fmt.Sprintf("offset %.3fs trims past the external audio (%.3fs)", offset, audioDur.Seconds()),
		}
	}
	if offset < 0 && videoDur > 0 && time.Duration(-offset*float64(time.Second)) >= videoDur {
		return &ConfigError{
			Field:  "offsetSeconds",
			Reason: fmt.Sprintf("offset %.3fs delays past the end of the video (%.3fs)", offset, videoDur.Seconds()),
		}
	}
	return nil
}

// buildTranscodeArgs assembles the ffmpeg invocation sans output path.
// A positive offset seeks into the external audio; a negative one
// shifts its timestamps later.
func buildTranscodeArgs(videoPath, audioPath string, cfg domain.ExportConfig, streamCopy bool) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", videoPath,
	}
	if cfg.OffsetSeconds > 0 {
		args = append(args, "-ss", formatOffset(cfg.OffsetSeconds))
	} else if cfg.OffsetSeconds < 0 {
		args = append(args, "-itsoffset", formatOffset(-cfg.OffsetSeconds))
	}
	args = append(args, "-i", audioPath)

	if streamCopy {
		args = append(args, "-c:v", "copy")
	} else {
		if cfg.Resolution != domain.ResolutionOriginal {
			args = append(args, "-vf", "scale="+strings.Replace(cfg.Resolution, "x", ":", 1))
		}
		args = append(args,
			"-c:v", "libx264",
			"-b:v", cfg.VideoBitrate,
			"-crf", "23",
			"-preset", cfg.Preset,
		)
	}

	if cfg.AudioMode == domain.AudioModeMixBoth {
		filter := fmt.Sprintf(
			"[0:a]volume=%s[orig];[1:a]volume=%s[ext];[orig][ext]amix=inputs=2:duration=shortest[aout]",
			formatGain(mixOriginalGain), formatGain(mixExternalGain),
		)
		args = append(args,
			"-filter_complex", filter,
			"-map", "0:v:0",
			"-map", "[aout]",
		)
	} else {
		args = append(args,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-shortest",
		)
	}

	return append(args,
		"-c:a", "aac",
		"-b:a", cfg.AudioBitrate,
	)
}

func formatOffset(v float64) string {
	return fmt.Sprintf("%.3f", math.Abs(v))
}

func formatGain(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
