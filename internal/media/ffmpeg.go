package media

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// MediaInfo is the probe summary the planner and executor rely on.
type MediaInfo struct {
	Duration time.Duration
	Width    int
	Height   int
	HasVideo bool
	HasAudio bool
}

// ExtractRequest describes one audio extraction into a scratch WAV.
type ExtractRequest struct {
	SourcePath string
	TargetPath string
	SampleRate int
	// DurationLimitSeconds truncates decoding for speed; zero decodes
	// the full stream.
	DurationLimitSeconds float64
}

// TranscodeRequest describes one encode/mux invocation. Args must
// include the output path; progress reporting is appended by the
// backend.
type TranscodeRequest struct {
	Args []string
	// OnProgress receives the processed output duration as the backend
	// reports it. May be nil.
	OnProgress func(processed time.Duration)
}

// Backend is the codec/extraction capability the core shells out to.
// Production code talks to ffmpeg/ffprobe; tests substitute synthetic
// implementations.
type Backend interface {
	ExtractAudio(ctx context.Context, req ExtractRequest) (CommandLog, error)
	Transcode(ctx context.Context, req TranscodeRequest) (CommandLog, error)
	Probe(ctx context.Context, path string) (MediaInfo, error)
}

// FFmpeg drives the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

// NewFFmpeg constructs the production backend. Empty paths fall back
// to PATH lookup names.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
	}
}

// ExtractAudio decodes the source's audio track into a mono PCM WAV at
// the requested rate.
func (f *FFmpeg) ExtractAudio(ctx context.Context, req ExtractRequest) (CommandLog, error) {
	args := buildExtractArgs(req)
	result, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	log := CommandLog{
		Command:  f.ffmpegPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	return log, err
}

// buildExtractArgs builds extraction CLI args for mono PCM WAV output.
func buildExtractArgs(req ExtractRequest) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", req.SourcePath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(req.SampleRate),
		"-c:a", "pcm_s16le",
	}
	if req.DurationLimitSeconds > 0 {
		args = append(args, "-t", formatSeconds(req.DurationLimitSeconds))
	}
	return append(args, req.TargetPath)
}

// Transcode runs one encode/mux job, streaming progress lines back to
// the caller while buffering stderr for diagnostics.
func (f *FFmpeg) Transcode(ctx context.Context, req TranscodeRequest) (CommandLog, error) {
	// Global options go first; req.Args ends with the output path.
	args := append([]string{"-progress", "pipe:1", "-nostats"}, req.Args...)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return CommandLog{Command: f.ffmpegPath, Args: args, ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return CommandLog{Command: f.ffmpegPath, Args: args, ExitCode: -1}, err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if processed, ok := parseProgressLine(scanner.Text()); ok && req.OnProgress != nil {
			req.OnProgress(processed)
		}
	}

	err = cmd.Wait()
	log := CommandLog{
		Command:  f.ffmpegPath,
		Args:     args,
		ExitCode: 0,
		Stderr:   tailLines(stderr.String(), 30),
	}
	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
		return log, err
	}
	return log, nil
}

// parseProgressLine extracts the processed duration from one ffmpeg
// "-progress" key=value line. ffmpeg reports out_time_ms in
// microseconds despite the name.
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	switch key {
	case "out_time_ms", "out_time_us":
		us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return time.Duration(us) * time.Microsecond, true
	default:
		return 0, false
	}
}

// tailLines keeps the last n lines of backend diagnostics.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// probePayload mirrors the ffprobe JSON fields we consume.
type probePayload struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe reports container duration and stream layout.
func (f *FFmpeg) Probe(ctx context.Context, path string) (MediaInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	result, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: %w\n%s", path, err, result.Stderr)
	}
	return parseProbeOutput(result.Stdout)
}

func parseProbeOutput(raw string) (MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := MediaInfo{}
	if payload.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err != nil {
			return MediaInfo{}, fmt.Errorf("parse duration %q: %w", payload.Format.Duration, err)
		}
		info.Duration = time.Duration(seconds * float64(time.Second))
	}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if !info.HasVideo {
				info.HasVideo = true
				info.Width = stream.Width
				info.Height = stream.Height
			}
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
