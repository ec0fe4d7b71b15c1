package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"avsync-studio/internal/analysis"
)

// Role distinguishes the two signal sources an analysis compares.
type Role string

const (
	RoleVideoAudio    Role = "video-embedded-audio"
	RoleExternalAudio Role = "standalone-audio"
)

// LoadOptions tune one extraction.
type LoadOptions struct {
	// DurationLimitSeconds truncates decoding for speed; zero decodes
	// everything.
	DurationLimitSeconds float64
}

// Loader extracts and decodes audio from media files into uniform
// sample arrays at the canonical rate. Scratch artifacts are removed
// on every exit path.
type Loader struct {
	backend    Backend
	scratchDir string

	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
}

// NewLoader constructs a loader writing scratch WAVs under scratchDir.
// An empty scratchDir uses the system temp directory.
func NewLoader(backend Backend, scratchDir string) *Loader {
	return &Loader{
		backend:    backend,
		scratchDir: scratchDir,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
	}
}

// Load produces a Signal at the canonical sample rate from the audio
// embedded in a video container or from a standalone audio file.
func (l *Loader) Load(ctx context.Context, path string, role Role, opts LoadOptions) (analysis.Signal, error) {
	if _, err := l.stat(path); err != nil {
		return analysis.Signal{}, &InputError{Path: path, Err: err}
	}

	tempDir, err := l.mkdirTemp(l.scratchDir, "avsync-*")
	if err != nil {
		return analysis.Signal{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		_ = l.removeAll(tempDir)
	}()

	target := filepath.Join(tempDir, string(role)+".wav")
	log, err := l.backend.ExtractAudio(ctx, ExtractRequest{
		SourcePath:           path,
		TargetPath:           target,
		SampleRate:           analysis.CanonicalSampleRate,
		DurationLimitSeconds: opts.DurationLimitSeconds,
	})
	if err != nil {
		if ctx.Err() != nil {
			return analysis.Signal{}, ctx.Err()
		}
		return analysis.Signal{}, &ExtractionError{
			Path:       path,
			Message:    "backend could not decode an audio stream",
			CommandLog: log,
			Err:        err,
		}
	}

	signal, err := decodeWAV(target)
	if err != nil {
		return analysis.Signal{}, &ExtractionError{
			Path:       path,
			Message:    err.Error(),
			CommandLog: log,
			Err:        err,
		}
	}
	return signal, nil
}

// decodeWAV reads a scratch PCM WAV into a float64 signal scaled to
// [-1, 1].
func decodeWAV(path string) (analysis.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return analysis.Signal{}, fmt.Errorf("open decoded audio: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return analysis.Signal{}, errors.New("backend produced an invalid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return analysis.Signal{}, fmt.Errorf("read PCM samples: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return analysis.Signal{}, errors.New("decoded audio contains no samples")
	}

	samples := intBufferToFloats(buf, int(decoder.BitDepth))
	return analysis.Signal{
		Samples:    samples,
		SampleRate: int(decoder.SampleRate),
	}, nil
}

// intBufferToFloats converts integer PCM samples to [-1, 1] floats,
// averaging channels when the source is not mono.
func intBufferToFloats(buf *goaudio.IntBuffer, bitDepth int) []float64 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int(1) << (uint(bitDepth) - 1))

	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		out[i] = sum / float64(channels) / scale
	}
	return out
}
