package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"avsync-studio/internal/analysis"
	"avsync-studio/internal/domain"
	"avsync-studio/internal/export"
	"avsync-studio/internal/jobs"
	"avsync-studio/internal/media"
)

// fakeBackend scripts the codec backend for engine tests.
type fakeBackend struct {
	extract   func(ctx context.Context, req media.ExtractRequest) (media.CommandLog, error)
	transcode func(ctx context.Context, req media.TranscodeRequest) (media.CommandLog, error)
	probe     func(ctx context.Context, path string) (media.MediaInfo, error)
}

func (f *fakeBackend) ExtractAudio(ctx context.Context, req media.ExtractRequest) (media.CommandLog, error) {
	if f.extract == nil {
		return media.CommandLog{}, nil
	}
	return f.extract(ctx, req)
}

func (f *fakeBackend) Transcode(ctx context.Context, req media.TranscodeRequest) (media.CommandLog, error) {
	if f.transcode == nil {
		return media.CommandLog{}, nil
	}
	return f.transcode(ctx, req)
}

func (f *fakeBackend) Probe(ctx context.Context, path string) (media.MediaInfo, error) {
	if f.probe == nil {
		return media.MediaInfo{
			Duration: time.Minute,
			Width:    1920,
			Height:   1080,
			HasVideo: true,
			HasAudio: true,
		}, nil
	}
	return f.probe(ctx, path)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings(t *testing.T) domain.Settings {
	t.Helper()
	return domain.Settings{
		ScratchDir:            t.TempDir(),
		OutputDir:             t.TempDir(),
		SearchRangeSeconds:    60,
		AnalysisWindowSeconds: 30,
	}
}

// makeInputs creates placeholder input files; the loader stats inputs
// before handing them to the backend.
func makeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "v.mp4")
	audioPath := filepath.Join(dir, "a.wav")
	for _, p := range []string{videoPath, audioPath} {
		if err := os.WriteFile(p, []byte("stub"), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}
	return videoPath, audioPath
}

// noiseSamples produces a deterministic pseudo-random sequence so the
// correlation peak is unambiguous.
func noiseSamples(n int, seed uint64) []float64 {
	out := make([]float64, n)
	state := seed
	for i := range out {
		state = state*6364136223846793005 + 1442695040888963407
		out[i] = float64(int64(state>>33))/float64(1<<30) - 1
	}
	return out
}

// writeWAVFixture encodes samples as 16-bit mono PCM.
func writeWAVFixture(t *testing.T, path string, samples []float64, rate int) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, v := range samples {
		buf.Data[i] = int(v * 30000)
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

// analysisBackend writes scratch WAVs where the external audio carries
// the same baseSeconds of noise delayed by delaySeconds.
func analysisBackend(t *testing.T, baseSeconds, delaySeconds float64) *fakeBackend {
	const rate = 8000
	base := noiseSamples(int(baseSeconds*rate), 7)

	delay := int(delaySeconds * rate)
	delayed := make([]float64, delay+len(base))
	copy(delayed[delay:], base)

	return &fakeBackend{
		extract: func(ctx context.Context, req media.ExtractRequest) (media.CommandLog, error) {
			samples := base
			if strings.Contains(req.TargetPath, string(media.RoleExternalAudio)) {
				samples = delayed
			}
			writeWAVFixture(t, req.TargetPath, samples, rate)
			return media.CommandLog{}, nil
		},
	}
}

// TestAnalyzeCompletes runs the full extract + correlate flow.
func TestAnalyzeCompletes(t *testing.T) {
	e := NewWithBackend(testSettings(t), analysisBackend(t, 1, 0.25), testLogger())
	videoPath, audioPath := makeInputs(t)

	job, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{
		SearchRangeSeconds:    1,
		AnalysisWindowSeconds: 1,
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if job.Kind != domain.JobKindAnalyze || job.Status != domain.JobStatusPending {
		t.Fatalf("job = %+v", job)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done, err := e.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	result, ok := e.Result(job.ID)
	if !ok {
		t.Fatal("expected a stored analysis result")
	}
	if result.LagSeconds < 0.2 || result.LagSeconds > 0.3 {
		t.Fatalf("lag = %.3f, want ~0.25", result.LagSeconds)
	}
	if result.SampleRate != analysis.CanonicalSampleRate {
		t.Fatalf("sample rate = %d", result.SampleRate)
	}

	var sawResult bool
	var lastStatus domain.JobStatus
	for _, event := range e.Events(0) {
		if event.JobID != job.ID {
			continue
		}
		switch event.Type {
		case jobs.EventTypeResult:
			sawResult = true
			if event.Result == nil {
				t.Fatal("result event without payload")
			}
		case jobs.EventTypeStatus:
			lastStatus = event.Status
		}
	}
	if !sawResult || lastStatus != domain.JobStatusCompleted {
		t.Fatalf("event stream incomplete: sawResult=%v lastStatus=%s", sawResult, lastStatus)
	}
}

// TestAnalyzeFindsDelayBeyondWindow covers an offset larger than the
// analysis window but inside the configured search range.
func TestAnalyzeFindsDelayBeyondWindow(t *testing.T) {
	e := NewWithBackend(testSettings(t), analysisBackend(t, 2, 2.0), testLogger())
	videoPath, audioPath := makeInputs(t)

	job, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{
		SearchRangeSeconds:    3,
		AnalysisWindowSeconds: 1,
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done, err := e.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	result, ok := e.Result(job.ID)
	if !ok {
		t.Fatal("expected a stored analysis result")
	}
	if result.LagSeconds < 1.95 || result.LagSeconds > 2.05 {
		t.Fatalf("lag = %.3f, want ~2.0", result.LagSeconds)
	}
	if result.Confidence <= 0.7 {
		t.Fatalf("confidence = %.3f, want > 0.7", result.Confidence)
	}
	if result.RangeClamped {
		t.Fatal("range unexpectedly clamped")
	}
}

// TestAnalyzeRejectsDuplicatePair checks the busy policy end to end.
func TestAnalyzeRejectsDuplicatePair(t *testing.T) {
	release := make(chan struct{})
	const rate = 8000
	samples := noiseSamples(rate/2, 3)
	backend := &fakeBackend{
		extract: func(ctx context.Context, req media.ExtractRequest) (media.CommandLog, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return media.CommandLog{}, ctx.Err()
			}
			writeWAVFixture(t, req.TargetPath, samples, rate)
			return media.CommandLog{}, nil
		},
	}
	e := NewWithBackend(testSettings(t), backend, testLogger())
	videoPath, audioPath := makeInputs(t)

	job, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{SearchRangeSeconds: 1, AnalysisWindowSeconds: 1})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if _, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{}); !errors.Is(err, jobs.ErrBusy) {
		t.Fatalf("duplicate error = %v, want ErrBusy", err)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := e.Wait(ctx, job.ID); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// The pair is free again once the first job is terminal.
	second, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{SearchRangeSeconds: 1, AnalysisWindowSeconds: 1})
	if err != nil {
		t.Fatalf("Analyze() after finish error = %v", err)
	}
	if _, err := e.Wait(ctx, second.ID); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// TestAnalyzeCancellation checks cooperative cancel semantics.
func TestAnalyzeCancellation(t *testing.T) {
	started := make(chan struct{})
	backend := &fakeBackend{
		extract: func(ctx context.Context, req media.ExtractRequest) (media.CommandLog, error) {
			close(started)
			<-ctx.Done()
			return media.CommandLog{}, ctx.Err()
		},
	}
	e := NewWithBackend(testSettings(t), backend, testLogger())
	videoPath, audioPath := makeInputs(t)

	job, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{SearchRangeSeconds: 1, AnalysisWindowSeconds: 1})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	<-started
	if err := e.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := e.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}

	if err := e.Cancel(job.ID); !errors.Is(err, ErrJobNotActive) {
		t.Fatalf("second Cancel() error = %v, want ErrJobNotActive", err)
	}
}

// TestAnalyzeTimeout checks the per-job deadline maps to a timeout
// failure rather than a cancellation.
func TestAnalyzeTimeout(t *testing.T) {
	backend := &fakeBackend{
		extract: func(ctx context.Context, req media.ExtractRequest) (media.CommandLog, error) {
			<-ctx.Done()
			return media.CommandLog{}, ctx.Err()
		},
	}
	e := NewWithBackend(testSettings(t), backend, testLogger())
	e.SetJobTimeout(50 * time.Millisecond)
	videoPath, audioPath := makeInputs(t)

	job, err := e.Analyze(videoPath, audioPath, AnalyzeOptions{SearchRangeSeconds: 1, AnalysisWindowSeconds: 1})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := e.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}

	var kind string
	for _, event := range e.Events(0) {
		if event.JobID == job.ID && event.Type == jobs.EventTypeError {
			kind = event.ErrorKind
		}
	}
	if kind != ErrorKindTimeout {
		t.Fatalf("error kind = %q, want %q", kind, ErrorKindTimeout)
	}
}

// TestExportCompletes runs plan + encode against a scripted backend.
func TestExportCompletes(t *testing.T) {
	settings := testSettings(t)
	outputPath := filepath.Join(settings.OutputDir, "synced.mp4")

	backend := &fakeBackend{
		transcode: func(ctx context.Context, req media.TranscodeRequest) (media.CommandLog, error) {
			if req.OnProgress != nil {
				req.OnProgress(30 * time.Second)
			}
			target := req.Args[len(req.Args)-1]
			return media.CommandLog{}, os.WriteFile(target, []byte("mux"), 0o644)
		},
	}
	e := NewWithBackend(settings, backend, testLogger())

	job, err := e.Export("/in/v.mp4", "/in/a.wav", outputPath, domain.DefaultExportConfig())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := e.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	published, ok := e.Output(job.ID)
	if !ok || published != outputPath {
		t.Fatalf("output = %q, ok = %v", published, ok)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}

	var sawProgress bool
	for _, event := range e.Events(0) {
		if event.JobID == job.ID && event.Type == jobs.EventTypeProgress && event.Progress > 0 {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatal("expected progress events during encode")
	}
}

// TestExportInvalidConfigFails checks classification on plan errors.
func TestExportInvalidConfigFails(t *testing.T) {
	settings := testSettings(t)
	e := NewWithBackend(settings, &fakeBackend{}, testLogger())

	cfg := domain.DefaultExportConfig()
	cfg.Format = "webm"

	job, err := e.Export("/in/v.mp4", "/in/a.wav", filepath.Join(settings.OutputDir, "out.webm"), cfg)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := e.Wait(ctx, job.ID)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if done.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}

	var kind string
	for _, event := range e.Events(0) {
		if event.JobID == job.ID && event.Type == jobs.EventTypeError {
			kind = event.ErrorKind
		}
	}
	if kind != ErrorKindConfig {
		t.Fatalf("error kind = %q, want %q", kind, ErrorKindConfig)
	}
}

// TestClassify maps stage errors onto the event taxonomy.
func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", context.DeadlineExceeded, ErrorKindTimeout},
		{"cancelled", context.Canceled, ErrorKindCancelled},
		{"busy", jobs.ErrBusy, ErrorKindBusy},
		{"io", &media.InputError{Path: "/x", Err: os.ErrNotExist}, ErrorKindIO},
		{"extraction", &media.ExtractionError{Path: "/x", Message: "no audio"}, ErrorKindExtraction},
		{"silence", analysis.ErrInsufficientSignal, ErrorKindInsufficientSignal},
		{"degenerate", analysis.ErrDegenerateSignal, ErrorKindAnalysis},
		{"config", &export.ConfigError{Field: "format"}, ErrorKindConfig},
		{"encode", &export.EncodeError{Message: "boom"}, ErrorKindEncode},
		{"other", errors.New("surprise"), ErrorKindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}
