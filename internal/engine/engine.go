package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"avsync-studio/internal/analysis"
	"avsync-studio/internal/domain"
	"avsync-studio/internal/export"
	"avsync-studio/internal/jobs"
	"avsync-studio/internal/media"
)

// Pipeline stage names carried on status and error events.
const (
	StageExtract = "extract"
	StageAnalyze = "analyze"
	StagePlan    = "plan"
	StageEncode  = "encode"
)

// ErrJobNotActive is returned when cancelling a job that is unknown or
// already finished.
var ErrJobNotActive = errors.New("job is not active")

// AnalyzeOptions tune one analysis job. Zero values fall back to the
// engine settings.
type AnalyzeOptions struct {
	SearchRangeSeconds    float64
	AnalysisWindowSeconds float64
	Workers               int
}

// Engine orchestrates analysis and export jobs on background
// goroutines. Each job runs under its own cancellable context; results
// and events are observable through the job registry and event bus.
type Engine struct {
	settings domain.Settings
	logger   *slog.Logger
	loader   *media.Loader
	planner  *export.Planner
	executor *export.Executor
	registry *jobs.Registry
	events   *jobs.EventBus

	mu      sync.Mutex
	timeout time.Duration
	cancels map[string]context.CancelFunc
	results map[string]domain.SyncResult
	outputs map[string]string
}

// SetJobTimeout bounds every subsequently started job. Expiry finishes
// the job as failed with a timeout error kind. Zero disables the bound.
func (e *Engine) SetJobTimeout(d time.Duration) {
	e.mu.Lock()
	e.timeout = d
	e.mu.Unlock()
}

// New builds an engine driving the ffmpeg/ffprobe binaries named in
// the settings.
func New(settings domain.Settings, logger *slog.Logger) *Engine {
	backend := media.NewFFmpeg(settings.FFmpegPath, settings.FFprobePath)
	return NewWithBackend(settings, backend, logger)
}

// NewWithBackend builds an engine over an explicit codec backend.
func NewWithBackend(settings domain.Settings, backend media.Backend, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		settings: settings,
		logger:   logger,
		loader:   media.NewLoader(backend, settings.ScratchDir),
		planner:  export.NewPlanner(backend),
		executor: export.NewExecutor(backend),
		registry: jobs.NewRegistry(),
		events:   jobs.NewEventBus(1000),
	}
}

// Analyze starts a lag analysis for the input pair and returns the
// pending job. A second analysis for the same pair is rejected with
// jobs.ErrBusy while the first is active.
func (e *Engine) Analyze(videoPath, audioPath string, opts AnalyzeOptions) (domain.Job, error) {
	if opts.SearchRangeSeconds <= 0 {
		opts.SearchRangeSeconds = float64(e.settings.SearchRangeSeconds)
	}
	if opts.AnalysisWindowSeconds <= 0 {
		opts.AnalysisWindowSeconds = float64(e.settings.AnalysisWindowSeconds)
	}

	job, err := e.registry.Begin(domain.JobKindAnalyze, videoPath, audioPath)
	if err != nil {
		return domain.Job{}, err
	}

	ctx := e.trackJob(job.ID)
	e.publishStatus(job, domain.JobStatusPending, "", "Analysis queued")
	e.logger.Info("analysis started",
		"job", job.ID, "video", videoPath, "audio", audioPath,
		"searchRange", opts.SearchRangeSeconds, "window", opts.AnalysisWindowSeconds)

	go e.runAnalyze(ctx, job, opts)
	return job, nil
}

// Export starts an export job writing the synchronized output to
// outputPath.
func (e *Engine) Export(videoPath, audioPath, outputPath string, cfg domain.ExportConfig) (domain.Job, error) {
	job, err := e.registry.Begin(domain.JobKindExport, videoPath, audioPath)
	if err != nil {
		return domain.Job{}, err
	}

	ctx := e.trackJob(job.ID)
	e.publishStatus(job, domain.JobStatusPending, "", "Export queued")
	e.logger.Info("export started",
		"job", job.ID, "video", videoPath, "audio", audioPath,
		"output", outputPath, "offset", cfg.OffsetSeconds)

	go e.runExport(ctx, job, outputPath, cfg)
	return job, nil
}

// Cancel requests cancellation of an active job. The job finishes as
// cancelled once its goroutine observes the context.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	e.mu.Unlock()
	if !ok {
		return ErrJobNotActive
	}
	cancel()
	return nil
}

// Job returns a snapshot of one job.
func (e *Engine) Job(id string) (domain.Job, bool) {
	return e.registry.Job(id)
}

// Jobs returns a snapshot of all known jobs.
func (e *Engine) Jobs() []domain.Job {
	return e.registry.Jobs()
}

// Events returns buffered events with sequence greater than sinceSeq.
func (e *Engine) Events(sinceSeq int64) []jobs.Event {
	return e.events.Since(sinceSeq)
}

// Subscribe returns an ordered event channel for one job, or for every
// job when jobID is empty, plus a cancel function.
func (e *Engine) Subscribe(jobID string) (<-chan jobs.Event, func()) {
	return e.events.Subscribe(jobID)
}

// Result returns the analysis outcome for a completed analyze job.
func (e *Engine) Result(jobID string) (domain.SyncResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.results[jobID]
	return result, ok
}

// Output returns the published path of a completed export job.
func (e *Engine) Output(jobID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	path, ok := e.outputs[jobID]
	return path, ok
}

// Wait blocks until the job reaches a terminal state or ctx expires.
func (e *Engine) Wait(ctx context.Context, jobID string) (domain.Job, error) {
	ch, cancelSub := e.events.Subscribe(jobID)
	defer cancelSub()

	if job, ok := e.registry.Job(jobID); !ok {
		return domain.Job{}, ErrJobNotActive
	} else if job.Status.IsTerminal() {
		return job, nil
	}

	for {
		select {
		case <-ctx.Done():
			return domain.Job{}, ctx.Err()
		case event := <-ch:
			if event.Type == jobs.EventTypeStatus && event.Status.IsTerminal() {
				job, _ := e.registry.Job(jobID)
				return job, nil
			}
		}
	}
}

// runAnalyze executes extract + condition + correlate for one job.
func (e *Engine) runAnalyze(ctx context.Context, job domain.Job, opts AnalyzeOptions) {
	defer e.untrackJob(job.ID)

	_ = e.registry.MarkRunning(job.ID)
	e.publishStatus(job, domain.JobStatusRunning, StageExtract, "Extracting audio")

	// Content past window+range can never influence the correlation,
	// so extraction is capped there for speed.
	limit := opts.AnalysisWindowSeconds + opts.SearchRangeSeconds

	videoSignal, err := e.loader.Load(ctx, job.VideoPath, media.RoleVideoAudio,
		media.LoadOptions{DurationLimitSeconds: limit})
	if err != nil {
		e.finishWithError(job, StageExtract, err)
		return
	}
	audioSignal, err := e.loader.Load(ctx, job.AudioPath, media.RoleExternalAudio,
		media.LoadOptions{DurationLimitSeconds: limit})
	if err != nil {
		e.finishWithError(job, StageExtract, err)
		return
	}

	e.publishStatus(job, domain.JobStatusRunning, StageAnalyze, "Correlating signals")

	conditionedVideo, conditionedAudio, err := analysis.Condition(
		videoSignal, audioSignal, opts.AnalysisWindowSeconds, opts.SearchRangeSeconds)
	if err != nil {
		e.finishWithError(job, StageAnalyze, err)
		return
	}

	result, err := analysis.Estimate(ctx, conditionedVideo, conditionedAudio, analysis.EstimateOptions{
		SearchRangeSeconds: opts.SearchRangeSeconds,
		Workers:            opts.Workers,
	})
	if err != nil {
		e.finishWithError(job, StageAnalyze, err)
		return
	}

	e.mu.Lock()
	if e.results == nil {
		e.results = make(map[string]domain.SyncResult)
	}
	e.results[job.ID] = result
	e.mu.Unlock()

	e.logger.Info("analysis finished",
		"job", job.ID, "lag", result.LagSeconds,
		"confidence", result.Confidence, "clamped", result.RangeClamped)

	e.events.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeResult,
		Status:  domain.JobStatusCompleted,
		Message: "Offset detected",
		Result:  &result,
	})
	_ = e.registry.Finish(job.ID, domain.JobStatusCompleted)
	e.publishStatus(job, domain.JobStatusCompleted, "", "Analysis completed")
}

// runExport executes plan + encode for one job.
func (e *Engine) runExport(ctx context.Context, job domain.Job, outputPath string, cfg domain.ExportConfig) {
	defer e.untrackJob(job.ID)

	_ = e.registry.MarkRunning(job.ID)
	e.publishStatus(job, domain.JobStatusRunning, StagePlan, "Planning export")

	spec, err := e.planner.Plan(ctx, job.VideoPath, job.AudioPath, outputPath, cfg)
	if err != nil {
		e.finishWithError(job, StagePlan, err)
		return
	}

	e.publishStatus(job, domain.JobStatusRunning, StageEncode, "Encoding output")

	published, err := e.executor.Run(ctx, spec, func(fraction float64) {
		e.events.Publish(jobs.Event{
			JobID:    job.ID,
			Type:     jobs.EventTypeProgress,
			Stage:    StageEncode,
			Progress: fraction,
		})
	})
	if err != nil {
		e.finishWithError(job, StageEncode, err)
		return
	}

	e.mu.Lock()
	if e.outputs == nil {
		e.outputs = make(map[string]string)
	}
	e.outputs[job.ID] = published
	e.mu.Unlock()

	e.logger.Info("export finished", "job", job.ID, "output", published)

	e.events.Publish(jobs.Event{
		JobID:      job.ID,
		Type:       jobs.EventTypeResult,
		Status:     domain.JobStatusCompleted,
		Message:    "Export completed",
		OutputPath: published,
	})
	_ = e.registry.Finish(job.ID, domain.JobStatusCompleted)
	e.publishStatus(job, domain.JobStatusCompleted, "", "Export completed")
}

// finishWithError maps a stage failure onto the terminal status and
// error event for the job.
func (e *Engine) finishWithError(job domain.Job, stage string, err error) {
	kind := Classify(err)
	if kind == ErrorKindCancelled {
		e.logger.Info("job cancelled", "job", job.ID, "stage", stage)
		_ = e.registry.Finish(job.ID, domain.JobStatusCancelled)
		e.publishStatus(job, domain.JobStatusCancelled, stage, "Job cancelled")
		return
	}

	e.logger.Error("job failed", "job", job.ID, "stage", stage, "kind", kind, "error", err)
	e.events.Publish(jobs.Event{
		JobID:     job.ID,
		Type:      jobs.EventTypeError,
		Status:    domain.JobStatusFailed,
		Stage:     stage,
		ErrorKind: kind,
		Message:   err.Error(),
	})
	_ = e.registry.Finish(job.ID, domain.JobStatusFailed)
	e.publishStatus(job, domain.JobStatusFailed, stage, "Job failed")
}

// publishStatus sends a normalized status event.
func (e *Engine) publishStatus(job domain.Job, status domain.JobStatus, stage, message string) {
	e.events.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Stage:   stage,
		Message: message,
	})
}

// trackJob registers a cancellable context for one job.
func (e *Engine) trackJob(jobID string) context.Context {
	e.mu.Lock()
	timeout := e.timeout
	e.mu.Unlock()

	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	e.mu.Lock()
	if e.cancels == nil {
		e.cancels = make(map[string]context.CancelFunc)
	}
	e.cancels[jobID] = cancel
	e.mu.Unlock()
	return ctx
}

// untrackJob releases the cancellation handle after the job finishes.
func (e *Engine) untrackJob(jobID string) {
	e.mu.Lock()
	cancel, ok := e.cancels[jobID]
	delete(e.cancels, jobID)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}
