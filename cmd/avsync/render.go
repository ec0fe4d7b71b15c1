package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"

	"avsync-studio/internal/domain"
	"avsync-studio/internal/engine"
	"avsync-studio/internal/jobs"
)

// followJob renders a job's event stream until it reaches a terminal
// state. Cancelling ctx requests job cancellation and surfaces
// context.Canceled.
func followJob(ctx context.Context, eng *engine.Engine, job domain.Job, out io.Writer) (domain.Job, error) {
	ch, cancelSub := eng.Subscribe(job.ID)
	defer cancelSub()

	// The job may have finished before the subscription was in place;
	// its terminal event would then never arrive on the channel.
	if current, ok := eng.Job(job.ID); ok && current.Status.IsTerminal() {
		return current, terminalError(eng, job.ID, current.Status, "")
	}

	var bar *progressbar.ProgressBar
	var lastError string
	ctxDone := ctx.Done()

	for {
		select {
		case <-ctxDone:
			ctxDone = nil
			if err := eng.Cancel(job.ID); errors.Is(err, engine.ErrJobNotActive) {
				// Too late to cancel: report whatever terminal state
				// the job reached.
				if current, ok := eng.Job(job.ID); ok && current.Status.IsTerminal() {
					if bar != nil {
						_ = bar.Close()
					}
					return current, terminalError(eng, job.ID, current.Status, lastError)
				}
			}
		case event, ok := <-ch:
			if !ok {
				return domain.Job{}, errors.New("event stream closed before the job finished")
			}
			switch event.Type {
			case jobs.EventTypeProgress:
				if bar == nil {
					bar = progressbar.NewOptions(100,
						progressbar.OptionSetDescription("encoding"),
						progressbar.OptionSetWriter(out),
						progressbar.OptionClearOnFinish(),
					)
				}
				_ = bar.Set(int(event.Progress * 100))
			case jobs.EventTypeError:
				lastError = formatEventError(event)
			case jobs.EventTypeStatus:
				if !event.Status.IsTerminal() {
					continue
				}
				if bar != nil {
					_ = bar.Close()
				}
				final, _ := eng.Job(job.ID)
				return final, terminalError(eng, job.ID, event.Status, lastError)
			}
		}
	}
}

// terminalError maps a terminal status to the command's return error,
// recovering the failure message from buffered events when none was
// observed live.
func terminalError(eng *engine.Engine, jobID string, status domain.JobStatus, lastError string) error {
	switch status {
	case domain.JobStatusCompleted:
		return nil
	case domain.JobStatusCancelled:
		return context.Canceled
	}
	if lastError == "" {
		for _, event := range eng.Events(0) {
			if event.JobID == jobID && event.Type == jobs.EventTypeError {
				lastError = formatEventError(event)
			}
		}
	}
	if lastError == "" {
		lastError = "job failed"
	}
	return errors.New(lastError)
}

func formatEventError(event jobs.Event) string {
	if event.ErrorKind != "" {
		return fmt.Sprintf("%s (%s)", event.Message, event.ErrorKind)
	}
	return event.Message
}

// describeResult renders an analysis outcome with the corrective
// action a user would take.
func describeResult(result domain.SyncResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Detected offset: %+.3f s (confidence %.2f, %s)\n",
		result.LagSeconds, result.Confidence, result.ConfidenceLabel())

	switch {
	case math.Abs(result.LagSeconds) < 0.001:
		b.WriteString("Action: tracks are already aligned\n")
	case result.LagSeconds > 0:
		fmt.Fprintf(&b, "Action: trim %.3f s from the start of the external audio\n", result.LagSeconds)
	default:
		fmt.Fprintf(&b, "Action: delay the external audio by %.3f s\n", -result.LagSeconds)
	}

	if result.Confidence <= 0.4 {
		b.WriteString("Warning: low confidence; the recordings may not overlap\n")
	}
	if result.RangeClamped {
		b.WriteString("Note: search range exceeded the analyzed audio and was reduced\n")
	}
	return b.String()
}

// defaultOutputPath derives an output name from the video input when
// no explicit --output is given.
func defaultOutputPath(outputDir, videoPath, format string) string {
	base := filepath.Base(videoPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+"_synced."+format)
}
