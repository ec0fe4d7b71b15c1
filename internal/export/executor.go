package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"avsync-studio/internal/media"
)

// ProgressFunc receives monotonically non-decreasing completion
// fractions in [0, 1].
type ProgressFunc func(fraction float64)

// Executor drives the encoding backend for one JobSpec. The output is
// written to a temporary sibling path and moved into place only on
// success, so the requested path never holds a partial file.
type Executor struct {
	backend media.Backend

	mkdirAll func(path string, perm os.FileMode) error
	rename   func(oldpath, newpath string) error
	remove   func(name string) error
}

// NewExecutor constructs the production executor.
func NewExecutor(backend media.Backend) *Executor {
	return &Executor{
		backend:  backend,
		mkdirAll: os.MkdirAll,
		rename:   os.Rename,
		remove:   os.Remove,
	}
}

// Run executes the job and returns the final output path. Stream-copy
// rejections retry once with the full re-encode arguments before
// surfacing an *EncodeError. Context cancellation terminates the
// backend process and removes the partial output.
func (e *Executor) Run(ctx context.Context, spec JobSpec, onProgress ProgressFunc) (string, error) {
	outDir := filepath.Dir(spec.OutputPath)
	if err := e.mkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	tempPath := partialPath(spec.OutputPath)

	log, err := e.transcodeTo(ctx, spec, tempPath, false, onProgress)
	if err != nil {
		cleanupErr := e.removeIfPresent(tempPath)

		if ctxErr := ctx.Err(); ctxErr != nil {
			if cleanupErr != nil {
				return "", multierror.Append(ctxErr, cleanupErr)
			}
			return "", ctxErr
		}

		if _, ok := spec.FallbackCommandArgs(tempPath); ok {
			log, err = e.transcodeTo(ctx, spec, tempPath, true, onProgress)
		}
		if err != nil {
			cleanupErr = e.removeIfPresent(tempPath)
			if ctxErr := ctx.Err(); ctxErr != nil {
				if cleanupErr != nil {
					return "", multierror.Append(ctxErr, cleanupErr)
				}
				return "", ctxErr
			}
			encodeErr := &EncodeError{
				Message:    "backend transcode failed",
				CommandLog: log,
				Err:        err,
			}
			if cleanupErr != nil {
				return "", multierror.Append(error(encodeErr), cleanupErr)
			}
			return "", encodeErr
		}
	}

	if err := e.rename(tempPath, spec.OutputPath); err != nil {
		removeErr := e.removeIfPresent(tempPath)
		result := multierror.Append(fmt.Errorf("move output into place: %w", err))
		if removeErr != nil {
			result = multierror.Append(result, removeErr)
		}
		return "", result.ErrorOrNil()
	}

	if onProgress != nil {
		onProgress(1.0)
	}
	return spec.OutputPath, nil
}

// transcodeTo runs one backend invocation writing to tempPath,
// translating processed durations into clamped forward-only fractions.
func (e *Executor) transcodeTo(ctx context.Context, spec JobSpec, tempPath string, fallback bool, onProgress ProgressFunc) (media.CommandLog, error) {
	args := spec.CommandArgs(tempPath)
	if fallback {
		fbArgs, ok := spec.FallbackCommandArgs(tempPath)
		if !ok {
			return media.CommandLog{}, errors.New("no fallback arguments")
		}
		args = fbArgs
	}

	lastFraction := 0.0
	return e.backend.Transcode(ctx, media.TranscodeRequest{
		Args: args,
		OnProgress: func(processed time.Duration) {
			if onProgress == nil || spec.Duration <= 0 {
				return
			}
			fraction := processed.Seconds() / spec.Duration.Seconds()
			if fraction > 0.99 {
				fraction = 0.99
			}
			if fraction <= lastFraction {
				return
			}
			lastFraction = fraction
			onProgress(fraction)
		},
	})
}

func (e *Executor) removeIfPresent(path string) error {
	if err := e.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove partial output %s: %w", path, err)
	}
	return nil
}

// partialPath builds a hidden sibling temp name that keeps the
// container extension so the backend infers the right muxer.
func partialPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf(".%s.partial-%s%s", stem, uuid.NewString()[:8], ext))
}
