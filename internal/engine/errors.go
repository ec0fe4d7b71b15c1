package engine

import (
	"context"
	"errors"

	"avsync-studio/internal/analysis"
	"avsync-studio/internal/export"
	"avsync-studio/internal/jobs"
	"avsync-studio/internal/media"
)

// Error kinds attached to error events so consumers can react without
// parsing messages.
const (
	ErrorKindIO                 = "io"
	ErrorKindExtraction         = "extraction"
	ErrorKindInsufficientSignal = "insufficient_signal"
	ErrorKindAnalysis           = "analysis"
	ErrorKindConfig             = "config"
	ErrorKindEncode             = "encode"
	ErrorKindTimeout            = "timeout"
	ErrorKindBusy               = "busy"
	ErrorKindCancelled          = "cancelled"
	ErrorKindInternal           = "internal"
)

// Classify maps an error from any stage onto its kind. Context errors
// win over wrapped stage errors so a cancelled extraction is reported
// as a cancellation, not a backend failure.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, jobs.ErrBusy):
		return ErrorKindBusy
	case errors.Is(err, analysis.ErrInsufficientSignal):
		return ErrorKindInsufficientSignal
	case errors.Is(err, analysis.ErrDegenerateSignal):
		return ErrorKindAnalysis
	}

	var inputErr *media.InputError
	if errors.As(err, &inputErr) {
		return ErrorKindIO
	}
	var extractionErr *media.ExtractionError
	if errors.As(err, &extractionErr) {
		return ErrorKindExtraction
	}
	var configErr *export.ConfigError
	if errors.As(err, &configErr) {
		return ErrorKindConfig
	}
	var encodeErr *export.EncodeError
	if errors.As(err, &encodeErr) {
		return ErrorKindEncode
	}
	return ErrorKindInternal
}
