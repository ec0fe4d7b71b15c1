package media

import "fmt"

// InputError marks a source file that could not be read at all, as
// opposed to one the backend could not decode.
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("cannot access input: %s", e.Path)
}

func (e *InputError) Unwrap() error { return e.Err }

// ExtractionError marks a backend decode/extraction failure with the
// diagnostics the backend produced.
type ExtractionError struct {
	Path       string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *ExtractionError) Error() string {
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("extract audio from %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf(
		"extract audio from %s: %s (cmd=%s exit=%d)",
		e.Path, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode,
	)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
