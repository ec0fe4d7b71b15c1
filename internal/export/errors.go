package export

import (
	"fmt"

	"avsync-studio/internal/media"
)

// ConfigError reports which export setting is invalid or inconsistent.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid export config: %s: %s", e.Field, e.Reason)
}

// EncodeError marks a backend transcode failure with its diagnostics.
type EncodeError struct {
	Message    string
	CommandLog media.CommandLog
	Err        error
}

func (e *EncodeError) Error() string {
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("encode failed: %s", e.Message)
	}
	return fmt.Sprintf(
		"encode failed: %s (cmd=%s exit=%d)",
		e.Message, e.CommandLog.Command, e.CommandLog.ExitCode,
	)
}

func (e *EncodeError) Unwrap() error { return e.Err }
