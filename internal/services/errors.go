package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	ErrSandboxExecution  = errors.New("sandbox execution failure")
	ErrAlreadyStarted    = errors.New("already started")
	ErrRaceDetected      = errors.New("race detected")
	ErrPublication       = errors.New("publication failure")
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("timeout")
	ErrTransient         = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// SandboxError describes a sandboxed process that exited unsuccessfully. Output
// holds the tail of the combined stdout/stderr stream.
type SandboxError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *SandboxError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *SandboxError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSandboxExecution}
	}
	return []error{ErrSandboxExecution, e.Err}
}

// FailureKinds lists every label FailureKind can return for a recorded
// failure.
func FailureKinds() []string {
	return []string{"configuration", "source_unavailable", "size_limit", "timeout", "sandbox", "publication", "internal"}
}

// FailureKind maps an error to a short, stable label used for metrics and
// status displays.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrValidation):
		return "configuration"
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrNotFound):
		return "source_unavailable"
	case errors.Is(err, ErrSizeLimitExceeded):
		return "size_limit"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSandboxExecution):
		return "sandbox"
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrRaceDetected):
		return "race"
	case errors.Is(err, ErrPublication):
		return "publication"
	default:
		return "internal"
	}
}

// Recorded reports whether a failure should be written to the job record.
// Duplicate claims and lost fencing races are silent outcomes.
func Recorded(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAlreadyStarted) && !errors.Is(err, ErrRaceDetected)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
