package queue

import (
	"errors"
	"strings"

	"transcoder/internal/services"
)

// maxErrorMessage bounds the stored error text; sandbox failures carry the
// encoder's output tail which can be large.
const maxErrorMessage = 8 * 1024

// ErrorClassifier allows errors to declare their classification for failure
// reporting. Errors implementing it override the sentinel-based mapping.
type ErrorClassifier interface {
	// ErrorKind returns a short, stable classification of the error.
	ErrorKind() string
}

// FailureKind maps a job failure to the label recorded in metrics and shown
// in status output. Errors implementing ErrorClassifier take precedence over
// the services sentinel mapping.
func FailureKind(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := strings.TrimSpace(classifier.ErrorKind()); kind != "" {
			return kind
		}
	}
	return services.FailureKind(err)
}

// FailureMessage renders err for the error_message column, keeping the head
// and the tail when it is too long.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) <= maxErrorMessage {
		return msg
	}
	const marker = "\n...\n"
	half := (maxErrorMessage - len(marker)) / 2
	return msg[:half] + marker + msg[len(msg)-half:]
}
