package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrRunInProgress = errors.New("a dispatch run is already in progress")
	ErrNotRunning    = errors.New("no dispatch run in progress")
	ErrNotConnected  = errors.New("whatsapp session is not connected")
	ErrNotConfigured = errors.New("dispatch has not been configured")
)

// genericSendError is recorded when a send fails in a way the session layer
// did not report as a recipient failure.
const genericSendError = "failed to send message"

// ConfigurationError rejects a dataset/config pair before a run starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// SendFailure is a recipient-level failure reported by a Sender. It is
// recorded on the contact and the run moves on.
type SendFailure struct {
	Reason string
	Err    error
}

func (e *SendFailure) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return genericSendError
}

func (e *SendFailure) Unwrap() error { return e.Err }

// failureReason maps a Send error to the message stored on the contact.
func failureReason(err error) string {
	var sf *SendFailure
	if errors.As(err, &sf) {
		return sf.Error()
	}
	return genericSendError
}
