package provider

import (
	"errors"
	"fmt"
	"time"
)

// UploadError means media transport to provider storage failed. Fatal.
type UploadError struct {
	Provider string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s upload failed: %v", e.Provider, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// StartError means the provider rejected the job request. Fatal.
type StartError struct {
	Provider string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s rejected transcription job: %v", e.Provider, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// TransientError wraps a polling failure that should be retried until the
// job deadline instead of failing the job.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient poll error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable polling failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TimeoutError means the remote job never reached a terminal state within
// the deadline. Fatal.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transcription job timed out after %s", e.Timeout)
}

// JobFailedError means the provider explicitly reported failure. The
// reason string is surfaced verbatim. Fatal.
type JobFailedError struct {
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("transcription job failed: %s", e.Reason)
}
