package service

import (
	"errors"
	"fmt"
)

var ErrNonRetryable = errors.New("non-retryable error")

var (
	ErrPermissionDenied = errors.New("camera or microphone permission denied")
	ErrDeviceNotFound   = errors.New("camera or microphone not found")
	ErrUnsupported      = errors.New("media capture is not supported")

	ErrSessionActive      = errors.New("a recording session is already active")
	ErrNoActiveSession    = errors.New("no recording session is active")
	ErrRecorderClosed     = errors.New("recorder is closed")
	ErrVideoProcessing    = errors.New("a previous video is still being processed")
	ErrSessionUnavailable = errors.New("recording session not found")
	ErrInvalidSession     = errors.New("invalid session id")
	ErrInvalidOptions     = errors.New("invalid presentation options")

	// ErrRejected marks a 4xx style refusal from the backend. It is never retried.
	ErrRejected     = errors.New("request rejected by server")
	ErrUnauthorized = errors.New("unauthorized")
)

// IsDeviceUnavailable reports whether err means no usable camera or microphone.
func IsDeviceUnavailable(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) || errors.Is(err, ErrUnsupported)
}

type CleanupError struct {
	SessionID string
	Err       error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of previous recording for %s failed: %v", e.SessionID, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

type FinalizeError struct {
	SessionID string
	Err       error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize of %s failed: %v", e.SessionID, e.Err)
}

func (e *FinalizeError) Unwrap() error {
	return e.Err
}

type ChunkUploadError struct {
	SessionID string
	Filename  string
	Sequence  int
	Err       error
}

func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("upload of chunk %d (%s) for %s failed: %v", e.Sequence, e.Filename, e.SessionID, e.Err)
}

func (e *ChunkUploadError) Unwrap() error {
	return e.Err
}
