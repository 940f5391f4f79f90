package service

import (
	"context"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
)

type Track interface {
	ID() string
	Kind() constant.TrackKind
	ReadyState() constant.TrackState
	// Stop ends the track. Stopping an ended track is a no-op.
	Stop()
}

// Stream is a live capture handle made of audio and video tracks.
type Stream interface {
	ID() string
	Tracks() []Track
}

type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

// MediaDevices opens capture streams. Implementations return ErrPermissionDenied,
// ErrDeviceNotFound or ErrUnsupported when the hardware cannot be opened.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints Constraints) (Stream, error)
}

// Preview is the surface the live stream is shown on while recording.
type Preview interface {
	Attach(stream Stream) error
	Detach()
}

type NopPreview struct{}

func (NopPreview) Attach(Stream) error { return nil }
func (NopPreview) Detach()             {}

// Capturer encodes one segment of a stream. Stop detaches it from the stream
// without waiting for the encoder, so the next segment can start right away.
// Collect then waits for the encoder and yields the self-contained segment.
type Capturer interface {
	Start() error
	Stop() error
	Collect() ([]byte, error)
}

type CapturerFactory interface {
	NewCapturer(stream Stream, mimeType string) (Capturer, error)
}

// Transport is the backend contract the upload pipeline consumes.
type Transport interface {
	FetchSession(ctx context.Context, sessionID string) (*dto.SessionMetadata, error)
	CleanupPrevious(ctx context.Context, sessionID string) error
	UploadChunk(ctx context.Context, sessionID string, chunk dto.MediaChunk) error
	Finalize(ctx context.Context, sessionID string, req dto.FinalizeRequest) error
}
