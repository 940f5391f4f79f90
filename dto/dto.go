package dto

import (
	"fmt"
	"github.com/google/uuid"
	"testimonial-recorder/constant"
	"time"
)

type RecordingMergeMessage struct {
	JobId       uuid.UUID            `json:"jobId"`
	SessionId   uuid.UUID            `json:"sessionId"`
	Orientation constant.Orientation `json:"orientation"`
	FrameColor  constant.FrameColor  `json:"frameColor,omitempty"`
	TotalChunks int                  `json:"totalChunks"`
}

// PresentationOptions are applied by the server when it assembles the final video.
type PresentationOptions struct {
	Orientation constant.Orientation `json:"orientation"`
	FrameColor  constant.FrameColor  `json:"frameColor"`
}

// Normalize fills defaults and rejects values outside the palette.
func (o PresentationOptions) Normalize() (PresentationOptions, error) {
	if o.Orientation == "" {
		o.Orientation = constant.OrientationPortrait
	}
	if o.FrameColor == "" {
		o.FrameColor = constant.FrameColorWhite
	}
	if !o.Orientation.IsValid() {
		return o, fmt.Errorf("unknown orientation %q", o.Orientation)
	}
	if !o.FrameColor.IsValid() {
		return o, fmt.Errorf("unknown frame color %q", o.FrameColor)
	}
	return o, nil
}

type FinalizeRequest struct {
	Orientation constant.Orientation `json:"orientation"`
	FrameColor  constant.FrameColor  `json:"frameColor,omitempty"`
}

// SessionMetadata is the public record behind a recording link.
type SessionMetadata struct {
	UUID              string `json:"uuid"`
	Name              string `json:"name"`
	Degree            string `json:"degree"`
	Topic             string `json:"topic"`
	IsVideoProcessing bool   `json:"isVideoProcessing"`
	IsVideoCompleted  bool   `json:"isVideoCompleted"`
}

// MediaChunk is one self-contained recorded segment.
type MediaChunk struct {
	SessionID  string
	Sequence   int
	Filename   string
	Data       []byte
	IsFinal    bool
	Duration   time.Duration
	CapturedAt time.Time
}

// ChunkFilename derives a unique, lexically sortable name from the segment start time.
func ChunkFilename(startedAt time.Time, sequence int) string {
	return fmt.Sprintf("chunk-%013d-%04d.webm", startedAt.UnixMilli(), sequence)
}

type Notice struct {
	Code    constant.NoticeCode  `json:"code"`
	Level   constant.NoticeLevel `json:"level"`
	Message string               `json:"message"`
	Detail  string               `json:"detail,omitempty"`
}

type Status struct {
	SessionID      string                 `json:"sessionId,omitempty"`
	State          constant.RecorderState `json:"state"`
	Countdown      int                    `json:"countdown"`
	ElapsedSeconds int                    `json:"elapsedSeconds"`
	Elapsed        string                 `json:"elapsed"`
	StartEnabled   bool                   `json:"startEnabled"`
	FinishEnabled  bool                   `json:"finishEnabled"`
}

type Event struct {
	Type      constant.EventType `json:"type"`
	SessionID string             `json:"sessionId,omitempty"`
	Status    *Status            `json:"status,omitempty"`
	Notice    *Notice            `json:"notice,omitempty"`
	At        time.Time          `json:"at"`
}

type FinishResult struct {
	SessionID      string `json:"sessionId"`
	Cancelled      bool   `json:"cancelled"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
	Elapsed        string `json:"elapsed"`
	ChunksProduced int    `json:"chunksProduced"`
	ChunksUploaded int    `json:"chunksUploaded"`
	ChunksFailed   int    `json:"chunksFailed"`
	ChunksPending  int    `json:"chunksPending"`
	FinalizeError  string `json:"finalizeError,omitempty"`
}

type StartRequest struct {
	SessionID   string               `json:"sessionId" binding:"required"`
	Orientation constant.Orientation `json:"orientation"`
	FrameColor  constant.FrameColor  `json:"frameColor"`
}

type Palette struct {
	Orientations []constant.Orientation `json:"orientations"`
	FrameColors  []constant.FrameColor  `json:"frameColors"`
}

// FormatElapsed renders a second counter as MM:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
