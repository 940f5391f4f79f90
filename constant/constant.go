package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCompleted  JobStatus = "COMPLETED"
)

type JobType string

const (
	JobTypeRecordingMerge JobType = "recording_merge"
)

type ChunkStatus string

const (
	ChunkStatusUploaded   ChunkStatus = "UPLOADED"
	ChunkStatusProcessing ChunkStatus = "PROCESSING"
	ChunkStatusCompleted  ChunkStatus = "COMPLETED"
	ChunkStatusFailed     ChunkStatus = "FAILED"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// Transport selects how the recorder talks to the intake backend.
type Transport string

const (
	TransportREST   Transport = "rest"
	TransportDirect Transport = "direct"
)

// RecorderState is the segmented recorder lifecycle.
type RecorderState string

const (
	RecorderStateIdle      RecorderState = "idle"
	RecorderStateCountdown RecorderState = "countdown"
	RecorderStateRecording RecorderState = "recording"
	RecorderStateStopping  RecorderState = "stopping"
)

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

func (o Orientation) IsValid() bool {
	return o == OrientationPortrait || o == OrientationLandscape
}

type FrameColor string

const (
	FrameColorWhite  FrameColor = "white"
	FrameColorBlack  FrameColor = "black"
	FrameColorNavy   FrameColor = "navy"
	FrameColorTeal   FrameColor = "teal"
	FrameColorMaroon FrameColor = "maroon"
	FrameColorGold   FrameColor = "gold"
)

// FrameColors is the fixed palette offered to the doctor.
func FrameColors() []FrameColor {
	return []FrameColor{
		FrameColorWhite,
		FrameColorBlack,
		FrameColorNavy,
		FrameColorTeal,
		FrameColorMaroon,
		FrameColorGold,
	}
}

func (c FrameColor) IsValid() bool {
	for _, known := range FrameColors() {
		if c == known {
			return true
		}
	}
	return false
}

type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

type TrackState string

const (
	TrackStateLive  TrackState = "live"
	TrackStateEnded TrackState = "ended"
)

type EventType string

const (
	EventTypeState     EventType = "state"
	EventTypeCountdown EventType = "countdown"
	EventTypeElapsed   EventType = "elapsed"
	EventTypeNotice    EventType = "notice"
)

type NoticeLevel string

const (
	NoticeLevelInfo    NoticeLevel = "info"
	NoticeLevelWarning NoticeLevel = "warning"
	NoticeLevelError   NoticeLevel = "error"
)

// NoticeCode identifies user-visible notifications.
type NoticeCode string

const (
	NoticePermissionDenied    NoticeCode = "permission_denied"
	NoticeDeviceUnavailable   NoticeCode = "device_unavailable"
	NoticeCaptureFailed       NoticeCode = "capture_failed"
	NoticeChunkUploadFailed   NoticeCode = "chunk_upload_failed"
	NoticeCleanupFailed       NoticeCode = "cleanup_failed"
	NoticeFinalizeFailed      NoticeCode = "finalize_failed"
	NoticeVideoProcessing     NoticeCode = "video_processing"
	NoticeSessionUnavailable  NoticeCode = "session_unavailable"
	NoticeIncompleteRecording NoticeCode = "incomplete_recording"
	NoticeRecordingCancelled  NoticeCode = "recording_cancelled"
	NoticeFinalized           NoticeCode = "finalized"
)

const (
	MimeTypeWebM = "video/webm"

	// ChunkObjectRoot is the object-store prefix the merge worker reads chunks from.
	ChunkObjectRoot = "live-recordings"
)
