package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"sync"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
	"time"
)

const (
	timerCountdown = "countdown"
	timerElapsed   = "elapsed"
	timerSegment   = "segment"
)

type RecorderConfig struct {
	// Countdown is the pre-roll in whole seconds. Zero starts capture immediately.
	Countdown       int
	SegmentDuration time.Duration
	MimeType        string
	Constraints     Constraints
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.Countdown < 0 {
		c.Countdown = 0
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = 3 * time.Second
	}
	if c.MimeType == "" {
		c.MimeType = constant.MimeTypeWebM
	}
	return c
}

// Recorder runs the Idle, Countdown, Recording, Stopping cycle of one session at a time.
//
// Elapsed time is counted from one second ticks rather than wall clock deltas,
// so a stalled process accumulates drift.
type Recorder struct {
	cfg       RecorderConfig
	devices   *DeviceManager
	capturers CapturerFactory
	uploads   *UploadCoordinator
	sink      EventSink
	clock     Clock
	timers    *TimerSet

	mu      sync.Mutex
	state   constant.RecorderState
	pending bool
	closed  bool
	session *recordingSession
}

type recordingSession struct {
	id      string
	ctx     context.Context
	options dto.PresentationOptions

	countdown int
	elapsed   int
	sequence  int
	// produced counts chunks handed to the upload queue.
	produced int

	stream           Stream
	capturer         Capturer
	segmentStartedAt time.Time
	uploads          *UploadSession
	// last is the most recently closed segment. Collection chains after it.
	last *closedSegment
}

// closedSegment is a segment detached from the stream whose encoder is still
// flushing. Segments reach the upload queue in sequence order; done is closed
// once this one has been handed over or given up.
type closedSegment struct {
	chunk    dto.MediaChunk
	capturer Capturer
	enqueued bool
	done     chan struct{}
}

type RecorderDeps struct {
	Devices   *DeviceManager
	Capturers CapturerFactory
	Uploads   *UploadCoordinator
	Sink      EventSink
	Clock     Clock
}

func NewRecorder(cfg RecorderConfig, deps RecorderDeps) *Recorder {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	return &Recorder{
		cfg:       cfg.withDefaults(),
		devices:   deps.Devices,
		capturers: deps.Capturers,
		uploads:   deps.Uploads,
		sink:      deps.Sink,
		clock:     deps.Clock,
		timers:    NewTimerSet(deps.Clock),
		state:     constant.RecorderStateIdle,
	}
}

// Start validates the session, clears leftovers of an earlier attempt and
// enters the countdown. When the countdown is disabled the device is acquired
// before Start returns.
func (r *Recorder) Start(ctx context.Context, sessionID string, options dto.PresentationOptions) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSession, sessionID)
	}
	options, err := options.Normalize()
	if err != nil {
		return errors.Join(ErrInvalidOptions, err)
	}

	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return ErrRecorderClosed
	case r.state != constant.RecorderStateIdle || r.pending:
		r.mu.Unlock()
		return ErrSessionActive
	}
	r.pending = true
	r.publishStateLocked(sessionID)
	r.mu.Unlock()

	sctx := context.WithoutCancel(ctx)
	logger := zerolog.Ctx(sctx).With().Str("session_id", sessionID).Logger()
	sctx = logger.WithContext(sctx)

	err = r.prepare(sctx, sessionID)

	r.mu.Lock()
	r.pending = false
	if err == nil && r.closed {
		err = ErrRecorderClosed
	}
	if err != nil {
		r.publishStateLocked(sessionID)
		r.mu.Unlock()
		return err
	}

	sess := &recordingSession{
		id:        sessionID,
		ctx:       sctx,
		options:   options,
		countdown: r.cfg.Countdown,
	}
	r.session = sess
	r.state = constant.RecorderStateCountdown
	r.publishStateLocked(sessionID)

	if r.cfg.Countdown > 0 {
		r.publishLocked(constant.EventTypeCountdown, nil)
		r.timers.Every(timerCountdown, time.Second, func() { r.countdownTick(sess) })
		r.mu.Unlock()
		logger.Info().Int("countdown", r.cfg.Countdown).Msg("countdown started")
		return nil
	}
	r.mu.Unlock()

	return r.beginRecording(sess)
}

func (r *Recorder) prepare(ctx context.Context, sessionID string) error {
	meta, err := r.uploads.FetchSession(ctx, sessionID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to fetch session metadata")
		r.notify(sessionID, constant.NoticeSessionUnavailable, constant.NoticeLevelError,
			"This recording link is not available.", err)
		if !errors.Is(err, ErrSessionUnavailable) {
			err = errors.Join(ErrSessionUnavailable, err)
		}
		return err
	}
	if meta.IsVideoProcessing {
		zerolog.Ctx(ctx).Warn().Msg("previous video still processing")
		r.notify(sessionID, constant.NoticeVideoProcessing, constant.NoticeLevelWarning,
			"Your previous video is still being processed. Please wait before recording again.", nil)
		return ErrVideoProcessing
	}

	return r.uploads.CleanupPrevious(ctx, sessionID)
}

func (r *Recorder) countdownTick(sess *recordingSession) {
	r.mu.Lock()
	if r.session != sess || r.state != constant.RecorderStateCountdown {
		r.mu.Unlock()
		return
	}
	sess.countdown--
	r.publishLocked(constant.EventTypeCountdown, nil)
	if sess.countdown > 0 {
		r.mu.Unlock()
		return
	}
	r.timers.Cancel(timerCountdown)
	r.mu.Unlock()

	_ = r.beginRecording(sess)
}

// beginRecording acquires the device without holding the lock and re-checks
// that the session is still current afterwards.
func (r *Recorder) beginRecording(sess *recordingSession) error {
	stream, err := r.devices.Acquire(sess.ctx, r.cfg.Constraints)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		zerolog.Ctx(sess.ctx).Error().Err(err).Msg("failed to acquire capture devices")
		code, message := constant.NoticeDeviceUnavailable, "No camera or microphone is available."
		if errors.Is(err, ErrPermissionDenied) {
			code, message = constant.NoticePermissionDenied, "Camera and microphone access was denied."
		}
		r.notify(sess.id, code, constant.NoticeLevelError, message, err)
		if r.session == sess {
			r.teardownLocked()
		}
		return err
	}

	if r.session != sess || r.state != constant.RecorderStateCountdown {
		r.devices.ReleaseStream(stream)
		return ErrNoActiveSession
	}

	sess.stream = stream
	sess.uploads = r.uploads.Open(sess.ctx, sess.id)
	r.state = constant.RecorderStateRecording

	if err := r.startSegmentLocked(sess); err != nil {
		r.captureFailedLocked(sess, err)
		return err
	}

	r.timers.Every(timerElapsed, time.Second, func() { r.tick(sess) })
	r.timers.Every(timerSegment, r.cfg.SegmentDuration, func() { r.rotate(sess) })
	r.publishStateLocked(sess.id)
	zerolog.Ctx(sess.ctx).Info().Dur("segment_duration", r.cfg.SegmentDuration).Msg("recording started")
	return nil
}

func (r *Recorder) tick(sess *recordingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != sess || r.state != constant.RecorderStateRecording {
		return
	}
	sess.elapsed++
	r.publishLocked(constant.EventTypeElapsed, nil)
}

// rotate detaches the open segment and starts the next one under the lock,
// so capture windows never overlap and the feed is without a reader only for
// the time an encoder takes to start. The closed segment is collected outside
// the lock.
func (r *Recorder) rotate(sess *recordingSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != sess || r.state != constant.RecorderStateRecording {
		return
	}
	if err := r.closeSegmentLocked(sess, false); err != nil {
		r.captureFailedLocked(sess, err)
		return
	}
	if err := r.startSegmentLocked(sess); err != nil {
		r.captureFailedLocked(sess, err)
	}
}

func (r *Recorder) startSegmentLocked(sess *recordingSession) error {
	capturer, err := r.capturers.NewCapturer(sess.stream, r.cfg.MimeType)
	if err != nil {
		return err
	}
	if err := capturer.Start(); err != nil {
		return err
	}
	sess.capturer = capturer
	sess.segmentStartedAt = r.clock.Now()
	return nil
}

func (r *Recorder) closeSegmentLocked(sess *recordingSession, final bool) error {
	capturer := sess.capturer
	if capturer == nil {
		return errors.New("no open segment")
	}
	sess.capturer = nil

	if err := capturer.Stop(); err != nil {
		return fmt.Errorf("stop segment %d: %w", sess.sequence, err)
	}

	seg := &closedSegment{
		chunk: dto.MediaChunk{
			SessionID:  sess.id,
			Sequence:   sess.sequence,
			Filename:   dto.ChunkFilename(sess.segmentStartedAt, sess.sequence),
			IsFinal:    final,
			Duration:   r.clock.Now().Sub(sess.segmentStartedAt),
			CapturedAt: sess.segmentStartedAt,
		},
		capturer: capturer,
		done:     make(chan struct{}),
	}
	sess.sequence++
	go r.collect(sess, seg, sess.last)
	sess.last = seg
	return nil
}

// closeFinalLocked closes the open segment as the final chunk. A segment a
// rotation opened at this same instant holds no media: it is discarded and
// the previous segment carries the final flag, as long as it has not reached
// the upload queue yet.
func (r *Recorder) closeFinalLocked(sess *recordingSession) error {
	prev := sess.last
	if sess.capturer != nil && prev != nil && !prev.enqueued && !r.clock.Now().After(sess.segmentStartedAt) {
		r.discardSegmentLocked(sess)
		prev.chunk.IsFinal = true
		zerolog.Ctx(sess.ctx).Debug().Str("chunk", prev.chunk.Filename).Msg("empty final segment dropped, previous segment marked final")
		return nil
	}
	return r.closeSegmentLocked(sess, true)
}

// collect waits for the segment encoder and hands the chunk to the upload
// queue after every earlier segment.
func (r *Recorder) collect(sess *recordingSession, seg *closedSegment, prev *closedSegment) {
	defer close(seg.done)

	data, err := seg.capturer.Collect()
	if prev != nil {
		<-prev.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seg.enqueued = true
	if err != nil {
		r.segmentFailedLocked(sess, seg.chunk, err)
		return
	}
	chunk := seg.chunk
	chunk.Data = data
	sess.produced++

	zerolog.Ctx(sess.ctx).Debug().Str("chunk", chunk.Filename).Int("size", len(data)).Bool("is_final", chunk.IsFinal).Msg("segment closed")
	sess.uploads.Enqueue(chunk)
}

func (r *Recorder) segmentFailedLocked(sess *recordingSession, chunk dto.MediaChunk, err error) {
	err = fmt.Errorf("collect segment %d: %w", chunk.Sequence, err)
	switch {
	case r.session == sess && r.state == constant.RecorderStateRecording:
		r.captureFailedLocked(sess, err)
	case r.session == sess:
		zerolog.Ctx(sess.ctx).Warn().Err(err).Bool("is_final", chunk.IsFinal).Msg("closing segment could not be captured")
		r.notify(sess.id, constant.NoticeCaptureFailed, constant.NoticeLevelWarning,
			"The last seconds of the recording could not be saved.", err)
	default:
		zerolog.Ctx(sess.ctx).Debug().Err(err).Msg("segment of an ended session could not be captured")
	}
}

// discardSegmentLocked detaches the open segment and reaps its encoder in the background.
func (r *Recorder) discardSegmentLocked(sess *recordingSession) {
	capturer := sess.capturer
	if capturer == nil {
		return
	}
	sess.capturer = nil

	if err := capturer.Stop(); err != nil {
		zerolog.Ctx(sess.ctx).Debug().Err(err).Msg("discarded segment stop failed")
		return
	}
	go func() {
		if _, err := capturer.Collect(); err != nil {
			zerolog.Ctx(sess.ctx).Debug().Err(err).Msg("discarded segment ended without output")
		}
	}()
}

func (r *Recorder) captureFailedLocked(sess *recordingSession, err error) {
	zerolog.Ctx(sess.ctx).Warn().Err(err).Msg("segment capture failed, stopping recording")
	r.notify(sess.id, constant.NoticeCaptureFailed, constant.NoticeLevelWarning,
		"Recording stopped because the camera stream was interrupted.", err)
	r.teardownLocked()
}

// teardownLocked is the single exit routine: timers, open segment, device and
// upload queue are all released here. The open segment is discarded; segments
// closed earlier still reach the queue before it closes.
func (r *Recorder) teardownLocked() {
	r.timers.StopAll()

	sess := r.session
	if sess != nil {
		r.discardSegmentLocked(sess)
		if sess.stream != nil {
			r.devices.ReleaseStream(sess.stream)
			sess.stream = nil
		}
		if uploads := sess.uploads; uploads != nil {
			last := sess.last
			go func() {
				if last != nil {
					<-last.done
				}
				uploads.Close()
			}()
		}
	}

	r.session = nil
	r.state = constant.RecorderStateIdle
	if sess != nil {
		r.publishStateLocked(sess.id)
	}
}

// Finish ends the active session. During the countdown it cancels the attempt
// without finalizing. While recording it closes the open segment as the final
// chunk, releases the device, waits for uploads to settle and finalizes.
// Settling and finalize run on the session context, so a caller that goes
// away does not cut them short. The returned error is the finalize failure,
// if any; the session is ended either way.
func (r *Recorder) Finish(ctx context.Context) (dto.FinishResult, error) {
	r.mu.Lock()
	sess := r.session
	if sess == nil || r.state == constant.RecorderStateStopping {
		r.mu.Unlock()
		return dto.FinishResult{}, ErrNoActiveSession
	}

	if r.state == constant.RecorderStateCountdown {
		result := dto.FinishResult{SessionID: sess.id, Cancelled: true, Elapsed: dto.FormatElapsed(0)}
		r.notify(sess.id, constant.NoticeRecordingCancelled, constant.NoticeLevelInfo, "Recording cancelled before it started.", nil)
		r.teardownLocked()
		r.mu.Unlock()
		zerolog.Ctx(sess.ctx).Info().Msg("recording cancelled during countdown")
		return result, nil
	}

	r.state = constant.RecorderStateStopping
	r.timers.StopAll()
	result := dto.FinishResult{
		SessionID:      sess.id,
		ElapsedSeconds: sess.elapsed,
		Elapsed:        dto.FormatElapsed(sess.elapsed),
	}
	r.publishStateLocked(sess.id)

	if err := r.closeFinalLocked(sess); err != nil {
		zerolog.Ctx(sess.ctx).Warn().Err(err).Msg("final segment could not be captured")
		r.notify(sess.id, constant.NoticeCaptureFailed, constant.NoticeLevelWarning,
			"The last seconds of the recording could not be saved.", err)
	}
	r.devices.ReleaseStream(sess.stream)
	sess.stream = nil
	uploads := sess.uploads
	last := sess.last
	r.mu.Unlock()

	if last != nil {
		<-last.done
	}
	r.mu.Lock()
	result.ChunksProduced = sess.produced
	r.mu.Unlock()

	stats := uploads.Settle(sess.ctx)
	result.ChunksUploaded = stats.Uploaded
	result.ChunksFailed = stats.Failed
	result.ChunksPending = stats.Pending
	if stats.Failed > 0 || stats.Pending > 0 {
		r.notify(sess.id, constant.NoticeIncompleteRecording, constant.NoticeLevelWarning,
			"Some parts of the recording did not reach the server. The final video may be incomplete.",
			fmt.Errorf("%d failed, %d pending of %d chunks", stats.Failed, stats.Pending, result.ChunksProduced))
	}

	finalizeErr := r.uploads.Finalize(sess.ctx, sess.id, dto.FinalizeRequest{
		Orientation: sess.options.Orientation,
		FrameColor:  sess.options.FrameColor,
	})
	if finalizeErr != nil {
		result.FinalizeError = finalizeErr.Error()
	}

	r.mu.Lock()
	if r.session == sess {
		r.session = nil
		r.state = constant.RecorderStateIdle
		r.publishStateLocked(sess.id)
	}
	r.mu.Unlock()

	zerolog.Ctx(sess.ctx).Info().
		Str("elapsed", result.Elapsed).
		Int("chunks", result.ChunksProduced).
		Int("uploaded", result.ChunksUploaded).
		Int("failed", result.ChunksFailed).
		Msg("recording finished")
	return result, finalizeErr
}

// Close tears the recorder down without finalizing. A session that is already
// stopping completes its finalize.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.session != nil && r.state != constant.RecorderStateStopping {
		r.teardownLocked()
	}
}

func (r *Recorder) Status() dto.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() dto.Status {
	status := dto.Status{
		State:         r.state,
		Elapsed:       dto.FormatElapsed(0),
		StartEnabled:  r.state == constant.RecorderStateIdle && !r.pending && !r.closed,
		FinishEnabled: r.state == constant.RecorderStateRecording || r.state == constant.RecorderStateCountdown,
	}
	if sess := r.session; sess != nil {
		status.SessionID = sess.id
		status.Countdown = sess.countdown
		status.ElapsedSeconds = sess.elapsed
		status.Elapsed = dto.FormatElapsed(sess.elapsed)
	}
	return status
}

// Timers returns the number of scheduled recorder timers.
func (r *Recorder) Timers() int {
	return r.timers.Active()
}

func (r *Recorder) publishStateLocked(sessionID string) {
	r.publishEventLocked(constant.EventTypeState, sessionID, nil)
}

func (r *Recorder) publishLocked(eventType constant.EventType, notice *dto.Notice) {
	sessionID := ""
	if r.session != nil {
		sessionID = r.session.id
	}
	r.publishEventLocked(eventType, sessionID, notice)
}

func (r *Recorder) publishEventLocked(eventType constant.EventType, sessionID string, notice *dto.Notice) {
	status := r.statusLocked()
	if status.SessionID == "" {
		status.SessionID = sessionID
	}
	r.sink.Publish(dto.Event{
		Type:      eventType,
		SessionID: sessionID,
		Status:    &status,
		Notice:    notice,
		At:        r.clock.Now(),
	})
}

func (r *Recorder) notify(sessionID string, code constant.NoticeCode, level constant.NoticeLevel, message string, err error) {
	notice := dto.Notice{Code: code, Level: level, Message: message}
	if err != nil {
		notice.Detail = err.Error()
	}
	event := noticeEvent(sessionID, notice)
	event.At = r.clock.Now()
	r.sink.Publish(event)
}

