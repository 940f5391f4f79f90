package service

import (
	"context"
	"errors"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"sync"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
	"testimonial-recorder/pkg/webm"
	"time"
)

type UploadConfig struct {
	Workers   int
	QueueSize int

	// Zero disables a timeout.
	MetadataTimeout time.Duration
	CleanupTimeout  time.Duration
	UploadTimeout   time.Duration
	FinalizeTimeout time.Duration
	SettleTimeout   time.Duration

	FinalizeRetries      int
	RetryInitialInterval time.Duration

	ProbeChunks bool
}

func (c UploadConfig) withDefaults() UploadConfig {
	if c.Workers < 1 {
		c.Workers = 2
	}
	if c.QueueSize < 1 {
		c.QueueSize = 256
	}
	if c.FinalizeRetries < 0 {
		c.FinalizeRetries = 0
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	return c
}

// UploadCoordinator delivers chunks and drives cleanup and finalize against a Transport.
type UploadCoordinator struct {
	transport Transport
	cfg       UploadConfig
	sink      EventSink
	clock     Clock
}

// NewUploadCoordinator stamps notices with clock. A nil sink or clock falls
// back to a no-op sink and the wall clock.
func NewUploadCoordinator(transport Transport, cfg UploadConfig, sink EventSink, clock Clock) *UploadCoordinator {
	if sink == nil {
		sink = nopSink{}
	}
	if clock == nil {
		clock = RealClock()
	}
	return &UploadCoordinator{
		transport: transport,
		cfg:       cfg.withDefaults(),
		sink:      sink,
		clock:     clock,
	}
}

func (c *UploadCoordinator) FetchSession(ctx context.Context, sessionID string) (*dto.SessionMetadata, error) {
	ctx, cancel := withTimeout(ctx, c.cfg.MetadataTimeout)
	defer cancel()
	return c.transport.FetchSession(ctx, sessionID)
}

// CleanupPrevious purges artifacts of an earlier incomplete attempt. It blocks
// until the backend confirms or the attempt fails.
func (c *UploadCoordinator) CleanupPrevious(ctx context.Context, sessionID string) error {
	tctx, cancel := withTimeout(ctx, c.cfg.CleanupTimeout)
	defer cancel()

	if err := c.transport.CleanupPrevious(tctx, sessionID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionID).Msg("failed to clean up previous recording")
		c.notify(sessionID, constant.NoticeCleanupFailed, constant.NoticeLevelError,
			"The previous recording could not be cleared. Please try again.", err)
		return &CleanupError{SessionID: sessionID, Err: err}
	}

	zerolog.Ctx(ctx).Info().Str("session_id", sessionID).Msg("previous recording cleaned up")
	return nil
}

// UploadChunk performs one delivery. Failures are reported and never retried.
func (c *UploadCoordinator) UploadChunk(ctx context.Context, sessionID string, chunk dto.MediaChunk) error {
	logger := zerolog.Ctx(ctx).With().
		Str("session_id", sessionID).
		Str("chunk", chunk.Filename).
		Int("sequence", chunk.Sequence).
		Bool("is_final", chunk.IsFinal).
		Logger()

	if c.cfg.ProbeChunks {
		info, err := webm.Probe(chunk.Data)
		if err != nil {
			logger.Warn().Err(err).Int("size", len(chunk.Data)).Msg("chunk is not a self-contained webm segment")
		} else {
			logger.Debug().Dur("media_duration", info.Duration).Int("blocks", info.Blocks).Msg("chunk probed")
		}
	}

	tctx, cancel := withTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	if err := c.transport.UploadChunk(tctx, sessionID, chunk); err != nil {
		logger.Error().Err(err).Msg("failed to upload chunk")
		c.notify(sessionID, constant.NoticeChunkUploadFailed, constant.NoticeLevelWarning,
			"A part of the recording failed to upload. Recording continues.", err)
		return &ChunkUploadError{SessionID: sessionID, Filename: chunk.Filename, Sequence: chunk.Sequence, Err: err}
	}

	logger.Info().Int("size", len(chunk.Data)).Msg("chunk uploaded")
	return nil
}

// Finalize tells the backend no more chunks are coming. Rejections are not retried.
func (c *UploadCoordinator) Finalize(ctx context.Context, sessionID string, req dto.FinalizeRequest) error {
	operation := func() (struct{}, error) {
		tctx, cancel := withTimeout(ctx, c.cfg.FinalizeTimeout)
		defer cancel()

		err := c.transport.Finalize(tctx, sessionID, req)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("finalize attempt failed")
			if errors.Is(err, ErrRejected) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNonRetryable) {
				return struct{}{}, backoff.Permanent(err)
			}
		}
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInitialInterval
	bo.MaxInterval = 10 * time.Second
	maxTries := uint(c.cfg.FinalizeRetries + 1)
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sessionID).Msg("failed to finalize recording")
		c.notify(sessionID, constant.NoticeFinalizeFailed, constant.NoticeLevelError,
			"The recording ended but could not be submitted for processing.", err)
		return &FinalizeError{SessionID: sessionID, Err: err}
	}

	zerolog.Ctx(ctx).Info().Str("session_id", sessionID).Msg("recording finalized")
	c.notify(sessionID, constant.NoticeFinalized, constant.NoticeLevelInfo, "Video submitted successfully.", nil)
	return nil
}

// Open starts the worker pool for one session.
func (c *UploadCoordinator) Open(ctx context.Context, sessionID string) *UploadSession {
	s := &UploadSession{
		coordinator: c,
		ctx:         ctx,
		sessionID:   sessionID,
		queue:       make(chan dto.MediaChunk, c.cfg.QueueSize),
		done:        make(chan struct{}),
	}

	for i := 1; i <= c.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.work()
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	return s
}

func (c *UploadCoordinator) notify(sessionID string, code constant.NoticeCode, level constant.NoticeLevel, message string, err error) {
	notice := dto.Notice{Code: code, Level: level, Message: message}
	if err != nil {
		notice.Detail = err.Error()
	}
	event := noticeEvent(sessionID, notice)
	event.At = c.clock.Now()
	c.sink.Publish(event)
}

type UploadStats struct {
	Queued   int
	Uploaded int
	Failed   int
	Pending  int
}

// UploadSession dispatches the chunks of one session in FIFO order. Completion is unordered.
type UploadSession struct {
	coordinator *UploadCoordinator
	ctx         context.Context
	sessionID   string

	queue chan dto.MediaChunk
	wg    sync.WaitGroup
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	queued   int
	uploaded int
	failed   int
	dropped  int
}

func (s *UploadSession) work() {
	defer s.wg.Done()
	for chunk := range s.queue {
		err := s.coordinator.UploadChunk(s.ctx, s.sessionID, chunk)

		s.mu.Lock()
		if err != nil {
			s.failed++
		} else {
			s.uploaded++
		}
		s.mu.Unlock()
	}
}

// Enqueue hands a chunk over without blocking. A chunk that cannot be queued
// is reported as failed.
func (s *UploadSession) Enqueue(chunk dto.MediaChunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		select {
		case s.queue <- chunk:
			s.queued++
			return true
		default:
		}
	}

	s.dropped++
	zerolog.Ctx(s.ctx).Error().Str("session_id", s.sessionID).Str("chunk", chunk.Filename).Bool("closed", s.closed).Msg("chunk dropped before upload")
	s.coordinator.notify(s.sessionID, constant.NoticeChunkUploadFailed, constant.NoticeLevelWarning,
		"A part of the recording could not be queued for upload. Recording continues.", nil)
	return false
}

// Close stops accepting chunks. Queued chunks are still delivered.
func (s *UploadSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// Settle closes the queue and waits for dispatched uploads, bounded by the
// settle timeout. Uploads still running afterwards are abandoned.
func (s *UploadSession) Settle(ctx context.Context) UploadStats {
	s.Close()

	var timeout <-chan time.Time
	if d := s.coordinator.cfg.SettleTimeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.done:
	case <-timeout:
		zerolog.Ctx(ctx).Warn().Str("session_id", s.sessionID).Msg("settle timeout reached, abandoning in-flight uploads")
	case <-ctx.Done():
		zerolog.Ctx(ctx).Warn().Err(ctx.Err()).Str("session_id", s.sessionID).Msg("settle interrupted")
	}

	return s.Stats()
}

func (s *UploadSession) Done() <-chan struct{} {
	return s.done
}

func (s *UploadSession) Stats() UploadStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UploadStats{
		Queued:   s.queued,
		Uploaded: s.uploaded,
		Failed:   s.failed + s.dropped,
		Pending:  s.queued - s.uploaded - s.failed,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
