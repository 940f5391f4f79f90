// Package capture drives the camera and microphone through ffmpeg.
//
// One device process captures both inputs into an intra-only MPEG-TS feed that
// is fanned out on packet boundaries. Each recorded segment is a separate
// encoder process subscribed to that feed, so every chunk is a self-contained
// WebM file.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testimonial-recorder/constant"
	"testimonial-recorder/pkg/mediabus"
	"testimonial-recorder/service"
	"time"
)

const (
	tsPacketSize   = 188
	packetsPerRead = 7
)

type Config struct {
	Command string

	VideoFormat string
	VideoDevice string
	AudioFormat string
	AudioDevice string

	VideoCodec   string
	AudioCodec   string
	VideoBitrate string

	StartupGrace time.Duration
	StopGrace    time.Duration
	// PacketBuffer is the per-encoder backlog in feed reads.
	PacketBuffer int
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.VideoFormat == "" {
		c.VideoFormat = "v4l2"
	}
	if c.VideoDevice == "" {
		c.VideoDevice = "/dev/video0"
	}
	if c.AudioFormat == "" {
		c.AudioFormat = "pulse"
	}
	if c.AudioDevice == "" {
		c.AudioDevice = "default"
	}
	if c.VideoCodec == "" {
		c.VideoCodec = "libvpx"
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "libopus"
	}
	if c.VideoBitrate == "" {
		c.VideoBitrate = "1M"
	}
	if c.StartupGrace <= 0 {
		c.StartupGrace = 250 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 1200 * time.Millisecond
	}
	if c.PacketBuffer <= 0 {
		c.PacketBuffer = 512
	}
	return c
}

// Devices opens the camera and microphone as one ffmpeg capture process.
type Devices struct {
	cfg Config
}

func NewDevices(cfg Config) *Devices {
	return &Devices{cfg: cfg.withDefaults()}
}

func (d *Devices) GetUserMedia(ctx context.Context, constraints service.Constraints) (service.Stream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", service.ErrUnsupported)
	}
	if _, err := exec.LookPath(d.cfg.Command); err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrUnsupported, err)
	}

	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	if constraints.Video {
		args = append(args, "-f", d.cfg.VideoFormat)
		if constraints.FrameRate > 0 {
			args = append(args, "-framerate", strconv.Itoa(constraints.FrameRate))
		}
		if constraints.Width > 0 && constraints.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", constraints.Width, constraints.Height))
		}
		args = append(args, "-i", d.cfg.VideoDevice)
	}
	if constraints.Audio {
		args = append(args, "-f", d.cfg.AudioFormat, "-i", d.cfg.AudioDevice)
	}
	if constraints.Video {
		args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency", "-g", "1", "-pix_fmt", "yuv420p")
	}
	if constraints.Audio {
		args = append(args, "-c:a", "aac")
	}
	args = append(args, "-f", "mpegts", "-mpegts_flags", "resend_headers", "pipe:1")

	cmd := exec.Command(d.cfg.Command, args...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	cmd.WaitDelay = d.cfg.StopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", service.ErrUnsupported, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, classifyStartFailure(err, stderr.String())
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(d.cfg.StartupGrace):
	}

	stream := &deviceStream{
		id:      uuid.NewString(),
		bus:     mediabus.New(d.cfg.PacketBuffer),
		process: cmd.Process,
		waitErr: waitErr,
		stderr:  stderr,
		grace:   d.cfg.StopGrace,
		logger:  zerolog.Ctx(ctx).With().Str("component", "capture").Logger(),
	}
	if constraints.Video {
		stream.addTrack(constant.TrackKindVideo)
	}
	if constraints.Audio {
		stream.addTrack(constant.TrackKindAudio)
	}
	stream.readerDone = make(chan struct{})
	go stream.pump(stdout)

	stream.logger.Info().Str("stream_id", stream.id).Strs("args", args).Msg("capture process started")
	return stream, nil
}

type deviceStream struct {
	id     string
	tracks []*deviceTrack
	live   atomic.Int32

	bus        *mediabus.Bus
	process    *os.Process
	waitErr    <-chan error
	stderr     *tailBuffer
	grace      time.Duration
	logger     zerolog.Logger
	readerDone chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *deviceStream) ID() string { return s.id }

func (s *deviceStream) Tracks() []service.Track {
	tracks := make([]service.Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}

func (s *deviceStream) addTrack(kind constant.TrackKind) {
	s.tracks = append(s.tracks, &deviceTrack{
		id:     s.id + "-" + string(kind),
		kind:   kind,
		stream: s,
	})
	s.live.Add(1)
}

func (s *deviceStream) alive() bool {
	return s.live.Load() > 0
}

// pump reads the feed in whole transport packets and publishes every read.
func (s *deviceStream) pump(stdout io.Reader) {
	defer close(s.readerDone)
	defer s.bus.Close()

	buf := make([]byte, tsPacketSize*packetsPerRead)
	for {
		n, err := io.ReadFull(stdout, buf)
		if aligned := n - n%tsPacketSize; aligned > 0 {
			packet := make([]byte, aligned)
			copy(packet, buf[:aligned])
			if pubErr := s.bus.Publish(packet); pubErr != nil {
				return
			}
		}
		if err != nil {
			if s.alive() {
				s.logger.Warn().Err(err).Str("stderr", s.stderr.String()).Msg("capture feed ended unexpectedly")
				s.endAll()
			}
			return
		}
	}
}

// endAll marks every track ended, for a device that went away on its own.
func (s *deviceStream) endAll() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *deviceStream) trackEnded() {
	if s.live.Add(-1) == 0 {
		s.stop()
	}
}

func (s *deviceStream) stop() {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(s.grace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}
		s.bus.Close()

		if s.stopErr != nil {
			s.logger.Warn().Err(s.stopErr).Str("stream_id", s.id).Msg("capture process stopped with error")
			return
		}
		s.logger.Info().Str("stream_id", s.id).Msg("capture process stopped")
	})
}

type deviceTrack struct {
	id     string
	kind   constant.TrackKind
	stream *deviceStream
	ended  atomic.Bool
}

func (t *deviceTrack) ID() string               { return t.id }
func (t *deviceTrack) Kind() constant.TrackKind { return t.kind }

func (t *deviceTrack) ReadyState() constant.TrackState {
	if t.ended.Load() {
		return constant.TrackStateEnded
	}
	return constant.TrackStateLive
}

// Stop ends the track. The capture process exits once every track has ended.
func (t *deviceTrack) Stop() {
	if t.ended.CompareAndSwap(false, true) {
		t.stream.trackEnded()
	}
}

func classifyStartFailure(err error, stderr string) error {
	detail := stringsTrimSpaceSafe(stderr)
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"):
		return fmt.Errorf("%w: %s", service.ErrPermissionDenied, detail)
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "cannot open"),
		strings.Contains(lower, "device or resource busy"):
		return fmt.Errorf("%w: %s", service.ErrDeviceNotFound, detail)
	}
	if err != nil {
		return fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", service.ErrDeviceNotFound, err, detail)
	}
	return fmt.Errorf("%w: ffmpeg exited before capture started", service.ErrDeviceNotFound)
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
