package capture

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testimonial-recorder/constant"
	"testimonial-recorder/pkg/mediabus"
	"testimonial-recorder/service"
	"time"
)

var errStreamReleased = errors.New("capture stream already released")

// SegmentEncoder creates one encoder process per recorded segment.
type SegmentEncoder struct {
	cfg Config
	seq atomic.Uint64
}

func NewSegmentEncoder(cfg Config) *SegmentEncoder {
	return &SegmentEncoder{cfg: cfg.withDefaults()}
}

func (e *SegmentEncoder) NewCapturer(stream service.Stream, mimeType string) (service.Capturer, error) {
	ds, ok := stream.(*deviceStream)
	if !ok {
		return nil, fmt.Errorf("%w: stream %T was not opened by ffmpeg devices", service.ErrUnsupported, stream)
	}
	if !ds.alive() {
		return nil, errStreamReleased
	}
	if mimeType != "" && !strings.HasPrefix(mimeType, constant.MimeTypeWebM) {
		return nil, fmt.Errorf("%w: mime type %s", service.ErrUnsupported, mimeType)
	}

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "mpegts", "-i", "pipe:0",
	}
	for _, t := range ds.tracks {
		switch t.kind {
		case constant.TrackKindVideo:
			args = append(args, "-c:v", e.cfg.VideoCodec, "-deadline", "realtime", "-cpu-used", "8", "-b:v", e.cfg.VideoBitrate)
		case constant.TrackKindAudio:
			args = append(args, "-c:a", e.cfg.AudioCodec)
		}
	}
	args = append(args, "-f", "webm", "pipe:1")

	return &segmentCapturer{
		id:      fmt.Sprintf("segment-%d", e.seq.Add(1)),
		command: e.cfg.Command,
		args:    args,
		stream:  ds,
		grace:   e.cfg.StopGrace,
	}, nil
}

type segmentCapturer struct {
	id      string
	command string
	args    []string
	stream  *deviceStream
	grace   time.Duration

	mu        sync.Mutex
	started   bool
	stopped   bool
	collected bool
	cmd       *exec.Cmd
	out       bytes.Buffer
	stderr    *tailBuffer
	waitErr   chan error
	feedDone  chan struct{}
}

func (c *segmentCapturer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("segment already started")
	}
	if !c.stream.alive() {
		return errStreamReleased
	}

	sub, err := c.stream.bus.Subscribe(c.id)
	if err != nil {
		if errors.Is(err, mediabus.ErrBusClosed) {
			return errStreamReleased
		}
		return err
	}

	cmd := exec.Command(c.command, c.args...)
	c.stderr = &tailBuffer{limit: 4096}
	cmd.Stdout = &c.out
	cmd.Stderr = c.stderr
	cmd.WaitDelay = c.grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.stream.bus.Unsubscribe(c.id)
		return fmt.Errorf("failed to create encoder stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		c.stream.bus.Unsubscribe(c.id)
		return fmt.Errorf("failed to start segment encoder: %w", err)
	}

	c.cmd = cmd
	c.started = true
	c.waitErr = make(chan error, 1)
	c.feedDone = make(chan struct{})

	go func() {
		defer close(c.feedDone)
		defer stdin.Close()
		broken := false
		for packet := range sub.C {
			if broken {
				continue
			}
			if _, err := stdin.Write(packet); err != nil {
				broken = true
			}
		}
	}()
	go func() {
		c.waitErr <- cmd.Wait()
		close(c.waitErr)
	}()

	return nil
}

// Stop detaches the encoder from the feed and returns at once. Packets
// published from here on go to the next segment.
func (c *segmentCapturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return errors.New("segment not running")
	}
	c.stopped = true
	c.stream.bus.Unsubscribe(c.id)
	return nil
}

// Collect waits for the stopped encoder to flush and returns the segment.
func (c *segmentCapturer) Collect() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.stopped {
		return nil, errors.New("segment still running")
	}
	if c.collected {
		return nil, errors.New("segment already collected")
	}
	c.collected = true

	<-c.feedDone

	var waitErr error
	select {
	case err := <-c.waitErr:
		waitErr = err
	case <-time.After(c.grace):
		_ = c.cmd.Process.Signal(os.Interrupt)
		select {
		case err := <-c.waitErr:
			waitErr = err
		case <-time.After(c.grace):
			_ = c.cmd.Process.Kill()
			waitErr = <-c.waitErr
		}
	}

	data := c.out.Bytes()
	if len(data) == 0 {
		if waitErr != nil {
			return nil, fmt.Errorf("segment encoder failed: %w: %s", waitErr, stringsTrimSpaceSafe(c.stderr.String()))
		}
		return nil, errors.New("segment encoder produced no output")
	}
	return data, nil
}
