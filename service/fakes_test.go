package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
	"time"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock *manualClock
	due   time.Time
	seq   int
	f     func()
	done  bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, due: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.clock.removeLocked(t)
	return true
}

func (c *manualClock) removeLocked(t *manualTimer) {
	for i, candidate := range c.timers {
		if candidate == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Advance fires due timers synchronously in due order, then insertion order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].due.Equal(c.timers[j].due) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].due.Before(c.timers[j].due)
		})
		if len(c.timers) == 0 || c.timers[0].due.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[0]
		c.timers = c.timers[1:]
		next.done = true
		c.now = next.due
		c.mu.Unlock()

		next.f()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeTrack struct {
	id   string
	kind constant.TrackKind

	mu    sync.Mutex
	state constant.TrackState
	stops int
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Kind() constant.TrackKind { return t.kind }

func (t *fakeTrack) ReadyState() constant.TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	t.state = constant.TrackStateEnded
}

func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{
		id: id,
		tracks: []*fakeTrack{
			{id: id + "-video", kind: constant.TrackKindVideo, state: constant.TrackStateLive},
			{id: id + "-audio", kind: constant.TrackKindAudio, state: constant.TrackStateLive},
		},
	}
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []Track {
	tracks := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}

func (s *fakeStream) LiveTracks() int {
	live := 0
	for _, t := range s.tracks {
		if t.ReadyState() == constant.TrackStateLive {
			live++
		}
	}
	return live
}

type fakeDevices struct {
	mu      sync.Mutex
	err     error
	calls   int
	streams []*fakeStream
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, constraints Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream(fmt.Sprintf("stream-%d", d.calls))
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDevices) LiveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := 0
	for _, s := range d.streams {
		live += s.LiveTracks()
	}
	return live
}

type fakePreview struct {
	mu        sync.Mutex
	attachErr error
	attached  Stream
	detaches  int
}

func (p *fakePreview) Attach(stream Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attachErr != nil {
		return p.attachErr
	}
	p.attached = stream
	return nil
}

func (p *fakePreview) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = nil
	p.detaches++
}

type fakeCapturerFactory struct {
	mu        sync.Mutex
	created   int
	active    int
	maxActive int
	// failStartAt makes the nth capturer (1-based) fail to start.
	failStartAt int
	// hold, when set, keeps Collect waiting until it is closed.
	hold chan struct{}
	// failCollectAt makes the nth capturer (1-based) produce no output.
	failCollectAt int
}

func (f *fakeCapturerFactory) NewCapturer(stream Stream, mimeType string) (Capturer, error) {
	for _, track := range stream.Tracks() {
		if track.ReadyState() == constant.TrackStateEnded {
			return nil, errors.New("stream already released")
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &fakeCapturer{factory: f, n: f.created}, nil
}

func (f *fakeCapturerFactory) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeCapturerFactory) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type fakeCapturer struct {
	factory   *fakeCapturerFactory
	n         int
	started   bool
	stopped   bool
	collected bool
}

func (c *fakeCapturer) Start() error {
	f := c.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStartAt == c.n {
		return errors.New("capturer start failed")
	}
	c.started = true
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	return nil
}

func (c *fakeCapturer) Stop() error {
	f := c.factory
	f.mu.Lock()
	defer f.mu.Unlock()
	if !c.started || c.stopped {
		return errors.New("capturer not running")
	}
	c.stopped = true
	f.active--
	return nil
}

func (c *fakeCapturer) Collect() ([]byte, error) {
	f := c.factory
	f.mu.Lock()
	hold := f.hold
	if !c.stopped || c.collected {
		f.mu.Unlock()
		return nil, errors.New("capturer not stopped")
	}
	c.collected = true
	fail := f.failCollectAt == c.n
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if fail {
		return nil, errors.New("segment encoder produced no output")
	}
	return []byte(fmt.Sprintf("segment-%d", c.n)), nil
}

type fakeTransport struct {
	mu          sync.Mutex
	calls       []string
	meta        *dto.SessionMetadata
	fetchErr    error
	cleanupErr  error
	finalizeErr []error
	uploadErr   func(chunk dto.MediaChunk) error
	chunks      []dto.MediaChunk
	finalized   []dto.FinalizeRequest
	block       chan struct{}
}

func (t *fakeTransport) record(call string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
}

func (t *fakeTransport) FetchSession(ctx context.Context, sessionID string) (*dto.SessionMetadata, error) {
	t.record("fetch")
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fetchErr != nil {
		return nil, t.fetchErr
	}
	if t.meta != nil {
		return t.meta, nil
	}
	return &dto.SessionMetadata{UUID: sessionID, Name: "Dr. Test"}, nil
}

func (t *fakeTransport) CleanupPrevious(ctx context.Context, sessionID string) error {
	t.record("cleanup")
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cleanupErr
}

func (t *fakeTransport) UploadChunk(ctx context.Context, sessionID string, chunk dto.MediaChunk) error {
	t.record("upload:" + chunk.Filename)
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, chunk)
	if t.uploadErr != nil {
		return t.uploadErr(chunk)
	}
	return nil
}

func (t *fakeTransport) Finalize(ctx context.Context, sessionID string, req dto.FinalizeRequest) error {
	t.record("finalize")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finalized = append(t.finalized, req)
	if len(t.finalizeErr) > 0 {
		err := t.finalizeErr[0]
		t.finalizeErr = t.finalizeErr[1:]
		return err
	}
	return nil
}

func (t *fakeTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *fakeTransport) Chunks() []dto.MediaChunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	chunks := append([]dto.MediaChunk(nil), t.chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })
	return chunks
}

func (t *fakeTransport) Count(prefix string) int {
	n := 0
	for _, call := range t.Calls() {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu     sync.Mutex
	events []dto.Event
}

func (s *recordingSink) Publish(event dto.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) Events() []dto.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dto.Event(nil), s.events...)
}

func (s *recordingSink) Notices(code constant.NoticeCode) int {
	n := 0
	for _, event := range s.Events() {
		if event.Notice != nil && event.Notice.Code == code {
			n++
		}
	}
	return n
}

func (s *recordingSink) AllNotices() int {
	n := 0
	for _, event := range s.Events() {
		if event.Notice != nil {
			n++
		}
	}
	return n
}
