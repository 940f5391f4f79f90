package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"sync"
	"testimonial-recorder/constant"
)

// DeviceManager exclusively owns the live capture stream.
type DeviceManager struct {
	devices MediaDevices
	preview Preview

	mu     sync.Mutex
	stream Stream
}

func NewDeviceManager(devices MediaDevices, preview Preview) *DeviceManager {
	if preview == nil {
		preview = NopPreview{}
	}
	return &DeviceManager{
		devices: devices,
		preview: preview,
	}
}

// Acquire opens camera and microphone and attaches the stream to the preview.
// Any stream held from an earlier acquire is released first.
func (m *DeviceManager) Acquire(ctx context.Context, constraints Constraints) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked()

	if m.devices == nil {
		return nil, ErrUnsupported
	}

	stream, err := m.devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, classifyDeviceError(err)
	}

	if err := m.preview.Attach(stream); err != nil {
		stopTracks(stream)
		return nil, fmt.Errorf("attach preview: %w", err)
	}

	m.stream = stream
	zerolog.Ctx(ctx).Info().Str("stream_id", stream.ID()).Int("tracks", len(stream.Tracks())).Msg("capture devices acquired")
	return stream, nil
}

// Release stops every live track and detaches the preview. Calling it with
// nothing acquired is a no-op.
func (m *DeviceManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

// ReleaseStream releases s. A stream that is no longer the current one only has
// its tracks stopped.
func (m *DeviceManager) ReleaseStream(s Stream) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == s {
		m.releaseLocked()
		return
	}
	stopTracks(s)
}

func (m *DeviceManager) releaseLocked() {
	if m.stream == nil {
		return
	}
	stopTracks(m.stream)
	m.preview.Detach()
	m.stream = nil
}

// IndicatorOn reports whether the hardware recording indicator is lit.
func (m *DeviceManager) IndicatorOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return false
	}
	for _, track := range m.stream.Tracks() {
		if track.ReadyState() == constant.TrackStateLive {
			return true
		}
	}
	return false
}

func (m *DeviceManager) Current() Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func stopTracks(stream Stream) {
	for _, track := range stream.Tracks() {
		if track.ReadyState() == constant.TrackStateEnded {
			continue
		}
		track.Stop()
	}
}

func classifyDeviceError(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrUnsupported):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
	}
}
