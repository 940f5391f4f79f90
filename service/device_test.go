package service

import (
	"context"
	"errors"
	"testing"
)

func TestDeviceManagerAcquireThenReleaseEndsAllTracks(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{}
	preview := &fakePreview{}
	manager := NewDeviceManager(devices, preview)

	stream, err := manager.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if preview.attached != stream {
		t.Fatalf("stream not attached to preview")
	}
	if !manager.IndicatorOn() {
		t.Fatalf("expected indicator on")
	}

	manager.Release()
	if devices.LiveTracks() != 0 {
		t.Fatalf("expected zero live tracks")
	}
	if manager.IndicatorOn() || manager.Current() != nil {
		t.Fatalf("expected released manager")
	}
	if preview.attached != nil {
		t.Fatalf("preview still attached")
	}
}

func TestDeviceManagerReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{}
	preview := &fakePreview{}
	manager := NewDeviceManager(devices, preview)

	manager.Release()
	if _, err := manager.Acquire(context.Background(), Constraints{}); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	manager.Release()
	manager.Release()

	for _, track := range devices.streams[0].tracks {
		if track.Stops() != 1 {
			t.Fatalf("track %s stopped %d times", track.ID(), track.Stops())
		}
	}
	if preview.detaches != 1 {
		t.Fatalf("expected one detach, got %d", preview.detaches)
	}
}

func TestDeviceManagerAcquireReleasesPrevious(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{}
	manager := NewDeviceManager(devices, nil)

	if _, err := manager.Acquire(context.Background(), Constraints{}); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := manager.Acquire(context.Background(), Constraints{}); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if devices.streams[0].LiveTracks() != 0 {
		t.Fatalf("previous stream still live")
	}
	if devices.streams[1].LiveTracks() != 2 {
		t.Fatalf("current stream not live")
	}
}

func TestDeviceManagerErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"permission", ErrPermissionDenied, ErrPermissionDenied},
		{"missing", ErrDeviceNotFound, ErrDeviceNotFound},
		{"unsupported", ErrUnsupported, ErrUnsupported},
		{"unknown", errors.New("v4l2 ioctl failed"), ErrDeviceNotFound},
	}
	for _, tc := range cases {
		manager := NewDeviceManager(&fakeDevices{err: tc.err}, nil)
		_, err := manager.Acquire(context.Background(), Constraints{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	manager := NewDeviceManager(nil, nil)
	if _, err := manager.Acquire(context.Background(), Constraints{}); !IsDeviceUnavailable(err) {
		t.Fatalf("expected unsupported without devices, got %v", err)
	}
}

func TestDeviceManagerPreviewFailureReleasesStream(t *testing.T) {
	t.Parallel()

	devices := &fakeDevices{}
	manager := NewDeviceManager(devices, &fakePreview{attachErr: errors.New("no surface")})

	if _, err := manager.Acquire(context.Background(), Constraints{}); err == nil {
		t.Fatalf("expected preview error")
	}
	if devices.LiveTracks() != 0 || manager.IndicatorOn() {
		t.Fatalf("stream leaked after preview failure")
	}
}
