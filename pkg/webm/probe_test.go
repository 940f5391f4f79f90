package webm

import (
	"bytes"
	"errors"
	mkv "github.com/at-wat/ebml-go/webm"
	"sync"
	"testing"
	"time"
)

type bufferCloser struct {
	bytes.Buffer
	once   sync.Once
	closed chan struct{}
}

func (b *bufferCloser) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func writeSegment(t *testing.T, frames int, step time.Duration) []byte {
	t.Helper()

	out := &bufferCloser{closed: make(chan struct{})}
	writers, err := mkv.NewSimpleBlockWriter(out, []mkv.TrackEntry{
		{
			Name:        "Video",
			TrackNumber: 1,
			TrackUID:    12345,
			CodecID:     "V_VP8",
			TrackType:   1,
			Video: &mkv.Video{
				PixelWidth:  640,
				PixelHeight: 480,
			},
		},
		{
			Name:        "Audio",
			TrackNumber: 2,
			TrackUID:    67890,
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &mkv.Audio{
				SamplingFrequency: 48000,
				Channels:          1,
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to create webm writer: %v", err)
	}

	for i := 0; i < frames; i++ {
		ts := int64(time.Duration(i) * step / time.Millisecond)
		if _, err := writers[0].Write(i == 0, ts, []byte{0x10, 0x02, 0x00, byte(i)}); err != nil {
			t.Fatalf("video write %d: %v", i, err)
		}
		if _, err := writers[1].Write(true, ts, []byte{0xfc, byte(i)}); err != nil {
			t.Fatalf("audio write %d: %v", i, err)
		}
	}
	for _, w := range writers {
		if err := w.Close(); err != nil {
			t.Fatalf("close writer: %v", err)
		}
	}

	select {
	case <-out.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("webm writer did not finish")
	}
	return out.Bytes()
}

func TestProbeMeasuresSegment(t *testing.T) {
	t.Parallel()

	data := writeSegment(t, 31, 100*time.Millisecond)

	info, err := Probe(data)
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if info.DocType != DocTypeWebM || info.Tracks != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Blocks != 62 {
		t.Fatalf("expected 62 blocks, got %d", info.Blocks)
	}
	if info.Duration != 3*time.Second {
		t.Fatalf("expected 3s, got %s", info.Duration)
	}
}

func TestProbeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Probe(nil); !errors.Is(err, ErrEmptyChunk) {
		t.Fatalf("expected empty chunk error, got %v", err)
	}
	if _, err := Probe([]byte("definitely not matroska")); !errors.Is(err, ErrNotWebM) {
		t.Fatalf("expected not webm error, got %v", err)
	}
}
