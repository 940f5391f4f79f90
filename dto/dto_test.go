package dto

import (
	"sort"
	"testimonial-recorder/constant"
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{7, "00:07"},
		{59, "00:59"},
		{60, "01:00"},
		{754, "12:34"},
		{-3, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatElapsed(tc.seconds); got != tc.want {
			t.Fatalf("FormatElapsed(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestChunkFilenameIsSortable(t *testing.T) {
	t.Parallel()

	base := time.UnixMilli(1_700_000_000_000)
	names := []string{
		ChunkFilename(base.Add(20*time.Second), 10),
		ChunkFilename(base, 0),
		ChunkFilename(base.Add(3*time.Second), 1),
		ChunkFilename(base.Add(6*time.Second), 2),
	}
	sort.Strings(names)

	want := []string{
		ChunkFilename(base, 0),
		ChunkFilename(base.Add(3*time.Second), 1),
		ChunkFilename(base.Add(6*time.Second), 2),
		ChunkFilename(base.Add(20*time.Second), 10),
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order at %d: %q vs %q", i, names[i], want[i])
		}
	}
	if names[0] != "chunk-1700000000000-0000.webm" {
		t.Fatalf("unexpected filename: %q", names[0])
	}
}

func TestPresentationOptionsNormalize(t *testing.T) {
	t.Parallel()

	opts, err := PresentationOptions{}.Normalize()
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if opts.Orientation != constant.OrientationPortrait || opts.FrameColor != constant.FrameColorWhite {
		t.Fatalf("unexpected defaults: %+v", opts)
	}

	if _, err := (PresentationOptions{Orientation: "diagonal"}).Normalize(); err == nil {
		t.Fatalf("expected orientation error")
	}
	if _, err := (PresentationOptions{FrameColor: "plaid"}).Normalize(); err == nil {
		t.Fatalf("expected frame color error")
	}
}
