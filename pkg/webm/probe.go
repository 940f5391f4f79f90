// Package webm inspects recorded segments before they are shipped.
package webm

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/at-wat/ebml-go"
	mkv "github.com/at-wat/ebml-go/webm"
	"time"
)

const DocTypeWebM = "webm"

var (
	ErrEmptyChunk = errors.New("empty chunk")
	ErrNotWebM    = errors.New("not a webm segment")
)

type Info struct {
	DocType  string
	Tracks   int
	Codecs   []string
	Clusters int
	Blocks   int
	// Duration spans the first to the last block timecode.
	Duration time.Duration
	// Truncated is set when the segment parsed only partially.
	Truncated bool
}

type document struct {
	Header  mkv.EBMLHeader `ebml:"EBML"`
	Segment mkv.Segment    `ebml:"Segment"`
}

// Probe checks that data starts with a webm EBML header and measures the
// media it holds. Parse errors after a valid header mark the result truncated.
func Probe(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyChunk
	}

	var doc document
	parseErr := ebml.Unmarshal(bytes.NewReader(data), &doc)

	info := Info{DocType: doc.Header.DocType}
	if info.DocType != DocTypeWebM {
		if parseErr != nil {
			return info, fmt.Errorf("%w: %v", ErrNotWebM, parseErr)
		}
		return info, fmt.Errorf("%w: doctype %q", ErrNotWebM, info.DocType)
	}
	info.Truncated = parseErr != nil

	for _, track := range doc.Segment.Tracks.TrackEntry {
		info.Tracks++
		info.Codecs = append(info.Codecs, track.CodecID)
	}

	scale := doc.Segment.Info.TimecodeScale
	if scale == 0 {
		scale = uint64(time.Millisecond)
	}

	var first, last int64
	seen := false
	for _, cluster := range doc.Segment.Cluster {
		info.Clusters++
		for _, block := range cluster.SimpleBlock {
			info.Blocks++
			tc := int64(cluster.Timecode) + int64(block.Timecode)
			if !seen || tc < first {
				first = tc
			}
			if !seen || tc > last {
				last = tc
			}
			seen = true
		}
	}
	if seen {
		info.Duration = time.Duration((last - first) * int64(scale))
	}

	return info, nil
}
