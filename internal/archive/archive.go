// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package archive implements spec.md §4.2: sample-indexed binary raw
// archive with a JSON gap-map sidecar, written by exactly one ingress task
// and read by exactly one (lagging) analytics task per channel.
package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/gracentral/grapetime/internal/rtpio"
)

// StreamHealth mirrors the sidecar's stream_health object (spec.md §6).
type StreamHealth struct {
	PacketsReceived int `json:"packets_received"`
	PacketsDropped  int `json:"packets_dropped"`
	PacketsOOO      int `json:"packets_ooo"`
	Resyncs         int `json:"resyncs"`
}

// SidecarGap is one gap entry as written to the JSON sidecar.
type SidecarGap struct {
	RTPStart    uint32 `json:"rtp_start"`
	Length      uint32 `json:"length"`
	PacketsLost int    `json:"packets_lost"`
	Fill        string `json:"fill"`
}

// Sidecar is the per-file JSON metadata document (spec.md §3, §6).
type Sidecar struct {
	Channel         string       `json:"channel"`
	FirstRTPTimestamp uint32     `json:"first_rtp_timestamp"`
	FirstUTCSeconds   float64    `json:"first_utc_seconds"`
	SampleRate        int        `json:"sample_rate"`
	SampleCount       uint64     `json:"sample_count"`
	Gaps              []SidecarGap `json:"gaps"`
	StreamHealth      StreamHealth `json:"stream_health"`
}

const bytesPerSample = 8 // complex64: 4 bytes I + 4 bytes Q

// Writer is the raw archive writer for one channel: append-only binary
// files rolled over at fixed wall-time boundaries, with a JSON sidecar
// rewritten on rollover and shutdown (spec.md §4.2).
type Writer struct {
	log         zerolog.Logger
	dir         string
	channel     string
	sampleRate  int
	rollover    time.Duration

	file          *os.File
	sidecarPath   string
	windowStart   time.Time
	firstRTP      uint32
	firstUTC      float64
	sampleCount   uint64
	gaps          []SidecarGap
	health        StreamHealth
	haveWindow    bool
}

// NewWriter constructs a writer rooted at dir/<channel>/, rolling files
// over every `rollover` (one hour by default per spec.md §4.2).
func NewWriter(dir, channel string, sampleRate int, rollover time.Duration, log zerolog.Logger) (*Writer, error) {
	if rollover <= 0 {
		rollover = time.Hour
	}
	channelDir := filepath.Join(dir, channel)
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: mkdir %s: %w", channelDir, err)
	}
	return &Writer{
		log:        log.With().Str("channel", channel).Logger(),
		dir:        channelDir,
		channel:    channel,
		sampleRate: sampleRate,
		rollover:   rollover,
	}, nil
}

// WriteBlock persists samples at rtpTS, rolling over to a new file if the
// block crosses a window boundary, and records gapBefore (possibly nil) in
// the sidecar's gap list (spec.md §4.2 write_block contract).
func (w *Writer) WriteBlock(rtpTS uint32, samples []complex64, gapBefore *rtpio.GapInterval) error {
	now := time.Now().UTC()

	if !w.haveWindow {
		if err := w.openWindow(now, rtpTS); err != nil {
			return err
		}
	} else if w.crossesBoundary(now) {
		if err := w.rollover_(now); err != nil {
			return err
		}
		if err := w.openWindow(now, rtpTS); err != nil {
			return err
		}
	}

	if gapBefore != nil {
		w.gaps = append(w.gaps, SidecarGap{
			RTPStart:    gapBefore.RTPStart,
			Length:      gapBefore.Length,
			PacketsLost: gapBefore.PacketsLost,
			Fill:        gapBefore.FillPolicy,
		})
	}

	if err := writeComplexSamples(w.file, samples); err != nil {
		return fmt.Errorf("archive: write samples: %w", err)
	}
	w.sampleCount += uint64(len(samples))
	w.health.PacketsReceived++

	return nil
}

// RecordStreamHealth copies a resequencer's stream-health snapshot into the
// writer's sidecar counters.
func (w *Writer) RecordStreamHealth(s rtpio.Stats) {
	w.health = StreamHealth{
		PacketsReceived: s.PacketsReceived,
		PacketsDropped:  s.PacketsDropped,
		PacketsOOO:      s.PacketsOOO,
		Resyncs:         s.Resyncs,
	}
}

func (w *Writer) windowBoundary(t time.Time) time.Time {
	return t.Truncate(w.rollover)
}

func (w *Writer) crossesBoundary(now time.Time) bool {
	return w.windowBoundary(now) != w.windowStart
}

func (w *Writer) openWindow(now time.Time, rtpTS uint32) error {
	w.windowStart = w.windowBoundary(now)
	name := w.windowStart.Format("20060102T150405Z") + ".iq"
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}
	w.file = f
	w.sidecarPath = path + ".json"
	w.firstRTP = rtpTS
	w.firstUTC = float64(now.Unix()) + float64(now.Nanosecond())/1e9
	w.sampleCount = 0
	w.gaps = nil
	w.haveWindow = true
	return nil
}

// rollover_ pads the previous file's tail to the boundary with zero
// samples if the stream went idle across it, then writes the final
// sidecar and closes the file (spec.md §4.2).
func (w *Writer) rollover_(now time.Time) error {
	if w.file == nil {
		return nil
	}
	expectedSamples := uint64(w.rollover.Seconds()) * uint64(w.sampleRate)
	if w.sampleCount < expectedSamples {
		pad := expectedSamples - w.sampleCount
		if err := writeZeroPadding(w.file, pad); err != nil {
			return fmt.Errorf("archive: pad tail: %w", err)
		}
		w.gaps = append(w.gaps, SidecarGap{
			RTPStart:    w.firstRTP + uint32(w.sampleCount),
			Length:      uint32(pad),
			PacketsLost: 0,
			Fill:        "zero-fill",
		})
		w.sampleCount = expectedSamples
	}
	return w.finish()
}

// Close flushes the sidecar and closes the current file on graceful
// shutdown (spec.md §4.2, §5 shutdown).
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	return w.finish()
}

func (w *Writer) finish() error {
	if err := w.writeSidecar(); err != nil {
		w.log.Error().Err(err).Msg("failed to write sidecar")
	}
	err := w.file.Close()
	w.file = nil
	w.haveWindow = false
	return err
}

func (w *Writer) writeSidecar() error {
	sc := Sidecar{
		Channel:           w.channel,
		FirstRTPTimestamp: w.firstRTP,
		FirstUTCSeconds:   w.firstUTC,
		SampleRate:        w.sampleRate,
		SampleCount:       w.sampleCount,
		Gaps:              w.gaps,
		StreamHealth:      w.health,
	}
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	tmp := w.sidecarPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.sidecarPath)
}

func writeComplexSamples(f *os.File, samples []complex64) error {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*8:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[i*8+4:], math.Float32bits(imag(s)))
	}
	_, err := f.Write(buf)
	return err
}

func writeZeroPadding(f *os.File, samples uint64) error {
	const chunk = 1 << 16
	zeros := make([]byte, chunk*bytesPerSample)
	remaining := samples
	for remaining > 0 {
		n := remaining
		if n > chunk {
			n = chunk
		}
		if _, err := f.Write(zeros[:n*bytesPerSample]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// sidecarGapsSorted returns a copy of gaps sorted by RTPStart.
// Overlapping gaps are neither merged nor checked.
func sidecarGapsSorted(gaps []SidecarGap) []SidecarGap {
	out := append([]SidecarGap(nil), gaps...)
	sort.Slice(out, func(i, j int) bool { return out[i].RTPStart < out[j].RTPStart })
	return out
}
