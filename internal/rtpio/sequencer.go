// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package rtpio

import "fmt"

// ringSize is the resequencer's pending-packet ring capacity (spec.md §3
// Resequencer state: "a small ring of up to 64 pending packets").
const ringSize = 64

// GapInterval is the half-open sample range [RTPStart, RTPStart+Length)
// zero-filled by the resequencer, recorded for the archive sidecar
// (spec.md §3 GapInterval).
type GapInterval struct {
	RTPStart     uint32
	Length       uint32
	PacketsLost  int
	FillPolicy   string
}

// SampleBlock is a contiguous run of complex samples belonging to one
// channel, tagged with the RTP timestamp of its first sample (spec.md §3
// Sample block). WallclockNanos is a system-clock capture at packet
// arrival, zero for synthetic gap-fill blocks.
type SampleBlock struct {
	RTPTimestamp   uint32
	Samples        []complex64
	WallclockNanos int64
}

type pendingPacket struct {
	valid     bool
	seq       uint16
	rtpStart  uint32
	samples   []complex64
}

// Sequencer reorders a per-SSRC packet stream into gap-annotated,
// monotonically increasing sample blocks. One instance per channel
// (spec.md §3 Resequencer state, §4.1 "Resequencer algorithm").
type Sequencer struct {
	ring     [ringSize]pendingPacket
	expected uint16 // next expected sequence number
	haveSeq  bool
	nextRTP  uint32 // running RTP timestamp of the next sample to emit
	haveRTP  bool

	sampleRate int
	maxGap     uint32 // max_gap_samples: large forward jumps beyond this trigger a resync

	// Counters surfaced via the archive sidecar's stream-health fields.
	PacketsReceived int
	PacketsDropped  int
	PacketsOOO      int
	Resyncs         int
}

// NewSequencer constructs a resequencer for a channel sampled at
// sampleRate Hz. maxGapSeconds bounds how far ahead a sequence number may
// jump before being treated as a resync rather than a fillable gap
// (default 60s worth of samples per spec.md §4.1 step 5).
func NewSequencer(sampleRate int, maxGapSeconds float64) *Sequencer {
	if maxGapSeconds <= 0 {
		maxGapSeconds = 60
	}
	return &Sequencer{
		sampleRate: sampleRate,
		maxGap:     uint32(maxGapSeconds * float64(sampleRate)),
	}
}

// Emit is called by the caller's driver loop for each value the
// resequencer produces when processing one packet: zero or more gap
// intervals followed by zero or one sample block.
type Emit struct {
	Gap   *GapInterval
	Block *SampleBlock
}

// Push feeds one received packet (already decoded to complex samples) into
// the resequencer, returning the sequence of emits it produces. Ordering
// guarantee: emitted blocks, concatenated with their gap-fills, are
// sample-contiguous and monotonically non-decreasing in RTP timestamp; the
// caller never sees the same packet twice (spec.md §4.1 algorithm, §8
// Resequencer integrity).
func (s *Sequencer) Push(seq uint16, rtpTimestamp uint32, samples []complex64, wallclockNanos int64) []Emit {
	s.PacketsReceived++

	if !s.haveSeq {
		s.haveSeq = true
		s.expected = seq + 1
		s.nextRTP = rtpTimestamp + uint32(len(samples))
		s.haveRTP = true
		return []Emit{{Block: &SampleBlock{RTPTimestamp: rtpTimestamp, Samples: samples, WallclockNanos: wallclockNanos}}}
	}

	delta := int32(int16(seq - s.expected))

	switch {
	case delta == 0:
		return s.advance(seq, rtpTimestamp, samples, wallclockNanos)

	case delta < 0:
		// Older than running sequence: drop, count as out-of-order.
		s.PacketsOOO++
		return nil

	case delta > 0 && delta < ringSize:
		// Ahead but within the ring: buffer and try to drain.
		slot := int(seq) % ringSize
		s.ring[slot] = pendingPacket{valid: true, seq: seq, rtpStart: rtpTimestamp, samples: samples}
		return s.drainRing()

	default:
		// Beyond ring capacity or an implausible jump: declare the gap lost
		// and, if it's a truly large jump, resync the ring entirely.
		if gapSamples(rtpTimestamp, s.nextRTP) > s.maxGap {
			return s.resync(seq, rtpTimestamp, samples, wallclockNanos)
		}
		return s.forceGapThenEmit(seq, rtpTimestamp, samples, wallclockNanos)
	}
}

func gapSamples(to, from uint32) uint32 {
	if to >= from {
		return to - from
	}
	return 0
}

// advance handles the in-order fast path: emit immediately and move the
// expected sequence and running RTP timestamp forward.
func (s *Sequencer) advance(seq uint16, rtpTimestamp uint32, samples []complex64, wallclockNanos int64) []Emit {
	emits := s.gapIfNeeded(rtpTimestamp)
	emits = append(emits, Emit{Block: &SampleBlock{RTPTimestamp: rtpTimestamp, Samples: samples, WallclockNanos: wallclockNanos}})
	s.nextRTP = rtpTimestamp + uint32(len(samples))
	s.expected = seq + 1
	return append(emits, s.drainRing()...)
}

// gapIfNeeded emits a GapInterval if rtpTimestamp is ahead of the running
// position, e.g. because earlier packets were dropped outright.
func (s *Sequencer) gapIfNeeded(rtpTimestamp uint32) []Emit {
	if !s.haveRTP {
		s.nextRTP = rtpTimestamp
		s.haveRTP = true
		return nil
	}
	if rtpTimestamp == s.nextRTP {
		return nil
	}
	if int32(rtpTimestamp-s.nextRTP) <= 0 {
		// Overlapping/backwards in sample-space; nothing to fill.
		return nil
	}
	length := rtpTimestamp - s.nextRTP
	gap := GapInterval{RTPStart: s.nextRTP, Length: length, PacketsLost: estimatePacketsLost(length, s.sampleRate), FillPolicy: "zero-fill"}
	return []Emit{{Gap: &gap}}
}

// drainRing pulls buffered packets out of the ring in order for as long as
// the expected sequence number keeps being found.
func (s *Sequencer) drainRing() []Emit {
	var emits []Emit
	for {
		slot := int(s.expected) % ringSize
		p := s.ring[slot]
		if !p.valid || p.seq != s.expected {
			break
		}
		s.ring[slot] = pendingPacket{}
		emits = append(emits, s.gapIfNeeded(p.rtpStart)...)
		emits = append(emits, Emit{Block: &SampleBlock{RTPTimestamp: p.rtpStart, Samples: p.samples}})
		s.nextRTP = p.rtpStart + uint32(len(p.samples))
		s.expected++
	}
	return emits
}

// forceGapThenEmit handles a forward jump beyond the ring but within
// max_gap_samples: emit a gap spanning the jump, then the packet itself.
func (s *Sequencer) forceGapThenEmit(seq uint16, rtpTimestamp uint32, samples []complex64, wallclockNanos int64) []Emit {
	emits := s.gapIfNeeded(rtpTimestamp)
	emits = append(emits, Emit{Block: &SampleBlock{RTPTimestamp: rtpTimestamp, Samples: samples, WallclockNanos: wallclockNanos}})
	s.nextRTP = rtpTimestamp + uint32(len(samples))
	s.expected = seq + 1
	return append(emits, s.drainRing()...)
}

// resync flushes the ring and treats the jump as a clean resync point
// rather than an ordinary gap (spec.md §4.1 step 5).
func (s *Sequencer) resync(seq uint16, rtpTimestamp uint32, samples []complex64, wallclockNanos int64) []Emit {
	s.Resyncs++
	for i := range s.ring {
		s.ring[i] = pendingPacket{}
	}
	emits := s.gapIfNeeded(rtpTimestamp)
	emits = append(emits, Emit{Block: &SampleBlock{RTPTimestamp: rtpTimestamp, Samples: samples, WallclockNanos: wallclockNanos}})
	s.nextRTP = rtpTimestamp + uint32(len(samples))
	s.expected = seq + 1
	return emits
}

func estimatePacketsLost(gapSamples uint32, sampleRate int) int {
	// ka9q-radio's typical IQ packet carries ~20ms of samples at 20kHz;
	// used only as an approximate stream-health counter.
	const packetDurationMs = 20
	packetSamples := sampleRate * packetDurationMs / 1000
	if packetSamples <= 0 {
		return 0
	}
	n := int(gapSamples) / packetSamples
	if n == 0 && gapSamples > 0 {
		n = 1
	}
	return n
}

// Stats is a snapshot of the resequencer's stream-health counters.
type Stats struct {
	PacketsReceived int
	PacketsDropped  int
	PacketsOOO      int
	Resyncs         int
}

// RecordDropped counts a packet the ingress socket discarded under
// backpressure before it ever reached the sequencer (spec.md §5
// Backpressure). The resulting gap is reconstructed the next time a
// packet with a higher RTP timestamp arrives.
func (s *Sequencer) RecordDropped(n int) {
	s.PacketsDropped += n
}

func (s *Sequencer) Stats() Stats {
	return Stats{
		PacketsReceived: s.PacketsReceived,
		PacketsDropped:  s.PacketsDropped,
		PacketsOOO:      s.PacketsOOO,
		Resyncs:         s.Resyncs,
	}
}

func (g GapInterval) String() string {
	return fmt.Sprintf("gap[%d,%d) len=%d lost=%d policy=%s", g.RTPStart, g.RTPStart+g.Length, g.Length, g.PacketsLost, g.FillPolicy)
}
