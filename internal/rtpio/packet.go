// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package rtpio implements §4.1 of the specification: one UDP multicast
// socket per SDR data group, RTP header parsing and IQ payload decode,
// per-SSRC dispatch, and the resequencer that turns a packet stream into a
// contiguous, gap-annotated sample timeline.
package rtpio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pion/rtp"
)

// Encoding identifies how a packet's payload bytes decode into complex
// samples (spec.md §3 RTP packet header).
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingInt16IQ
	EncodingFloat32IQ
)

func (e Encoding) String() string {
	switch e {
	case EncodingInt16IQ:
		return "int16-iq"
	case EncodingFloat32IQ:
		return "float32-iq"
	default:
		return "unknown"
	}
}

// Well-known static payload types used by ka9q-radio for IQ/audio encodings.
const (
	PayloadTypeInt16A   uint8 = 97
	PayloadTypeInt16B   uint8 = 120
	PayloadTypeFloat32A uint8 = 11
)

// ErrDecodeInvalid is returned for a malformed RTP header or a payload
// length inconsistent with its declared encoding (spec.md §7 DecodeInvalid).
var ErrDecodeInvalid = errors.New("rtpio: invalid packet")

// Header is the subset of the RTP fixed header (plus CSRC/extension, which
// are parsed then discarded) the pipeline needs downstream.
type Header struct {
	SequenceNumber uint16
	Timestamp      uint32 // RTP timestamp: the sample-index counter
	SSRC           uint32
	PayloadType    uint8
	Marker         bool
}

// ParsePacket parses an RTP datagram and classifies its payload encoding.
// CSRC lists and extension headers are skipped per spec.md §4.1; a packet
// whose computed payload offset exceeds the datagram length is rejected as
// ErrDecodeInvalid.
func ParsePacket(buf []byte) (Header, []byte, Encoding, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return Header{}, nil, EncodingUnknown, fmt.Errorf("%w: %v", ErrDecodeInvalid, err)
	}

	h := Header{
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		PayloadType:    pkt.PayloadType,
		Marker:         pkt.Marker,
	}

	enc := ClassifyPayloadType(h.PayloadType, pkt.Payload)
	if enc == EncodingUnknown {
		return h, nil, EncodingUnknown, fmt.Errorf("%w: unhandled payload type %d", ErrDecodeInvalid, h.PayloadType)
	}

	return h, pkt.Payload, enc, nil
}

// ClassifyPayloadType identifies int16 interleaved IQ or float32 interleaved
// IQ payloads. Static types are recognized directly; dynamic types in
// [96,127] fall back to inspecting payload length and magnitude
// distribution, per spec.md §4.1.
func ClassifyPayloadType(pt uint8, payload []byte) Encoding {
	switch pt {
	case PayloadTypeInt16A, PayloadTypeInt16B:
		return EncodingInt16IQ
	case PayloadTypeFloat32A:
		return EncodingFloat32IQ
	}

	if pt < 96 || pt > 127 {
		return EncodingUnknown
	}
	return sniffDynamicEncoding(payload)
}

// sniffDynamicEncoding distinguishes int16 from float32 interleaved IQ for
// a dynamic payload type by testing whether the bytes divide evenly into
// 8-byte (float32 I/Q pair) frames and whether interpreting them as float32
// gives plausible (bounded, non-NaN) magnitudes; int16 is the fallback.
func sniffDynamicEncoding(payload []byte) Encoding {
	if len(payload)%8 == 0 && len(payload) >= 32 {
		plausible := 0
		samples := len(payload) / 4 // words, I and Q interleaved
		checked := min(samples, 16)
		for i := 0; i < checked; i++ {
			bits := binary.LittleEndian.Uint32(payload[i*4:])
			f := math.Float32frombits(bits)
			if !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0) && math.Abs(float64(f)) <= 8.0 {
				plausible++
			}
		}
		if plausible == checked {
			return EncodingFloat32IQ
		}
	}
	if len(payload)%4 == 0 {
		return EncodingInt16IQ
	}
	return EncodingUnknown
}

// DecodeIQ normalizes a payload of the given encoding to complex64 (I in
// the real part, Q in the imaginary part), full scale 1.0.
func DecodeIQ(payload []byte, enc Encoding) ([]complex64, error) {
	switch enc {
	case EncodingInt16IQ:
		return decodeInt16IQ(payload)
	case EncodingFloat32IQ:
		return decodeFloat32IQ(payload)
	default:
		return nil, fmt.Errorf("%w: cannot decode unknown encoding", ErrDecodeInvalid)
	}
}

func decodeInt16IQ(payload []byte) ([]complex64, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: int16 IQ payload length %d not multiple of 4", ErrDecodeInvalid, len(payload))
	}
	n := len(payload) / 4
	out := make([]complex64, n)
	const scale = 1.0 / 32768.0
	for i := 0; i < n; i++ {
		iRaw := int16(binary.LittleEndian.Uint16(payload[i*4:]))
		qRaw := int16(binary.LittleEndian.Uint16(payload[i*4+2:]))
		out[i] = complex(float32(iRaw)*scale, float32(qRaw)*scale)
	}
	return out, nil
}

func decodeFloat32IQ(payload []byte) ([]complex64, error) {
	if len(payload)%8 != 0 {
		return nil, fmt.Errorf("%w: float32 IQ payload length %d not multiple of 8", ErrDecodeInvalid, len(payload))
	}
	n := len(payload) / 8
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		iBits := binary.LittleEndian.Uint32(payload[i*8:])
		qBits := binary.LittleEndian.Uint32(payload[i*8+4:])
		out[i] = complex(math.Float32frombits(iBits), math.Float32frombits(qBits))
	}
	return out, nil
}
