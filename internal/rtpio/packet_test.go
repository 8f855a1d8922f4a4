// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package rtpio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalTestPacket(t *testing.T, pt uint8, seq uint16, ts uint32, ssrc uint32, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)
	return buf
}

func TestParsePacketInt16(t *testing.T) {
	payload := make([]byte, 8) // 2 complex samples
	binary.LittleEndian.PutUint16(payload[0:], uint16(int16(100)))
	binary.LittleEndian.PutUint16(payload[2:], uint16(int16(-200)))
	buf := marshalTestPacket(t, PayloadTypeInt16A, 42, 1000, 0xdead, payload)

	h, p, enc, err := ParsePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, EncodingInt16IQ, enc)
	assert.Equal(t, uint16(42), h.SequenceNumber)
	assert.Equal(t, uint32(1000), h.Timestamp)
	assert.Equal(t, uint32(0xdead), h.SSRC)

	samples, err := DecodeIQ(p, enc)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.InDelta(t, 100.0/32768.0, real(samples[0]), 1e-9)
	assert.InDelta(t, -200.0/32768.0, imag(samples[0]), 1e-9)
}

func TestParsePacketFloat32(t *testing.T) {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint32(payload[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(payload[4:], math.Float32bits(-0.25))
	buf := marshalTestPacket(t, PayloadTypeFloat32A, 1, 0, 0x1, payload)

	h, p, enc, err := ParsePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, EncodingFloat32IQ, enc)

	samples, err := DecodeIQ(p, enc)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.5, real(samples[0]), 1e-6)
	assert.InDelta(t, -0.25, imag(samples[0]), 1e-6)
	_ = h
}

func TestClassifyDynamicPayloadTypeFallsBackToInt16(t *testing.T) {
	// Odd-length-of-4 payload that isn't a clean float32 candidate.
	payload := make([]byte, 12)
	enc := ClassifyPayloadType(100, payload)
	assert.Equal(t, EncodingInt16IQ, enc)
}

func TestClassifyOutOfRangePayloadType(t *testing.T) {
	assert.Equal(t, EncodingUnknown, ClassifyPayloadType(200, nil))
}

func TestParsePacketTruncatedIsInvalid(t *testing.T) {
	_, _, _, err := ParsePacket([]byte{0x80, 0x61})
	require.Error(t, err)
}
