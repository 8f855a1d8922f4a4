// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gracentral/grapetime/internal/rtpio"
)

type fakeSDR struct {
	table          []SDRChannel
	createCalls    int
	createdSSRC    uint32
	tuneCalls      int
	reencodeCalls  int
}

func (f *fakeSDR) DiscoverChannels() ([]SDRChannel, error) { return f.table, nil }

func (f *fakeSDR) CreateChannel(freqHz float64, preset string, sampleRate int, destination string, encoding rtpio.Encoding) (uint32, error) {
	f.createCalls++
	f.createdSSRC = 9999
	f.table = append(f.table, SDRChannel{SSRC: f.createdSSRC, FrequencyHz: freqHz, Preset: preset, SampleRate: sampleRate, Destination: destination, Encoding: encoding})
	return f.createdSSRC, nil
}

func (f *fakeSDR) Tune(ssrc uint32, preset string, sampleRate int) error {
	f.tuneCalls++
	return nil
}

func (f *fakeSDR) SetOutputEncoding(ssrc uint32, encoding rtpio.Encoding) error {
	f.reencodeCalls++
	return nil
}

func (f *fakeSDR) RemoveChannel(ssrc uint32) error { return nil }

func TestEnsureChannelCreatesWhenAbsent(t *testing.T) {
	f := &fakeSDR{}
	ssrc, err := ensureChannel(f, 10e6, "wide", 20000, "239.1.2.3:5004", rtpio.EncodingFloat32IQ)
	require.NoError(t, err)
	assert.Equal(t, uint32(9999), ssrc)
	assert.Equal(t, 1, f.createCalls)
}

func TestEnsureChannelReusesOwnedChannel(t *testing.T) {
	f := &fakeSDR{table: []SDRChannel{
		{SSRC: 42, FrequencyHz: 10e6, Preset: "wide", SampleRate: 20000, Destination: "239.1.2.3:5004", Encoding: rtpio.EncodingFloat32IQ},
	}}
	ssrc, err := ensureChannel(f, 10e6, "wide", 20000, "239.1.2.3:5004", rtpio.EncodingFloat32IQ)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), ssrc)
	assert.Equal(t, 0, f.createCalls)
}

func TestEnsureChannelLeavesForeignChannelAloneAndCreatesNew(t *testing.T) {
	f := &fakeSDR{table: []SDRChannel{
		{SSRC: 7, FrequencyHz: 10e6, Preset: "wide", SampleRate: 20000, Destination: "239.9.9.9:5004", Encoding: rtpio.EncodingFloat32IQ},
	}}
	ssrc, err := ensureChannel(f, 10e6, "wide", 20000, "239.1.2.3:5004", rtpio.EncodingFloat32IQ)
	require.NoError(t, err)
	assert.Equal(t, uint32(9999), ssrc)
	assert.Equal(t, 1, f.createCalls)
}

func TestEnsureChannelRetunesOwnedChannelOnParamChange(t *testing.T) {
	f := &fakeSDR{table: []SDRChannel{
		{SSRC: 42, FrequencyHz: 10e6, Preset: "wide", SampleRate: 10000, Destination: "239.1.2.3:5004", Encoding: rtpio.EncodingFloat32IQ},
	}}
	_, err := ensureChannel(f, 10e6, "wide", 20000, "239.1.2.3:5004", rtpio.EncodingFloat32IQ)
	require.NoError(t, err)
	assert.Equal(t, 1, f.tuneCalls)
	assert.Equal(t, 0, f.createCalls)
}
