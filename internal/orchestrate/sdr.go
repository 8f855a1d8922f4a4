// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import "github.com/gracentral/grapetime/internal/rtpio"

// SDRChannel is one entry of the SDR's discover_channels() table
// (spec.md §6).
type SDRChannel struct {
	SSRC        uint32
	FrequencyHz float64
	Preset      string
	SampleRate  int
	Destination string // "host:port" multicast destination
	Encoding    rtpio.Encoding
	GPSTime     float64 // Unix seconds; zero if no anchor yet
	RTPTime     uint32
}

// SDRController is the subset of the SDR control protocol (spec.md §6)
// the channel lifecycle needs. internal/sdrctl.Client implements it;
// defined here, at the consumer, so orchestrate depends only on the
// shape of the calls it actually makes.
type SDRController interface {
	DiscoverChannels() ([]SDRChannel, error)
	CreateChannel(freqHz float64, preset string, sampleRate int, destination string, encoding rtpio.Encoding) (ssrc uint32, err error)
	Tune(ssrc uint32, preset string, sampleRate int) error
	SetOutputEncoding(ssrc uint32, encoding rtpio.Encoding) error
	RemoveChannel(ssrc uint32) error
}

// ownedByUs reports whether ch is a channel the core may reconfigure:
// either it does not exist yet, or its destination matches ours
// (spec.md §6 "Anti-hijacking rule").
func ownedByUs(ch *SDRChannel, ourDestination string) bool {
	return ch == nil || ch.Destination == ourDestination
}

// findChannel locates the table entry at freqHz, if any.
func findChannel(table []SDRChannel, freqHz float64) *SDRChannel {
	for i := range table {
		if table[i].FrequencyHz == freqHz {
			return &table[i]
		}
	}
	return nil
}

// ensureChannel implements spec.md §4.10 per-channel lifecycle step 1:
// create a channel at freqHz/destination if absent, leave alone and
// create a new one if the existing entry belongs to another client, or
// reuse the existing SSRC if it is already ours.
func ensureChannel(sdr SDRController, freqHz float64, preset string, sampleRate int, destination string, encoding rtpio.Encoding) (uint32, error) {
	table, err := sdr.DiscoverChannels()
	if err != nil {
		return 0, err
	}

	existing := findChannel(table, freqHz)
	if existing != nil && ownedByUs(existing, destination) {
		if existing.SampleRate != sampleRate || existing.Preset != preset {
			if err := sdr.Tune(existing.SSRC, preset, sampleRate); err != nil {
				return 0, err
			}
		}
		if existing.Encoding != encoding {
			if err := sdr.SetOutputEncoding(existing.SSRC, encoding); err != nil {
				return 0, err
			}
		}
		return existing.SSRC, nil
	}

	return sdr.CreateChannel(freqHz, preset, sampleRate, destination, encoding)
}
