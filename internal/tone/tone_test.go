// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package tone

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticMinuteWithTone builds a minute-plus-margin buffer of a
// unit carrier with low-level noise, and amplitude-modulates a clean
// WWV-style tone at freqHz onto it for toneDurationSec starting at
// arrivalMs past the minute boundary, so the tone shows up in the AM
// envelope the detector correlates against.
func syntheticMinuteWithTone(sampleRateHz int, freqHz, toneDurationSec, arrivalMs float64) ([]complex64, int) {
	const marginSec = 1.0
	total := int((60 + 2*marginSec) * float64(sampleRateHz))
	buf := make([]complex64, total)

	// Low-level deterministic pseudo-noise so the noise floor isn't zero.
	for i := range buf {
		n := math.Sin(float64(i)*0.0137) * 0.01
		buf[i] = complex(float32(1+n), float32(-n))
	}

	boundaryIdx := int(marginSec * float64(sampleRateHz))
	arrivalIdx := boundaryIdx + int(arrivalMs/1000*float64(sampleRateHz))
	toneLen := int(toneDurationSec * float64(sampleRateHz))

	for i := 0; i < toneLen && arrivalIdx+i < len(buf); i++ {
		phase := 2 * math.Pi * freqHz * float64(i) / float64(sampleRateHz)
		buf[arrivalIdx+i] *= complex(float32(1+0.5*math.Sin(phase)), 0)
	}

	return buf, boundaryIdx
}

func TestDetectFindsInsertedTone(t *testing.T) {
	const sampleRate = 20000
	buf, boundaryIdx := syntheticMinuteWithTone(sampleRate, 1000, 0.8, 15)

	d := NewDetector(sampleRate)
	det, err := d.Detect("WWV", buf, boundaryIdx, 15, 500)
	require.NoError(t, err)

	assert.InDelta(t, 15.0, det.ArrivalOffsetMs, 2.0)
	assert.True(t, det.Accepted, "reason: %s", det.Reason)
	assert.GreaterOrEqual(t, det.SNRdB, 6.0)
}

func TestDetectRejectsImplausibleArrival(t *testing.T) {
	const sampleRate = 20000
	// Tone arrives at 100ms, well outside WWV's 0-30ms plausibility band.
	buf, boundaryIdx := syntheticMinuteWithTone(sampleRate, 1000, 0.8, 100)

	d := NewDetector(sampleRate)
	det, err := d.Detect("WWV", buf, boundaryIdx, 100, 500)
	require.NoError(t, err)
	assert.False(t, det.Accepted)
}

func TestDetectUnknownStation(t *testing.T) {
	d := NewDetector(20000)
	_, err := d.Detect("BOGUS", make([]complex64, 20000*62), 20000, 15, 500)
	assert.ErrorIs(t, err, ErrUnknownStation)
}

// TestDetectIdempotence is spec.md §8 "Tone-detector idempotence":
// applying the detector twice to the same buffer yields the same peak
// location, SNR, and sub-sample offset bit-for-bit.
func TestDetectIdempotence(t *testing.T) {
	const sampleRate = 20000
	buf, boundaryIdx := syntheticMinuteWithTone(sampleRate, 1000, 0.8, 12)

	d := NewDetector(sampleRate)
	first, err := d.Detect("WWV", buf, boundaryIdx, 12, 500)
	require.NoError(t, err)
	second, err := d.Detect("WWV", buf, boundaryIdx, 12, 500)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestBCDTemplateRoundTripCorrelatesWithItself(t *testing.T) {
	minute := time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC)
	tmpl := EncodeMinute(minute, 100)

	corr := tmpl.Correlate(tmpl.Envelope)
	assert.InDelta(t, 1.0, corr, 1e-9)
}

func TestBCDTemplateDiffersAcrossMinutes(t *testing.T) {
	a := EncodeMinute(time.Date(2026, 7, 30, 14, 30, 0, 0, time.UTC), 100)
	b := EncodeMinute(time.Date(2026, 7, 30, 14, 31, 0, 0, time.UTC), 100)

	corr := a.Correlate(b.Envelope)
	assert.Less(t, corr, 0.999)
}
