// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package tone

import (
	"math"
	"time"
)

// bcdPositionMarkers are the seconds-within-minute carrying an 800ms
// position-marker pulse rather than a data bit, per WWV/WWVH's IRIG-H
// time code.
var bcdPositionMarkers = map[int]bool{0: true, 9: true, 19: true, 29: true, 39: true, 49: true, 59: true}

const (
	bcdMarkerHighDb = -6.0
	bcdMarkerLowDb  = -20.0
)

// BCDTemplate is a reference WWV/WWVH 100 Hz BCD subcarrier envelope for
// one UTC minute, used for station discrimination's BCD cross-
// correlation (spec.md §4.5).
type BCDTemplate struct {
	SampleRate int
	Minute     time.Time
	Envelope   []float64 // 60 seconds of envelope, before 100 Hz modulation
	Modulated  []float64 // envelope x 100 Hz carrier
}

// EncodeMinute builds the 60-second IRIG-H BCD template for the UTC
// minute containing minuteBoundary (minute, hour, day-of-year, and
// 2-digit year are little-endian BCD encoded, one field per block of
// seconds, matching the WWV/WWVH time-code layout).
func EncodeMinute(minuteBoundary time.Time, sampleRateHz int) *BCDTemplate {
	dt := minuteBoundary.UTC()
	pattern := bcdPattern(dt.Minute(), dt.Hour(), dt.YearDay(), dt.Year()%100)
	envelope := patternToEnvelope(pattern, sampleRateHz)
	modulated := applyCarrier(envelope, sampleRateHz, 100)

	return &BCDTemplate{
		SampleRate: sampleRateHz,
		Minute:     dt.Truncate(time.Minute),
		Envelope:   envelope,
		Modulated:  modulated,
	}
}

func encodeBCDDigitLE(value int, code []int, start int) {
	for i := 0; i < 4; i++ {
		code[start+i] = value & 1
		value >>= 1
	}
}

// bcdPattern returns a 60-element slice, one bit per second (0 for
// position-marker/unused seconds), following Phil Karn's wwvsim.c
// maketimecode() layout: year ones at 4-7, year tens at 51-54, minute
// ones at 10-13, minute tens at 15-17, hour ones at 20-23, hour tens at
// 25-26, day-of-year ones/tens/hundreds at 30-33/35-38/40-41.
func bcdPattern(minute, hour, dayOfYear, year int) []int {
	code := make([]int, 60)

	encodeBCDDigitLE(year%10, code, 4)
	encodeBCDDigitLE((year/10)%10, code, 51)

	encodeBCDDigitLE(minute%10, code, 10)
	encodeBCDDigitLE(minute/10, code, 15)

	encodeBCDDigitLE(hour%10, code, 20)
	encodeBCDDigitLE(hour/10, code, 25)

	encodeBCDDigitLE(dayOfYear%10, code, 30)
	encodeBCDDigitLE((dayOfYear/10)%10, code, 35)
	encodeBCDDigitLE(dayOfYear/100, code, 40)

	return code
}

// patternToEnvelope converts the 60-element bit pattern into a
// 60-second amplitude envelope: each second carries one HIGH/LOW pulse
// whose width encodes a 0 bit (200ms), a 1 bit (500ms), or a position
// marker (800ms).
func patternToEnvelope(pattern []int, sampleRateHz int) []float64 {
	highAmp := math.Pow(10, bcdMarkerHighDb/20)
	lowAmp := math.Pow(10, bcdMarkerLowDb/20)

	out := make([]float64, 60*sampleRateHz)
	for second := 1; second < 60; second++ {
		start := second * sampleRateHz
		end := start + sampleRateHz

		var highSec float64
		switch {
		case bcdPositionMarkers[second]:
			highSec = 0.8
		case pattern[second] == 1:
			highSec = 0.5
		default:
			highSec = 0.2
		}

		highLen := int(highSec * float64(sampleRateHz))
		for i := start; i < start+highLen && i < end; i++ {
			out[i] = highAmp
		}
		for i := start + highLen; i < end; i++ {
			out[i] = lowAmp
		}
	}
	return out
}

func applyCarrier(envelope []float64, sampleRateHz int, carrierHz float64) []float64 {
	out := make([]float64, len(envelope))
	for i, e := range envelope {
		t := float64(i) / float64(sampleRateHz)
		out[i] = e * math.Sin(2*math.Pi*carrierHz*t)
	}
	return out
}

// Correlate computes the normalized cross-correlation coefficient
// between the station's demodulated BCD envelope and this template's
// envelope, used by station discrimination's BCD method (spec.md §4.5).
// Both slices must be the same length (one minute at the template's
// sample rate).
func (b *BCDTemplate) Correlate(observedEnvelope []float64) float64 {
	n := len(b.Envelope)
	if len(observedEnvelope) < n {
		n = len(observedEnvelope)
	}

	var sumXY, sumXX, sumYY float64
	for i := 0; i < n; i++ {
		x := b.Envelope[i]
		y := observedEnvelope[i]
		sumXY += x * y
		sumXX += x * x
		sumYY += y * y
	}
	denom := math.Sqrt(sumXX * sumYY)
	if denom == 0 {
		return 0
	}
	return sumXY / denom
}
