// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package tone implements spec.md §4.4's matched-filter timing-tone
// detector: quadrature correlation against per-station tone templates,
// sub-sample peak refinement, and an SNR estimate gated by a plausible
// propagation-delay band.
package tone

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// ErrUnknownStation is returned when Detect is asked for a station with
// no registered template.
var ErrUnknownStation = errors.New("tone: unknown station")

// plausibilityBand is a station's expected propagation-delay window in
// milliseconds from a CONUS-ish receiver, per spec.md §4.4 step 6.
type plausibilityBand struct {
	minMs, maxMs float64
}

var defaultBands = map[string]plausibilityBand{
	"WWV":  {minMs: 0, maxMs: 30},
	"WWVH": {minMs: 5, maxMs: 35},
	"CHU":  {minMs: 0, maxMs: 20},
}

// Template is a precomputed quadrature (sine/cosine) pair for one
// station's timing tone, windowed and unit-energy normalized.
type Template struct {
	Station     string
	FreqHz      float64
	DurationSec float64
	SampleRate  int
	Sin         []float64
	Cos         []float64
}

func tukeyWindow(n int, alpha float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	taper := int(alpha * float64(n-1) / 2)
	for i := range w {
		switch {
		case i < taper:
			w[i] = 0.5 * (1 + math.Cos(math.Pi*(float64(i)/float64(taper)-1)))
		case i >= n-taper:
			w[i] = 0.5 * (1 + math.Cos(math.Pi*(float64(i-(n-1-taper))/float64(taper))))
		default:
			w[i] = 1
		}
	}
	return w
}

func normalizeUnitEnergy(v []float64) {
	var energy float64
	for _, x := range v {
		energy += x * x
	}
	if energy == 0 {
		return
	}
	norm := math.Sqrt(energy)
	for i := range v {
		v[i] /= norm
	}
}

// NewTemplate builds a unit-energy, Tukey-windowed (alpha=0.1) quadrature
// template for a tone at freqHz lasting durationSec at sampleRateHz.
func NewTemplate(station string, freqHz, durationSec float64, sampleRateHz int) *Template {
	n := int(durationSec * float64(sampleRateHz))
	window := tukeyWindow(n, 0.1)
	sin := make([]float64, n)
	cos := make([]float64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * freqHz * float64(i) / float64(sampleRateHz)
		sin[i] = math.Sin(phase) * window[i]
		cos[i] = math.Cos(phase) * window[i]
	}
	normalizeUnitEnergy(sin)
	normalizeUnitEnergy(cos)
	return &Template{Station: station, FreqHz: freqHz, DurationSec: durationSec, SampleRate: sampleRateHz, Sin: sin, Cos: cos}
}

// Detection is the matched filter's output for one station in one
// minute buffer (spec.md §4.4).
type Detection struct {
	Station         string
	PeakSampleIndex int
	SubSampleOffset float64 // fractional-sample refinement, in samples
	ArrivalOffsetMs float64 // offset from the minute (second) boundary
	PeakMagnitude   float64
	SNRdB           float64
	SNRInBandDb     float64
	Accepted        bool
	Reason          string
	UseForTimeSnap  bool // spec.md §3 ToneDetection: may this detection seed the time anchor
}

// timeSnapSNRDb is the stricter SNR floor (above the 6 dB acceptance
// threshold) a detection must clear before it is trusted to seed a new
// time anchor, per spec.md §8 scenario 1's worked example (SNR >= 15 dB).
const timeSnapSNRDb = 15.0

// Detector runs the matched-filter algorithm for a fixed set of station
// templates at a given sample rate. It holds no mutable state across
// calls: each Detect call is a pure function of its inputs, per spec.md
// §4.4's stated concurrency model.
type Detector struct {
	sampleRate int
	templates  map[string]*Template
	bands      map[string]plausibilityBand
}

// NewDetector builds the standard WWV/WWVH/CHU tone templates at
// sampleRateHz (spec.md §4.4's three (station, frequency, duration)
// triples).
func NewDetector(sampleRateHz int) *Detector {
	return &Detector{
		sampleRate: sampleRateHz,
		templates: map[string]*Template{
			"WWV":  NewTemplate("WWV", 1000, 0.8, sampleRateHz),
			"WWVH": NewTemplate("WWVH", 1200, 0.8, sampleRateHz),
			"CHU":  NewTemplate("CHU", 1000, 0.5, sampleRateHz),
		},
		bands: defaultBands,
	}
}

// Envelope computes the AM envelope of complex IQ samples with its mean
// removed (spec.md §4.4 step 1). Exported so station discrimination's
// BCD correlation (spec.md §4.5) can derive the same envelope from a
// minute buffer without redoing the magnitude/demean pass.
func Envelope(iq []complex64) []float64 {
	out := make([]float64, len(iq))
	var mean float64
	for i, s := range iq {
		m := math.Hypot(float64(real(s)), float64(imag(s)))
		out[i] = m
		mean += m
	}
	mean /= float64(len(out))
	for i := range out {
		out[i] -= mean
	}
	return out
}

func dot(a, b []float64, offset int) float64 {
	var acc float64
	for i, t := range a {
		acc += t * b[offset+i]
	}
	return acc
}

// Detect searches minuteBuf (a buffer spanning at least one minute of IQ
// at the detector's sample rate) for station's tone, expected at
// expectedOffsetMs from the buffer's minute boundary (sample index
// minuteBoundaryIdx), within +/-halfWidthMs (spec.md §4.4 steps 1-7).
func (d *Detector) Detect(station string, minuteBuf []complex64, minuteBoundaryIdx int, expectedOffsetMs, halfWidthMs float64) (Detection, error) {
	tmpl, ok := d.templates[station]
	if !ok {
		return Detection{}, ErrUnknownStation
	}

	env := Envelope(minuteBuf)
	m := len(tmpl.Sin)

	halfWidthSamples := int(halfWidthMs / 1000 * float64(d.sampleRate))
	expectedIdx := minuteBoundaryIdx + int(expectedOffsetMs/1000*float64(d.sampleRate))

	lo := expectedIdx - halfWidthSamples
	hi := expectedIdx + halfWidthSamples
	if lo < 0 {
		lo = 0
	}
	if hi > len(env)-m {
		hi = len(env) - m
	}
	if hi <= lo {
		return Detection{Station: station, Accepted: false, Reason: "search window out of range"}, nil
	}

	mags := make([]float64, hi-lo+1)
	bestIdx, bestMag := lo, -1.0
	for lag := lo; lag <= hi; lag++ {
		cSin := dot(tmpl.Sin, env, lag)
		cCos := dot(tmpl.Cos, env, lag)
		mag := math.Hypot(cSin, cCos)
		mags[lag-lo] = mag
		if mag > bestMag {
			bestMag = mag
			bestIdx = lag
		}
	}

	subSample := parabolicRefine(mags, bestIdx-lo)

	// Noise floor from a wider surrounding region, excluding the search
	// window (spec.md §4.4 step 5).
	noiseMags := noiseRegionMagnitudes(tmpl, env, lo, hi, d.sampleRate)
	noiseFloor := robustNoiseFloor(noiseMags)

	snrDb := -math.Inf(1)
	if noiseFloor > 0 {
		snrDb = 20 * math.Log10(bestMag/noiseFloor)
	}

	arrivalSamples := float64(bestIdx-minuteBoundaryIdx) + subSample
	arrivalMs := arrivalSamples / float64(d.sampleRate) * 1000

	snrInBand := d.inBandSNR(env, bestIdx, tmpl)

	det := Detection{
		Station:         station,
		PeakSampleIndex: bestIdx,
		SubSampleOffset: subSample,
		ArrivalOffsetMs: arrivalMs,
		PeakMagnitude:   bestMag,
		SNRdB:           snrDb,
		SNRInBandDb:     snrInBand,
	}

	band, hasBand := d.bands[station]
	switch {
	case snrDb < 6:
		det.Reason = "SNR below 6 dB threshold"
	case hasBand && (arrivalMs < band.minMs || arrivalMs > band.maxMs):
		det.Reason = "arrival offset outside plausibility band"
	default:
		det.Accepted = true
		det.UseForTimeSnap = snrDb >= timeSnapSNRDb
	}

	return det, nil
}

// parabolicRefine fits a parabola through the three samples centered at
// idx and returns the sub-sample offset of its vertex (spec.md §4.4
// step 4).
func parabolicRefine(mags []float64, idx int) float64 {
	if idx <= 0 || idx >= len(mags)-1 {
		return 0
	}
	yM1, y0, yP1 := mags[idx-1], mags[idx], mags[idx+1]
	denom := yM1 - 2*y0 + yP1
	if denom == 0 {
		return 0
	}
	return 0.5 * (yM1 - yP1) / denom
}

// noiseRegionMagnitudes computes correlation magnitude at lags outside
// [lo, hi], over a region twice as wide as the search window on either
// side, for noise-floor estimation.
func noiseRegionMagnitudes(tmpl *Template, env []float64, lo, hi, sampleRate int) []float64 {
	m := len(tmpl.Sin)
	width := hi - lo + 1
	outerLo := lo - 2*width
	outerHi := hi + 2*width
	if outerLo < 0 {
		outerLo = 0
	}
	if outerHi > len(env)-m {
		outerHi = len(env) - m
	}

	var mags []float64
	for lag := outerLo; lag <= outerHi; lag++ {
		if lag >= lo && lag <= hi {
			continue
		}
		cSin := dot(tmpl.Sin, env, lag)
		cCos := dot(tmpl.Cos, env, lag)
		mags = append(mags, math.Hypot(cSin, cCos))
	}
	return mags
}

// robustNoiseFloor is the 10th-percentile magnitude plus three times its
// robust (MAD-based) standard deviation (spec.md §4.4 step 5).
func robustNoiseFloor(mags []float64) float64 {
	if len(mags) == 0 {
		return 0
	}
	sorted := append([]float64{}, mags...)
	sort.Float64s(sorted)

	p10 := stat.Quantile(0.10, stat.Empirical, sorted, nil)
	median := stat.Quantile(0.50, stat.Empirical, sorted, nil)

	deviations := make([]float64, len(sorted))
	for i, v := range sorted {
		deviations[i] = math.Abs(v - median)
	}
	sort.Float64s(deviations)
	mad := stat.Quantile(0.50, stat.Empirical, deviations, nil)
	robustStd := 1.4826 * mad

	return p10 + 3*robustStd
}

// inBandSNR measures the tone's absolute power by FFT of the windowed
// segment centered at the detected peak, versus nearby bins (spec.md
// §4.4 step 7).
func (d *Detector) inBandSNR(env []float64, peakIdx int, tmpl *Template) float64 {
	n := len(tmpl.Sin)
	start := peakIdx
	if start+n > len(env) {
		start = len(env) - n
	}
	if start < 0 {
		return 0
	}
	segment := make([]float64, n)
	copy(segment, env[start:start+n])
	window := tukeyWindow(n, 0.1)
	for i := range segment {
		segment[i] *= window[i]
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, segment)

	binHz := float64(d.sampleRate) / float64(n)
	toneBin := int(tmpl.FreqHz/binHz + 0.5)
	if toneBin <= 1 || toneBin >= len(coeffs)-1 {
		return 0
	}

	toneMag := math.Hypot(real(coeffs[toneBin]), imag(coeffs[toneBin]))

	var neighborSum float64
	count := 0
	for b := toneBin - 5; b <= toneBin+5; b++ {
		if b < 0 || b >= len(coeffs) || b == toneBin {
			continue
		}
		neighborSum += math.Hypot(real(coeffs[b]), imag(coeffs[b]))
		count++
	}
	if count == 0 || neighborSum == 0 {
		return 0
	}
	neighborAvg := neighborSum / float64(count)
	if neighborAvg == 0 {
		return 0
	}
	return 20 * math.Log10(toneMag/neighborAvg)
}
