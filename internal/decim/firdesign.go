// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package decim

import "math"

// sincVal is the normalized sinc used by the CIC passband-droop model:
// sin(pi x)/(pi x), 1 at x=0.
func sincVal(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// cicDroopResponse is the 4th-order CIC's magnitude response at frequency
// f (Hz) given the decimation factor R and the stage's sample rate, i.e.
// sinc^4(f / sampleRate) normalized to unity at DC.
func cicDroopResponse(fHz, sampleRateHz float64, stages int) float64 {
	s := sincVal(fHz / sampleRateHz)
	v := 1.0
	for i := 0; i < stages; i++ {
		v *= s
	}
	return v
}

// designCompensationFIR builds a 63-tap linear-phase FIR by frequency
// sampling (spec.md §4.3 stage B): the desired magnitude response is the
// inverse of the CIC's passband droop over +/-passbandHz, and unity
// elsewhere, realized via a direct inverse-DFT summation (the filter is
// tiny and built once at construction, so no FFT library is warranted).
func designCompensationFIR(taps int, sampleRateHz, passbandHz float64, cicR int, cicStages int) []float64 {
	n := taps
	desired := make([]float64, n)
	for k := 0; k < n; k++ {
		// Frequency sampling points span [0, sampleRateHz), folded about
		// Nyquist for the real, even-symmetric magnitude response.
		f := float64(k) * sampleRateHz / float64(n)
		if f > sampleRateHz/2 {
			f = sampleRateHz - f
		}
		if f <= passbandHz {
			droop := cicDroopResponse(f, sampleRateHz*float64(cicR), cicStages)
			if droop < 1e-6 {
				droop = 1e-6
			}
			desired[k] = 1.0 / droop
		} else {
			desired[k] = 1.0
		}
	}

	// Inverse DFT of a real, even-symmetric spectrum is real and even:
	// h[m] = (1/N) * sum_k desired[k] * cos(2*pi*k*m/N).
	h := make([]float64, n)
	for m := 0; m < n; m++ {
		var acc float64
		for k := 0; k < n; k++ {
			acc += desired[k] * math.Cos(2*math.Pi*float64(k*m)/float64(n))
		}
		h[m] = acc / float64(n)
	}

	return centerAndWindow(h, hammingWindow(n))
}

// centerAndWindow circularly shifts an inverse-DFT-derived impulse
// response so its peak sits at the center tap (linear phase), applies the
// supplied window, and renormalizes to unit DC gain.
func centerAndWindow(h, window []float64) []float64 {
	n := len(h)
	shifted := make([]float64, n)
	half := n / 2
	for i := 0; i < n; i++ {
		shifted[i] = h[(i-half+n)%n] * window[i]
	}
	var dc float64
	for _, v := range shifted {
		dc += v
	}
	if dc != 0 {
		for i := range shifted {
			shifted[i] /= dc
		}
	}
	return shifted
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// besselI0 is the zeroth-order modified Bessel function of the first
// kind, via its standard power series, used by the Kaiser window.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 40; k++ {
		term *= (halfX * halfX) / (float64(k) * float64(k))
		sum += term
		if term < sum*1e-15 {
			break
		}
	}
	return sum
}

func kaiserWindow(n int, beta float64) []float64 {
	w := make([]float64, n)
	denom := besselI0(beta)
	m := float64(n - 1)
	for i := range w {
		r := (2*float64(i) - m) / m
		w[i] = besselI0(beta*math.Sqrt(1-r*r)) / denom
	}
	return w
}

// kaiserParams derives the Kaiser window's beta and the minimum tap count
// from the classic attenuation/transition-width design formulas (Kaiser
// 1974), for a stopband attenuation of attenDb decibels and a transition
// width of transitionHz at sample rate sampleRateHz.
func kaiserParams(attenDb, transitionHz, sampleRateHz float64) (beta float64, taps int) {
	switch {
	case attenDb > 50:
		beta = 0.1102 * (attenDb - 8.7)
	case attenDb >= 21:
		beta = 0.5842*math.Pow(attenDb-21, 0.4) + 0.07886*(attenDb-21)
	default:
		beta = 0
	}

	deltaF := transitionHz / sampleRateHz
	n := int(math.Ceil((attenDb - 7.95) / (2.285 * 2 * math.Pi * deltaF)))
	if n < 1 {
		n = 1
	}
	if n%2 == 0 {
		n++ // odd length for a Type I linear-phase filter
	}
	return beta, n
}

// designAntiAliasFIR builds the Kaiser-windowed low-pass used by stage C
// (spec.md §4.3 stage C): cutoff and transition in Hz at sampleRateHz,
// at least stopbandDb of stopband rejection, length capped at maxTaps.
func designAntiAliasFIR(cutoffHz, transitionHz, stopbandDb, sampleRateHz float64, maxTaps int) []float64 {
	beta, n := kaiserParams(stopbandDb, transitionHz, sampleRateHz)
	if n > maxTaps {
		n = maxTaps
		if n%2 == 0 {
			n--
		}
	}

	fc := cutoffHz / sampleRateHz // normalized cutoff, cycles/sample
	m := float64(n - 1)
	ideal := make([]float64, n)
	for i := 0; i < n; i++ {
		k := float64(i) - m/2
		ideal[i] = 2 * fc * sincVal(2 * fc * k)
	}

	window := kaiserWindow(n, beta)
	taps := make([]float64, n)
	var dc float64
	for i := range taps {
		taps[i] = ideal[i] * window[i]
		dc += taps[i]
	}
	if dc != 0 {
		for i := range taps {
			taps[i] /= dc
		}
	}
	return taps
}
