// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package fusion

import "math"

// smoother is the scalar Kalman smoother over the fused D_clock series
// (spec.md §4.8 step 7): state [offset, drift], constant-velocity model,
// dt = 1 minute, small process noise appropriate for a GPSDO-disciplined
// receiver.
type smoother struct {
	x0, x1     float64 // offset, drift
	p00, p01   float64
	p10, p11   float64
	n          int
	processNoise float64
}

func newSmoother() *smoother {
	return &smoother{
		p00: 1e6, p11: 1e6,
		processNoise: 1e-5,
	}
}

// update runs one predict+update cycle and returns the smoothed offset
// and its uncertainty, floored at measurementStd/sqrt(n) and a 0.1 ms
// minimum (spec.md §4.8 step 7).
func (s *smoother) update(measurement, measurementStd float64) (offsetMs, uncertaintyMs float64) {
	const dt = 1.0

	predictedOffset := s.x0 + s.x1*dt
	predictedDrift := s.x1

	p00 := s.p00 + dt*(s.p01+s.p10) + dt*dt*s.p11 + s.processNoise
	p01 := s.p01 + dt*s.p11
	p10 := s.p10 + dt*s.p11
	p11 := s.p11 + s.processNoise*0.1

	r := measurementStd * measurementStd
	sInnovation := p00 + r
	k0 := p00 / sInnovation
	k1 := p10 / sInnovation

	innovation := measurement - predictedOffset
	s.x0 = predictedOffset + k0*innovation
	s.x1 = predictedDrift + k1*innovation

	s.p00 = p00 - k0*p00
	s.p01 = p01 - k0*p01
	s.p10 = p10 - k1*p00
	s.p11 = p11 - k1*p01

	s.n++

	floor := math.Max(0.1, measurementStd/math.Sqrt(float64(s.n)))
	uncertainty := math.Sqrt(math.Max(s.p00, 0))
	if uncertainty < floor {
		uncertainty = floor
	}

	return s.x0, uncertainty
}
