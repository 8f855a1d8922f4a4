// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package solver implements spec.md §4.6's transmission-time solver:
// given a tone arrival offset and channel characterization, it
// identifies the most likely ionospheric propagation mode and emits a
// D_clock estimate.
package solver

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	grapetime "github.com/gracentral/grapetime"
)

const earthRadiusKm = 6371.0

// LatLon is a geographic point in degrees.
type LatLon struct {
	LatDeg, LonDeg float64
}

func (p LatLon) toS2() s2.LatLng {
	return s2.LatLng{Lat: s1.Angle(p.LatDeg * math.Pi / 180), Lng: s1.Angle(p.LonDeg * math.Pi / 180)}
}

// GreatCircleKm returns the great-circle surface distance between two
// points, in kilometers, using golang/geo/s2's LatLng angular distance
// scaled by the Earth's mean radius.
func GreatCircleKm(a, b LatLon) float64 {
	angle := a.toS2().Distance(b.toS2())
	return float64(angle) * earthRadiusKm
}

// effectiveReflectionHeightKm is the nominal ionospheric reflection
// height used for delay geometry, per mode (spec.md §4.6 step 2).
var effectiveReflectionHeightKm = map[grapetime.PropagationMode]float64{
	grapetime.Mode1E: 110,
	grapetime.Mode1F: 300,
	grapetime.Mode2F: 300,
	grapetime.Mode3F: 300,
}

const speedOfLightKmPerMs = 299.792458

// Input bundles one minute's solver inputs for a single detected station
// (spec.md §4.6).
type Input struct {
	Station             string
	CenterFreqMHz        float64
	ArrivalOffsetMs       float64
	DelaySpreadMs         float64 // 0 if unavailable
	DopplerStdHz          float64 // 0 if unavailable
	FrequencySelectivity  float64 // negative favors multi-hop; 0 if unavailable
	DistanceKm            float64 // precomputed receiver-transmitter great-circle distance
}

// Result is spec.md §4.6's solver output.
type Result struct {
	Mode              grapetime.PropagationMode
	PropagationDelayMs float64
	DClockMs          float64
	Confidence        float64 // in [0, 1]
	UncertaintyMs     float64
	Unresolved        bool
}

// candidateModes enumerates the propagation modes consistent with
// distance and frequency (spec.md §4.6 step 1): ground wave only for
// short paths at or below 5 MHz (per spec.md §9's open question
// resolution — GW is excluded above 5 MHz or beyond 600 km), then
// hop counts bounded by distance/2500 km.
func candidateModes(distanceKm, freqMHz float64) []grapetime.PropagationMode {
	var modes []grapetime.PropagationMode

	if distanceKm < 600 && freqMHz <= 5 {
		modes = append(modes, grapetime.ModeGroundWave)
	}

	maxHops := int(math.Ceil(distanceKm / 2500))
	if maxHops < 1 {
		maxHops = 1
	}

	// Single-hop E-layer propagation is geometrically limited to
	// relatively short paths; beyond that only F-layer hops are
	// plausible at a low enough elevation angle.
	const maxSingleHopEKm = 1500
	if freqMHz <= 10 && distanceKm < maxSingleHopEKm {
		modes = append(modes, grapetime.Mode1E)
	}
	modes = append(modes, grapetime.Mode1F)
	if maxHops >= 2 {
		modes = append(modes, grapetime.Mode2F)
	}
	if maxHops >= 3 {
		modes = append(modes, grapetime.Mode3F)
	}

	return modes
}

// nominalDelayMs computes the propagation delay (ms) for mode over
// distanceKm using a simple slant-path-over-reflecting-layer geometry
// (spec.md §4.6 step 2).
func nominalDelayMs(mode grapetime.PropagationMode, distanceKm float64) float64 {
	if mode == grapetime.ModeGroundWave {
		return distanceKm / speedOfLightKmPerMs
	}

	hops := mode.Hops()
	if hops == 0 {
		hops = 1
	}
	hopGroundKm := distanceKm / float64(hops)
	heightKm := effectiveReflectionHeightKm[mode]

	slantKm := math.Sqrt(heightKm*heightKm + (hopGroundKm/2)*(hopGroundKm/2))
	totalSlantKm := slantKm * 2 * float64(hops)
	return totalSlantKm / speedOfLightKmPerMs
}

// Solve runs spec.md §4.6's five-step algorithm: enumerate candidate
// modes, score each against the observed arrival, select the best, and
// emit D_clock = arrival_offset - propagation_delay.
func Solve(in Input) Result {
	candidates := candidateModes(in.DistanceKm, in.CenterFreqMHz)
	if len(candidates) == 0 {
		return Result{Unresolved: true, Confidence: 0, UncertaintyMs: 1000}
	}

	type scored struct {
		mode  grapetime.PropagationMode
		delay float64
		score float64
	}
	var all []scored

	for _, mode := range candidates {
		delay := nominalDelayMs(mode, in.DistanceKm)
		residual := math.Abs(in.ArrivalOffsetMs - delay)

		score := -residual
		score -= delaySpreadPenalty(in.DelaySpreadMs, mode)
		score -= dopplerPenalty(in.DopplerStdHz)
		score += frequencySelectivityBonus(in.FrequencySelectivity, mode)

		all = append(all, scored{mode: mode, delay: delay, score: score})
	}

	best := all[0]
	for _, s := range all[1:] {
		if s.score > best.score {
			best = s
		}
	}

	spread := scoreSpread(all)
	confidence := confidenceFromSpread(spread)

	uncertainty := math.Max(0.3, in.DelaySpreadMs*0.5)
	if confidence < 0.3 {
		uncertainty = math.Max(uncertainty, 5)
	}

	return Result{
		Mode:               best.mode,
		PropagationDelayMs: best.delay,
		DClockMs:           in.ArrivalOffsetMs - best.delay,
		Confidence:         confidence,
		UncertaintyMs:      uncertainty,
	}
}

// delaySpreadPenalty favors higher-hop modes when delay spread is high
// (spec.md §4.6 step 3a): a high-hop mode's wider geometric spread makes
// it a more plausible match for a dispersive channel.
func delaySpreadPenalty(delaySpreadMs float64, mode grapetime.PropagationMode) float64 {
	if delaySpreadMs <= 0 {
		return 0
	}
	hopBonus := float64(mode.Hops())
	return delaySpreadMs / (1 + hopBonus)
}

// dopplerPenalty reduces overall confidence for high Doppler stddev
// (spec.md §4.6 step 3b), applied uniformly across candidate modes since
// it reflects channel quality rather than mode plausibility.
func dopplerPenalty(dopplerStdHz float64) float64 {
	if dopplerStdHz <= 0 {
		return 0
	}
	return dopplerStdHz * 0.1
}

// frequencySelectivityBonus favors multi-hop modes when the channel
// shows D-layer-attenuation-like frequency selectivity (spec.md §4.6
// step 3c): a negative score here means strong selectivity, which this
// turns into a multi-hop bonus.
func frequencySelectivityBonus(freqSelectivity float64, mode grapetime.PropagationMode) float64 {
	if freqSelectivity >= 0 {
		return 0
	}
	return -freqSelectivity * float64(mode.Hops()) * 0.1
}

func scoreSpread(all []struct {
	mode  grapetime.PropagationMode
	delay float64
	score float64
}) float64 {
	if len(all) < 2 {
		return 0
	}
	best, second := math.Inf(-1), math.Inf(-1)
	for _, s := range all {
		if s.score > best {
			second = best
			best = s.score
		} else if s.score > second {
			second = s.score
		}
	}
	return best - second
}

// confidenceFromSpread maps the score gap between the best and
// second-best candidate to a confidence in [0, 1] (spec.md §4.6 step 5).
func confidenceFromSpread(spread float64) float64 {
	if spread <= 0 {
		return 0.3
	}
	c := spread / (spread + 2)
	if c > 1 {
		c = 1
	}
	return c
}

// StationPriority orders stations for solving when multiple are
// detected in the same minute: direct-reference stations first, WWVH
// only after its own back-calculated delay is available (spec.md §4.6
// "Station priority for selection").
func StationPriority(stations []string) []string {
	ordered := make([]string, 0, len(stations))
	for _, s := range stations {
		if s != "WWVH" {
			ordered = append(ordered, s)
		}
	}
	for _, s := range stations {
		if s == "WWVH" {
			ordered = append(ordered, s)
		}
	}
	return ordered
}
