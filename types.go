// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package grapetime is the HF time-signal recorder and timing-analytics
// core: per-channel RTP ingestion, decimation, tone-based timing analytics,
// and multi-broadcast fusion of WWV/WWVH/CHU clock offset measurements.
package grapetime

import "fmt"

// Station identifies the broadcast family a channel's carrier frequency
// belongs to.
type Station int

const (
	StationUnknown Station = iota
	StationWWV
	StationWWVH
	StationCHU
	// StationShared marks a frequency carried by both WWV and WWVH; the
	// actual dominant station for a given minute is resolved by
	// internal/discrim.
	StationShared
)

func (s Station) String() string {
	switch s {
	case StationWWV:
		return "WWV"
	case StationWWVH:
		return "WWVH"
	case StationCHU:
		return "CHU"
	case StationShared:
		return "SHARED"
	default:
		return "UNKNOWN"
	}
}

// wwvhCapableFrequenciesMHz are the carrier frequencies on which WWVH may
// appear alongside WWV. Only these four carry both broadcasts.
var wwvhCapableFrequenciesMHz = map[float64]bool{
	2.5: true, 5: true, 10: true, 15: true,
}

// chuFrequenciesMHz are CHU's three carriers.
var chuFrequenciesMHz = map[float64]bool{
	3.330: true, 7.850: true, 14.670: true,
}

// StationFamilyForFrequency infers the station family from a center
// frequency in MHz, per spec.md §3 ChannelSpec.
func StationFamilyForFrequency(freqMHz float64) Station {
	if chuFrequenciesMHz[freqMHz] {
		return StationCHU
	}
	if wwvhCapableFrequenciesMHz[freqMHz] {
		return StationShared
	}
	switch freqMHz {
	case 2.5, 5, 10, 15, 20, 25:
		return StationWWV
	}
	return StationUnknown
}

// IsWWVHCapable reports whether freqMHz is one of the four frequencies that
// may carry WWVH.
func IsWWVHCapable(freqMHz float64) bool {
	return wwvhCapableFrequenciesMHz[freqMHz]
}

// ChannelSpec is immutable per run: one SDR channel tuned to one HF
// time-standard carrier. See spec.md §3.
type ChannelSpec struct {
	Name        string  // e.g. "wwv10"
	FrequencyHz float64
	SampleRate  int // samples/sec, 20000 default
	Description string
	Family      Station
	WWVHCapable bool
}

// FrequencyMHz returns the channel's center frequency in MHz.
func (c ChannelSpec) FrequencyMHz() float64 {
	return c.FrequencyHz / 1e6
}

// NewChannelSpec builds a ChannelSpec, inferring Family and WWVHCapable from
// the frequency the way spec.md §3 describes.
func NewChannelSpec(name string, freqHz float64, sampleRate int, description string) ChannelSpec {
	freqMHz := freqHz / 1e6
	return ChannelSpec{
		Name:        name,
		FrequencyHz: freqHz,
		SampleRate:  sampleRate,
		Description: description,
		Family:      StationFamilyForFrequency(freqMHz),
		WWVHCapable: IsWWVHCapable(freqMHz),
	}
}

func (c ChannelSpec) String() string {
	return fmt.Sprintf("%s(%.3fMHz,%s)", c.Name, c.FrequencyMHz(), c.Family)
}

// QualityGrade is the single-letter summary grade used for both per-minute
// analytics results and fused results. A sum type at API boundaries per
// spec.md §9 ("ad-hoc dataclasses -> tagged variants"); strings only appear
// at the CSV/JSON edge via String/ParseQualityGrade.
type QualityGrade int

const (
	GradeD QualityGrade = iota // worst, zero value
	GradeC
	GradeB
	GradeA // best
)

func (g QualityGrade) String() string {
	switch g {
	case GradeA:
		return "A"
	case GradeB:
		return "B"
	case GradeC:
		return "C"
	default:
		return "D"
	}
}

// Weight is the per-grade weight used by fusion's combination step
// (spec.md §4.8 step 2).
func (g QualityGrade) Weight() float64 {
	switch g {
	case GradeA:
		return 1.0
	case GradeB:
		return 0.8
	case GradeC:
		return 0.5
	default:
		return 0.2
	}
}

func ParseQualityGrade(s string) QualityGrade {
	switch s {
	case "A":
		return GradeA
	case "B":
		return GradeB
	case "C":
		return GradeC
	default:
		return GradeD
	}
}

// ClockStatus is the timing SHM's clock_status enum (spec.md §3, §4.9, §7).
type ClockStatus int

const (
	ClockUnavailable ClockStatus = iota
	ClockAcquiring
	ClockLocked
	ClockHoldover
	ClockUnlocked
)

func (s ClockStatus) String() string {
	switch s {
	case ClockAcquiring:
		return "ACQUIRING"
	case ClockLocked:
		return "LOCKED"
	case ClockHoldover:
		return "HOLDOVER"
	case ClockUnlocked:
		return "UNLOCKED"
	default:
		return "UNAVAILABLE"
	}
}

// PropagationMode is the ionospheric path description selected by the
// transmission-time solver (spec.md §3, §4.6).
type PropagationMode int

const (
	ModeUnknown PropagationMode = iota
	ModeGroundWave
	Mode1E
	Mode1F
	Mode2F
	Mode3F
)

func (m PropagationMode) String() string {
	switch m {
	case ModeGroundWave:
		return "GW"
	case Mode1E:
		return "1E"
	case Mode1F:
		return "1F"
	case Mode2F:
		return "2F"
	case Mode3F:
		return "3F"
	default:
		return "?"
	}
}

// Hops is the number of ionospheric reflections implied by the mode.
func (m PropagationMode) Hops() int {
	switch m {
	case ModeGroundWave:
		return 0
	case Mode1E, Mode1F:
		return 1
	case Mode2F:
		return 2
	case Mode3F:
		return 3
	default:
		return 0
	}
}

// Weight is the per-mode weight used by fusion's combination step
// (spec.md §4.8 step 2).
func (m PropagationMode) Weight() float64 {
	switch m {
	case Mode1E, ModeGroundWave:
		return 1.0
	case Mode1F:
		return 0.9
	case Mode2F:
		return 0.7
	case Mode3F:
		return 0.5
	default:
		return 0.3
	}
}
