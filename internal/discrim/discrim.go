// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package discrim implements spec.md §4.5's station discrimination:
// deciding whether WWV or WWVH dominates a shared-frequency channel in
// the current minute, by weighted voting across independent methods.
package discrim

import "github.com/gracentral/grapetime/internal/tone"

// Confidence is the discriminator's output confidence level.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// wwvOnlyMinutes and wwvhOnlyMinutes are the minute-of-hour values during
// which only WWV's 500 Hz (resp. WWVH's 600 Hz) station-identifier tone
// is present, so its detection alone is near-certain ground truth
// (mirrors the WWV/WWVH broadcast schedule's station-exclusive minutes).
var (
	wwvOnlyMinutes  = minuteSet(1, 16, 17, 19)
	wwvhOnlyMinutes = minuteSet(2, 43, 44, 45, 46, 47, 48, 49, 50, 51)
)

// testSignalMinutes carry a characteristic multi-tone/chirp scientific
// test pattern unique to each station (spec.md §4.5).
const (
	wwvTestSignalMinute  = 8
	wwvhTestSignalMinute = 44
)

func minuteSet(minutes ...int) map[int]bool {
	m := make(map[int]bool, len(minutes))
	for _, v := range minutes {
		m[v] = true
	}
	return m
}

// Vote is one method's opinion for the current minute.
type Vote struct {
	Method   string
	Station  string // "WWV" or "WWVH"; empty if the method abstains
	Weight   float64
	Detected bool
}

// method weights: ground-truth methods (exclusive tone, test signal)
// outrank power ratio and BCD correlation, per spec.md §4.5.
const (
	weightExclusiveTone = 5.0
	weightTestSignal    = 5.0
	weightBCD           = 1.0
	weightPowerRatio    = 1.0
	weightDoppler       = 0.5
)

// Input bundles one minute's cross-method evidence for a shared-frequency
// channel.
type Input struct {
	MinuteOfHour int

	ToneWWV  *tone.Detection // nil if no detection
	ToneWWVH *tone.Detection

	IndicatorSNRWWVDb  float64 // 500 Hz station-identifier tone SNR
	IndicatorSNRWWVHDb float64 // 600 Hz station-identifier tone SNR

	TestSignalDetectedWWV  bool
	TestSignalDetectedWWVH bool

	Indicator440DetectedWWV  bool
	Indicator440DetectedWWVH bool

	BCDCorrWWV  float64
	BCDCorrWWVH float64

	DopplerStdWWVHz  float64
	DopplerStdWWVHHz float64
}

// Result is spec.md §4.5's discrimination output.
type Result struct {
	DominantStation string
	Confidence      Confidence
	Votes           []Vote
	Disagreement    bool
}

// Discriminator runs the weighted-voting decision and tracks
// cross-validation history per channel so persistent disagreement can
// downgrade confidence (spec.md §4.5's "cross-validation step").
type Discriminator struct {
	channel            string
	recentDisagreement []bool // ring of the last few minutes' agree/disagree
}

const disagreementHistory = 5

// NewDiscriminator constructs a discriminator for one shared-frequency
// channel.
func NewDiscriminator(channel string) *Discriminator {
	return &Discriminator{channel: channel}
}

// Decide runs one minute's weighted vote.
func (d *Discriminator) Decide(in Input) Result {
	votes := d.collectVotes(in)

	var wwvWeight, wwvhWeight float64
	for _, v := range votes {
		if !v.Detected {
			continue
		}
		switch v.Station {
		case "WWV":
			wwvWeight += v.Weight
		case "WWVH":
			wwvhWeight += v.Weight
		}
	}

	dominant := "WWV"
	if wwvhWeight > wwvWeight {
		dominant = "WWVH"
	}
	if wwvWeight == 0 && wwvhWeight == 0 {
		dominant = ""
	}

	disagree := methodsDisagree(votes, dominant)
	d.recordDisagreement(disagree)

	conf := confidenceFor(votes, wwvWeight, wwvhWeight, d.persistentDisagreement())

	return Result{
		DominantStation: dominant,
		Confidence:      conf,
		Votes:           votes,
		Disagreement:    disagree,
	}
}

func (d *Discriminator) collectVotes(in Input) []Vote {
	var votes []Vote

	if wwvOnlyMinutes[in.MinuteOfHour] {
		votes = append(votes, Vote{Method: "exclusive_tone", Station: "WWV", Weight: weightExclusiveTone, Detected: in.IndicatorSNRWWVDb > 6})
	}
	if wwvhOnlyMinutes[in.MinuteOfHour] {
		votes = append(votes, Vote{Method: "exclusive_tone", Station: "WWVH", Weight: weightExclusiveTone, Detected: in.IndicatorSNRWWVHDb > 6})
	}

	switch tone.Minute440Station(in.MinuteOfHour) {
	case "WWV":
		votes = append(votes, Vote{Method: "tone_440", Station: "WWV", Weight: weightExclusiveTone, Detected: in.Indicator440DetectedWWV})
	case "WWVH":
		votes = append(votes, Vote{Method: "tone_440", Station: "WWVH", Weight: weightExclusiveTone, Detected: in.Indicator440DetectedWWVH})
	}

	if in.MinuteOfHour == wwvTestSignalMinute {
		votes = append(votes, Vote{Method: "test_signal", Station: "WWV", Weight: weightTestSignal, Detected: in.TestSignalDetectedWWV})
	}
	if in.MinuteOfHour == wwvhTestSignalMinute {
		votes = append(votes, Vote{Method: "test_signal", Station: "WWVH", Weight: weightTestSignal, Detected: in.TestSignalDetectedWWVH})
	}

	if in.BCDCorrWWV > in.BCDCorrWWVH {
		votes = append(votes, Vote{Method: "bcd", Station: "WWV", Weight: weightBCD, Detected: in.BCDCorrWWV > 0.3})
	} else if in.BCDCorrWWVH > 0 {
		votes = append(votes, Vote{Method: "bcd", Station: "WWVH", Weight: weightBCD, Detected: in.BCDCorrWWVH > 0.3})
	}

	if in.ToneWWV != nil && in.ToneWWVH != nil {
		if in.ToneWWV.PeakMagnitude > in.ToneWWVH.PeakMagnitude {
			votes = append(votes, Vote{Method: "power_ratio", Station: "WWV", Weight: weightPowerRatio, Detected: true})
		} else {
			votes = append(votes, Vote{Method: "power_ratio", Station: "WWVH", Weight: weightPowerRatio, Detected: true})
		}
	}

	// Lower Doppler spread favors the station whose great-circle path is
	// more stable to this receiver at this hour; a weak tie-breaker only.
	if in.DopplerStdWWVHz > 0 && in.DopplerStdWWVHHz > 0 {
		if in.DopplerStdWWVHz < in.DopplerStdWWVHHz {
			votes = append(votes, Vote{Method: "doppler", Station: "WWV", Weight: weightDoppler, Detected: true})
		} else {
			votes = append(votes, Vote{Method: "doppler", Station: "WWVH", Weight: weightDoppler, Detected: true})
		}
	}

	return votes
}

func methodsDisagree(votes []Vote, dominant string) bool {
	for _, v := range votes {
		if v.Detected && v.Station != "" && v.Station != dominant {
			return true
		}
	}
	return false
}

func (d *Discriminator) recordDisagreement(disagree bool) {
	d.recentDisagreement = append(d.recentDisagreement, disagree)
	if len(d.recentDisagreement) > disagreementHistory {
		d.recentDisagreement = d.recentDisagreement[len(d.recentDisagreement)-disagreementHistory:]
	}
}

func (d *Discriminator) persistentDisagreement() bool {
	if len(d.recentDisagreement) < disagreementHistory {
		return false
	}
	for _, dis := range d.recentDisagreement {
		if !dis {
			return false
		}
	}
	return true
}

func confidenceFor(votes []Vote, wwvWeight, wwvhWeight float64, persistentDisagree bool) Confidence {
	if wwvWeight == 0 && wwvhWeight == 0 {
		return ConfidenceLow
	}
	if persistentDisagree {
		return ConfidenceLow
	}

	hasGroundTruth := false
	for _, v := range votes {
		if v.Detected && (v.Method == "exclusive_tone" || v.Method == "test_signal" || v.Method == "tone_440") {
			hasGroundTruth = true
		}
	}

	total := wwvWeight + wwvhWeight
	margin := (wwvWeight - wwvhWeight)
	if margin < 0 {
		margin = -margin
	}
	ratio := margin / total

	switch {
	case hasGroundTruth:
		return ConfidenceHigh
	case ratio > 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
