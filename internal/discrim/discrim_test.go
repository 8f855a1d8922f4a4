// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package discrim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSharedFrequencyDiscrimination is spec.md §8 concrete scenario 4:
// minute 2, 5 MHz, a WWV 1000 Hz tone at the boundary plus a
// WWV-exclusive 440 Hz tone during seconds 1-2. Expect dominant=WWV,
// confidence=high.
func TestSharedFrequencyDiscrimination(t *testing.T) {
	d := NewDiscriminator("shared_5mhz")

	result := d.Decide(Input{
		MinuteOfHour:            2,
		Indicator440DetectedWWV: true,
		BCDCorrWWV:              0.6,
		BCDCorrWWVH:             0.1,
	})

	assert.Equal(t, "WWV", result.DominantStation)
	assert.Equal(t, ConfidenceHigh, result.Confidence)
}

func TestNoEvidenceYieldsLowConfidenceNoDominant(t *testing.T) {
	d := NewDiscriminator("shared_10mhz")
	result := d.Decide(Input{MinuteOfHour: 5})
	assert.Equal(t, "", result.DominantStation)
	assert.Equal(t, ConfidenceLow, result.Confidence)
}

func TestPersistentDisagreementDowngradesConfidence(t *testing.T) {
	d := NewDiscriminator("shared_15mhz")

	// Ground truth says WWV, but BCD consistently votes WWVH: after
	// enough minutes of persistent disagreement, confidence should drop
	// to low even though a ground-truth method still fires.
	var last Result
	for i := 0; i < disagreementHistory+1; i++ {
		last = d.Decide(Input{
			MinuteOfHour:            2,
			Indicator440DetectedWWV: true,
			BCDCorrWWV:              0.1,
			BCDCorrWWVH:             0.9,
		})
	}

	assert.Equal(t, "WWV", last.DominantStation)
	assert.Equal(t, ConfidenceLow, last.Confidence)
}
