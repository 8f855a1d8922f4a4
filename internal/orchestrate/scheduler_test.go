// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gracentral/grapetime/internal/archive"
	"github.com/gracentral/grapetime/internal/discrim"
)

func TestAnchorRTPAtProjectsForward(t *testing.T) {
	anchor := Anchor{GPSUnixSeconds: 1000, RTPTimestamp: 0}
	t2 := time.Unix(1060, 0) // 60s after anchor
	assert.Equal(t, uint32(60*20000), anchor.rtpAt(t2, 20000))
}

func TestUnavailableFractionCountsOnlyUnavailableGaps(t *testing.T) {
	gaps := []archive.SidecarGap{
		{Fill: "unavailable", Length: 100},
		{Fill: "zero-fill", Length: 900},
	}
	assert.InDelta(t, 0.1, unavailableFraction(gaps, 1000), 1e-9)
}

func TestUnavailableFractionAllAvailable(t *testing.T) {
	assert.Equal(t, 0.0, unavailableFraction(nil, 1000))
}

func TestDominantStationTrustsConfidentAgreeingVote(t *testing.T) {
	result := discrim.Result{DominantStation: "WWVH", Confidence: discrim.ConfidenceHigh, Disagreement: false}
	assert.Equal(t, "WWVH", dominantStation(result, nil, nil))
}

func TestDominantStationPrefersDirectReferenceOnLowConfidence(t *testing.T) {
	result := discrim.Result{DominantStation: "WWVH", Confidence: discrim.ConfidenceLow, Disagreement: false}
	assert.Equal(t, "WWV", dominantStation(result, nil, nil))
}

func TestDominantStationFallsBackToOnlyAvailableStation(t *testing.T) {
	result := discrim.Result{DominantStation: "WWV", Confidence: discrim.ConfidenceLow, Disagreement: true}
	assert.Equal(t, "WWVH", dominantStation(result, errors.New("no WWV detection"), nil))
}
