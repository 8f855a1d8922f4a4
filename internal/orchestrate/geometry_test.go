// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gracentral/grapetime/internal/solver"
)

func TestDistanceToStationKmKnownStations(t *testing.T) {
	receiver := solver.LatLon{LatDeg: 39.7392, LonDeg: -104.9903} // Denver, CO

	for _, station := range []string{"WWV", "WWVH", "CHU"} {
		d, ok := DistanceToStationKm(receiver, station)
		assert.True(t, ok)
		assert.Greater(t, d, 0.0)
	}
}

func TestDistanceToStationKmUnknownStation(t *testing.T) {
	_, ok := DistanceToStationKm(solver.LatLon{}, "RWM")
	assert.False(t, ok)
}
