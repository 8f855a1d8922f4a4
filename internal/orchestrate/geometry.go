// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"github.com/gracentral/grapetime/internal/solver"
)

// transmitterLocations are the three HF time-standard transmitter sites
// (spec.md §1's named broadcasts), used to derive the solver's
// DistanceKm input from the receiver's own location.
var transmitterLocations = map[string]solver.LatLon{
	"WWV":  {LatDeg: 40.6776, LonDeg: -105.0461}, // Fort Collins, CO
	"WWVH": {LatDeg: 21.9875, LonDeg: -159.7650}, // Kekaha, HI
	"CHU":  {LatDeg: 45.2958, LonDeg: -75.7533},  // Ottawa, ON
}

// DistanceToStationKm returns the great-circle distance in kilometers
// from receiver to the named station's transmitter, or false if station
// is not one of the three known broadcasts.
func DistanceToStationKm(receiver solver.LatLon, station string) (float64, bool) {
	tx, ok := transmitterLocations[station]
	if !ok {
		return 0, false
	}
	return solver.GreatCircleKm(receiver, tx), true
}
