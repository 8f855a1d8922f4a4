// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package solver

import (
	"fmt"
	"strings"
)

// maidenheadLetters backs both letter levels (field and subsquare) of the
// Maidenhead locator grid: two letter-pairs and one digit-pair per
// level, per the standard (ARRL) locator definition. Hand-rolled rather
// than delegated to a third-party grid-square library: see DESIGN.md for
// why the one grid/coordinate package in the example pack
// (tzneal/coordconv) does not actually cover this conversion.
const maidenheadLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ParseMaidenhead converts a 4- or 6-character Maidenhead grid locator
// (e.g. "EM19" or "EM19ux") to its center latitude/longitude in degrees.
func ParseMaidenhead(locator string) (latDeg, lonDeg float64, err error) {
	loc := strings.ToUpper(strings.TrimSpace(locator))
	if len(loc) != 4 && len(loc) != 6 {
		return 0, 0, fmt.Errorf("solver: grid locator %q must be 4 or 6 characters", locator)
	}

	fieldLon := strings.IndexByte(maidenheadLetters, loc[0])
	fieldLat := strings.IndexByte(maidenheadLetters, loc[1])
	if fieldLon < 0 || fieldLat < 0 {
		return 0, 0, fmt.Errorf("solver: invalid field letters in %q", locator)
	}

	squareLon := int(loc[2] - '0')
	squareLat := int(loc[3] - '0')
	if squareLon < 0 || squareLon > 9 || squareLat < 0 || squareLat > 9 {
		return 0, 0, fmt.Errorf("solver: invalid square digits in %q", locator)
	}

	lon := float64(fieldLon)*20 - 180 + float64(squareLon)*2
	lat := float64(fieldLat)*10 - 90 + float64(squareLat)*1

	// Center of the 2deg x 1deg square by default.
	lonCenter := lon + 1
	latCenter := lat + 0.5

	if len(loc) == 6 {
		subLon := strings.IndexByte(maidenheadLetters, loc[4])
		subLat := strings.IndexByte(maidenheadLetters, loc[5])
		if subLon < 0 || subLon > 23 || subLat < 0 || subLat > 23 {
			return 0, 0, fmt.Errorf("solver: invalid subsquare letters in %q", locator)
		}
		lonCenter = lon + (float64(subLon)+0.5)*(2.0/24.0)
		latCenter = lat + (float64(subLat)+0.5)*(1.0/24.0)
	}

	return latCenter, lonCenter, nil
}
