// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package tone

// wwv440Minute and wwvh440Minute are the minute-of-hour values during
// which WWV (resp. WWVH) broadcasts its 440 Hz musical-pitch reference
// tone, in place of its usual 500/600 Hz station-identifier tone. Kept
// as a single table per spec.md §9's open question ("the implementer
// should keep this table in one place rather than re-embedding it per
// component") rather than duplicated between the tone detector and the
// discriminator.
const (
	wwv440Minute  = 2
	wwvh440Minute = 1
)

// Minute440Station reports which station (if any) broadcasts its 440 Hz
// reference tone during minuteOfHour, or "" if neither does.
func Minute440Station(minuteOfHour int) string {
	switch minuteOfHour {
	case wwv440Minute:
		return "WWV"
	case wwvh440Minute:
		return "WWVH"
	default:
		return ""
	}
}
