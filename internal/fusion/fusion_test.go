// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package fusion

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	grapetime "github.com/gracentral/grapetime"
)

func meas(station string, freqMHz, dclock float64, grade grapetime.QualityGrade, mode grapetime.PropagationMode, snr float64) Measurement {
	return Measurement{
		Station:    station,
		FreqMHz:    freqMHz,
		DClockMs:   dclock,
		Confidence: 0.9,
		Grade:      grade,
		Mode:       mode,
		SNRDb:      snr,
	}
}

func TestFuseEmptyYieldsGradeD(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "calib.json"))
	result := Fuse(e, nil, nil)
	assert.Equal(t, grapetime.GradeD, result.Grade)
	assert.Equal(t, consistencyOK, result.ConsistencyFlag)
}

func TestFuseRejectsGrossOutlier(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "calib.json"))
	measurements := []Measurement{
		meas("WWV", 10, 0.1, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 15, 0.2, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 5, -0.1, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 20, 500, grapetime.GradeA, grapetime.Mode1F, 20), // gross outlier
	}
	channels := []string{"wwv10", "wwv15", "wwv5", "wwv20"}
	result := Fuse(e, measurements, channels)
	assert.GreaterOrEqual(t, result.OutliersRejected, 1)
	assert.Less(t, result.DClockFusedMs, 10.0)
}

// TestCalibrationConvergesTowardZero is spec.md §8's calibration-EMA
// convergence property: repeated fusion steps with a consistent per-
// broadcast bias should drive that broadcast's calibrated mean toward
// zero over successive minutes.
func TestCalibrationConvergesTowardZero(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "calib.json"))
	var last Result
	for i := 0; i < 60; i++ {
		measurements := []Measurement{
			meas("WWV", 10, 3.0, grapetime.GradeA, grapetime.Mode1F, 20),
			meas("WWV", 15, 3.0, grapetime.GradeA, grapetime.Mode1F, 20),
			meas("CHU", 7.85, 3.0, grapetime.GradeA, grapetime.Mode1F, 20),
		}
		last = Fuse(e, measurements, []string{"wwv10", "wwv15", "chu7850"})
	}
	assert.InDelta(t, 0, last.DClockFusedMs, 0.5)
}

func TestConsistencySuspectFlaggedOnHighIntraStationSpread(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "calib.json"))
	measurements := []Measurement{
		meas("WWV", 2.5, 0, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 5, 0.3, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 10, -0.2, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 20, 0.4, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("WWV", 15, 35, grapetime.GradeA, grapetime.Mode1F, 20), // way off from the other WWV members
		meas("CHU", 3.33, 38, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("CHU", 7.85, 40, grapetime.GradeA, grapetime.Mode1F, 20),
		meas("CHU", 14.67, 37, grapetime.GradeA, grapetime.Mode1F, 20),
	}
	channels := []string{"wwv2500", "wwv5000", "wwv10000", "wwv20000", "wwv15000", "chu3330", "chu7850", "chu14670"}
	result := Fuse(e, measurements, channels)
	assert.Equal(t, consistencyDiscriminationSuspect, result.ConsistencyFlag)
	assert.Contains(t, result.SuspectChannels, "wwv15000")
}

func TestGradeForThresholds(t *testing.T) {
	assert.Equal(t, grapetime.GradeA, gradeFor(8, 0.4))
	assert.Equal(t, grapetime.GradeB, gradeFor(5, 0.9))
	assert.Equal(t, grapetime.GradeC, gradeFor(3, 1.9))
	assert.Equal(t, grapetime.GradeD, gradeFor(2, 1.9))
}
