// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	grapetime "github.com/gracentral/grapetime"
)

func TestLatestMeasurementPicksMostRecentRowWithinLookback(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-20 * time.Minute).Format(time.RFC3339)
	recent := now.Add(-1 * time.Minute).Format(time.RFC3339)

	rows := [][]string{
		{"", "", old, "9.0", "WWV", "10", "", "1F", "1", "0.9", "0.4", "A", "20", "", "", ""},
		{"", "", recent, "1.2", "WWV", "10", "", "1F", "1", "0.9", "0.4", "A", "20", "", "", ""},
	}

	m, ok := latestMeasurement(rows, now.Add(-10*time.Minute))
	require.True(t, ok)
	assert.InDelta(t, 1.2, m.DClockMs, 1e-9)
	assert.Equal(t, "WWV", m.Station)
	assert.Equal(t, grapetime.GradeA, m.Grade)
	assert.Equal(t, grapetime.Mode1F, m.Mode)
}

func TestLatestMeasurementNoRowsWithinLookback(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-20 * time.Minute).Format(time.RFC3339)
	rows := [][]string{
		{"", "", old, "9.0", "WWV", "10", "", "1F", "1", "0.9", "0.4", "A", "20", "", "", ""},
	}
	_, ok := latestMeasurement(rows, now.Add(-10*time.Minute))
	assert.False(t, ok)
}

func TestClockStatusForGrades(t *testing.T) {
	assert.Equal(t, grapetime.ClockUnavailable, clockStatusFor(grapetime.GradeA, 0))
	assert.Equal(t, grapetime.ClockAcquiring, clockStatusFor(grapetime.GradeD, 3))
	assert.Equal(t, grapetime.ClockLocked, clockStatusFor(grapetime.GradeB, 3))
}

func TestParsePropagationModeRoundTrip(t *testing.T) {
	for _, m := range []grapetime.PropagationMode{grapetime.ModeGroundWave, grapetime.Mode1E, grapetime.Mode1F, grapetime.Mode2F, grapetime.Mode3F} {
		assert.Equal(t, m, parsePropagationMode(m.String()))
	}
}
