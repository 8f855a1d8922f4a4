// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package convergence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvergenceMonotonicity(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(filepath.Join(dir, "wwv_10000.json"), DefaultConfig())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prevP := f.CovarianceOffset()
	for i := 0; i < 60; i++ {
		out, err := f.Update(Measurement{
			DClockMs:      0.5,
			UncertaintyMs: 0.3,
			Time:          base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		assert.False(t, out.Anomaly)
		assert.LessOrEqual(t, f.CovarianceOffset(), prevP+1e-9)
		prevP = f.CovarianceOffset()
	}
	assert.Equal(t, StateLocked, f.State())
}

// TestAnomalyDetectionResetsConvergence is spec.md §8 concrete scenario 6:
// enough consecutive anomalous minutes force a REACQUIRE, which resets the
// covariance back up to its initial (unconverged) value.
func TestAnomalyDetectionResetsConvergence(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	f := NewFilter(filepath.Join(dir, "wwv_10000.json"), cfg)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		_, err := f.Update(Measurement{
			DClockMs:      0.5,
			UncertaintyMs: 0.3,
			Time:          base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	require.Equal(t, StateLocked, f.State())
	lockedP := f.CovarianceOffset()

	for i := 0; i < cfg.MaxConsecutiveAnomalies; i++ {
		out, err := f.Update(Measurement{
			DClockMs:      500, // wildly inconsistent with the locked estimate
			UncertaintyMs: 0.3,
			Time:          base.Add(time.Duration(40+i) * time.Minute),
		})
		require.NoError(t, err)
		assert.True(t, out.Anomaly)
	}

	assert.Equal(t, StateReacquire, f.State())
	assert.Greater(t, f.CovarianceOffset(), lockedP)
}

func TestFilterPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wwv_10000.json")
	cfg := DefaultConfig()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f1 := NewFilter(path, cfg)
	for i := 0; i < 35; i++ {
		_, err := f1.Update(Measurement{DClockMs: 1.2, UncertaintyMs: 0.3, Time: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	f2 := NewFilter(path, cfg)
	assert.Equal(t, f1.State(), f2.State())
	assert.InDelta(t, f1.CovarianceOffset(), f2.CovarianceOffset(), 1e-9)
}

func TestFilterStartsAcquiring(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(filepath.Join(dir, "wwvh_15000.json"), DefaultConfig())
	assert.Equal(t, StateAcquiring, f.State())
}
