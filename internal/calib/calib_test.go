// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package calib

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	s := Open(path)
	assert.InDelta(t, 0, s.Offset(Key("WWV", 10)), 1e-9)
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	s1 := Open(path)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	off := s1.Update("WWV", 10, 2.0, now)
	require.NotEqual(t, 0.0, off)

	s2 := Open(path)
	assert.InDelta(t, off, s2.Offset(Key("WWV", 10)), 1e-9)

	entry, ok := s2.Entry(Key("WWV", 10))
	require.True(t, ok)
	assert.Equal(t, "WWV", entry.Station)
	assert.Equal(t, 10.0, entry.FrequencyMHz)
	assert.Equal(t, 1, entry.NSamples)
}

func TestUpdateConvergesTowardNegativeBias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	s := Open(path)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var off float64
	for i := 0; i < 100; i++ {
		off = s.Update("WWV", 10, 4.0, now.Add(time.Duration(i)*time.Minute))
	}
	assert.InDelta(t, -4.0, off, 0.1)
}

func TestCorruptFileIsRenamedAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := Open(path)
	assert.InDelta(t, 0, s.Offset(Key("WWV", 10)), 1e-9)

	_, err := os.Stat(path + ".bad")
	assert.NoError(t, err)
}
