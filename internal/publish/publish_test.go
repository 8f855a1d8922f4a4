// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package publish

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	grapetime "github.com/gracentral/grapetime"
)

func TestClientUnavailableBeforeAnyPublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grape_timing")
	c := NewClient(path)
	assert.False(t, c.Available())
	assert.False(t, c.IsLocked())
	_, ok := c.GetDClock()
	assert.False(t, ok)
}

func TestWriterPublishThenClientReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grape_timing")
	w := NewWriter(path)

	err := w.Publish(Snapshot{
		Timestamp:           time.Now(),
		ClockStatus:         grapetime.ClockLocked,
		DClockMs:            1.25,
		DClockUncertaintyMs: 0.3,
		ChannelsActive:      5,
		ChannelsLocked:      4,
		Channels: map[string]ChannelSummary{
			"wwv10000": {ChannelName: "wwv10000", Station: "WWV", Confidence: "HIGH", DClockRawMs: 1.3},
		},
	})
	require.NoError(t, err)

	c := NewClient(path)
	assert.True(t, c.Available())
	assert.True(t, c.IsLocked())
	assert.True(t, c.IsAvailable())

	dClock, ok := c.GetDClock()
	require.True(t, ok)
	assert.InDelta(t, 1.25, dClock, 1e-9)

	station, ok := c.GetStation("wwv10000")
	require.True(t, ok)
	assert.Equal(t, "WWV", station)
}

func TestGetDClockUnavailableWhenUnlocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grape_timing")
	w := NewWriter(path)
	require.NoError(t, w.Publish(Snapshot{Timestamp: time.Now(), ClockStatus: grapetime.ClockAcquiring}))

	c := NewClient(path)
	_, ok := c.GetDClock()
	assert.False(t, ok)
}

func TestSnapshotAgeReflectsGeneratedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grape_timing")
	w := NewWriter(path)
	require.NoError(t, w.Publish(Snapshot{Timestamp: time.Now(), ClockStatus: grapetime.ClockLocked, DClockMs: 0.5}))

	c := NewClient(path)
	snap := c.GetSnapshot()
	assert.Less(t, snap.AgeSeconds, 1.0)
	assert.True(t, snap.IsFresh(120*time.Second))
}

func TestGetUTCTimeFallsBackWithoutLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grape_timing")
	c := NewClient(path)
	before := time.Now()
	utc := c.GetUTCTime()
	assert.WithinDuration(t, before, utc, time.Second)
}
