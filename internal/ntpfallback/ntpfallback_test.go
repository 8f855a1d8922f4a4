// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package ntpfallback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fakeEnvironment(chronycOut string, chronycOK bool, ntpqOut string, ntpqOK bool) *Environment {
	return &Environment{
		runner: func(ctx context.Context, name string, args ...string) (string, bool) {
			if name == "chronyc" {
				return chronycOut, chronycOK
			}
			return ntpqOut, ntpqOK
		},
	}
}

func TestRefreshParsesChronycTracking(t *testing.T) {
	e := fakeEnvironment("Reference ID : ABC\nSystem time     : 0.000012345 seconds fast of NTP time\n", true, "", false)
	e.Refresh(context.Background())

	st := e.Status()
	assert.True(t, st.Available)
	assert.True(t, st.Synced)
	assert.InDelta(t, 0.012345, st.OffsetMs, 1e-6)
}

func TestRefreshFallsBackToNTPQ(t *testing.T) {
	e := fakeEnvironment("", false, "assID=0 status=..., offset=-45.2, ...\n", true)
	e.Refresh(context.Background())

	st := e.Status()
	assert.True(t, st.Available)
	assert.InDelta(t, -45.2, st.OffsetMs, 1e-9)
}

func TestRefreshUnavailableWhenBothFail(t *testing.T) {
	e := fakeEnvironment("", false, "", false)
	e.Refresh(context.Background())

	st := e.Status()
	assert.False(t, st.Available)
	assert.False(t, st.Synced)
}

func TestRefreshUnsyncedWhenOffsetLarge(t *testing.T) {
	e := fakeEnvironment("System time : 5.0 seconds fast of NTP time\n", true, "", false)
	e.Refresh(context.Background())

	st := e.Status()
	assert.True(t, st.Available)
	assert.False(t, st.Synced)
}
