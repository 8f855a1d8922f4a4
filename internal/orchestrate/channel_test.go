// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/internal/metrics"
	"github.com/gracentral/grapetime/internal/rtpio"
)

func TestReportMetricsLockedTracksDeltasNotTotals(t *testing.T) {
	reg := metrics.New()
	c := &Channel{
		cfg: ChannelConfig{Spec: grapetime.ChannelSpec{Name: "wwv10"}, Metrics: reg},
	}

	c.reportMetricsLocked(rtpio.Stats{PacketsReceived: 10, PacketsDropped: 1})
	c.reportMetricsLocked(rtpio.Stats{PacketsReceived: 25, PacketsDropped: 1})

	assert.InDelta(t, 25, testutil.ToFloat64(reg.PacketsReceived.WithLabelValues("wwv10")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(reg.PacketsDropped.WithLabelValues("wwv10")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(reg.ChannelsActive.WithLabelValues("wwv10")), 1e-9)
}

func TestReportMetricsLockedNoopWithoutRegistry(t *testing.T) {
	c := &Channel{cfg: ChannelConfig{Spec: grapetime.ChannelSpec{Name: "wwv10"}}}
	assert.NotPanics(t, func() {
		c.reportMetricsLocked(rtpio.Stats{PacketsReceived: 5})
	})
}
