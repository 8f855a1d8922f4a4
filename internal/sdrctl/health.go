// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package sdrctl

import (
	"time"

	"github.com/rs/zerolog"
)

// Status is a single health snapshot of the SDR control endpoint.
type Status struct {
	Alive        bool
	CheckedAt    time.Time
	ChannelsSeen int
	Err          error
}

// HealthChecker monitors the SDR's liveness by periodically calling
// discover_channels: any response, even an empty table, means the SDR
// is up. A failed call means the SDR (or its control endpoint) has
// stopped responding and every channel attached to it should be treated
// as stale until the next successful discovery (spec.md §7 StaleChannel).
type HealthChecker struct {
	client *Client
	log    zerolog.Logger
}

// NewHealthChecker wraps an existing Client for liveness monitoring.
func NewHealthChecker(client *Client, log zerolog.Logger) *HealthChecker {
	return &HealthChecker{client: client, log: log.With().Str("component", "sdrctl.health").Logger()}
}

// Check performs one liveness probe.
func (h *HealthChecker) Check() Status {
	now := time.Now()
	table, err := h.client.DiscoverChannels()
	if err != nil {
		h.log.Warn().Err(err).Msg("SDR discovery failed")
		return Status{Alive: false, CheckedAt: now, Err: err}
	}
	return Status{Alive: true, CheckedAt: now, ChannelsSeen: len(table)}
}

// ChannelExists reports whether ssrc is present in the SDR's current
// channel table.
func (h *HealthChecker) ChannelExists(ssrc uint32) (bool, error) {
	table, err := h.client.DiscoverChannels()
	if err != nil {
		return false, err
	}
	for _, ch := range table {
		if ch.SSRC == ssrc {
			return true, nil
		}
	}
	return false, nil
}
