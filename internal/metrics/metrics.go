// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package metrics exposes the error-taxonomy counters and clock-status
// gauges named in spec.md §7: every local data-path error increments a
// counter instead of propagating past its task boundary, and the
// timing SHM's headline numbers are mirrored here for operators who
// scrape Prometheus instead of reading /dev/shm.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric this daemon exports, registered against
// its own prometheus.Registry rather than the global default — so a
// process embedding this package never collides with another
// component's metric names.
type Registry struct {
	reg *prometheus.Registry

	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	PacketsOOO      *prometheus.CounterVec
	Resyncs         *prometheus.CounterVec

	DetectionsBelowThreshold *prometheus.CounterVec
	SolverUnresolved         *prometheus.CounterVec
	PersistenceCorruption    *prometheus.CounterVec
	DiskExhaustionDrops      *prometheus.CounterVec

	ChannelsActive *prometheus.GaugeVec
	ChannelsLocked *prometheus.GaugeVec
	ClockOffsetMs  *prometheus.GaugeVec
}

// New builds a Registry with every metric registered and ready to
// observe.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.PacketsReceived = r.counter("grapetime_packets_received_total", "RTP packets received per channel.")
	r.PacketsDropped = r.counter("grapetime_packets_dropped_total", "RTP packets dropped per channel (DecodeInvalid).")
	r.PacketsOOO = r.counter("grapetime_packets_out_of_order_total", "Out-of-order RTP packets reordered per channel.")
	r.Resyncs = r.counter("grapetime_resyncs_total", "Resequencer resyncs (sequence discontinuity) per channel.")

	r.DetectionsBelowThreshold = r.counter("grapetime_detections_below_threshold_total", "Minutes where tone SNR or timing fell below the acceptance threshold.")
	r.SolverUnresolved = r.counter("grapetime_solver_unresolved_total", "Minutes where no propagation mode passed the solver's score threshold.")
	r.PersistenceCorruption = r.counter("grapetime_persistence_corruption_total", "Unreadable calibration/convergence state files recovered by reset.")
	r.DiskExhaustionDrops = r.counter("grapetime_disk_exhaustion_drops_total", "Archive writes dropped after retention trimming failed to free enough space.")

	r.ChannelsActive = r.gauge("grapetime_channels_active", "Channels currently receiving packets.")
	r.ChannelsLocked = r.gauge("grapetime_channels_locked", "Channels whose convergence filter is in the LOCKED state.")
	r.ClockOffsetMs = r.gauge("grapetime_clock_offset_ms", "Most recent per-channel clock offset, milliseconds.")

	return r
}

func (r *Registry) counter(name, help string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"channel"})
	r.reg.MustRegister(c)
	return c
}

func (r *Registry) gauge(name, help string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"channel"})
	r.reg.MustRegister(g)
	return g
}

// Gatherer exposes the underlying registry for wiring into
// promhttp.HandlerFor by a cmd/ binary.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
