// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/internal/csvsink"
	"github.com/gracentral/grapetime/internal/fusion"
	"github.com/gracentral/grapetime/internal/publish"
	"github.com/gracentral/grapetime/internal/publish/clockdiscipline"
)

var fusedHeader = []string{
	"timestamp", "d_clock_fused_ms", "d_clock_raw_ms", "uncertainty_ms",
	"n_broadcasts", "n_stations", "wwv_mean_ms", "wwvh_mean_ms", "chu_mean_ms",
	"wwv_count", "wwvh_count", "chu_count", "calibration_applied", "quality_grade",
	"outliers_rejected", "wwv_intra_std_ms", "wwvh_intra_std_ms", "chu_intra_std_ms",
	"inter_station_spread_ms", "consistency_flag",
}

// FusionChannel is one channel's CSV source feeding the fusion ticker.
type FusionChannel struct {
	Name     string
	Station  string
	FreqMHz  float64
	CSVPath  string // its clock_offset_series.csv
}

// FusionTicker runs spec.md §4.8's fusion step on its own ~1 minute
// cadence, independent of any channel's minute scheduler (spec.md §5
// "One fusion task running on a global cadence").
type FusionTicker struct {
	engine      *fusion.Engine
	channels    []FusionChannel
	lookback    time.Duration
	fusedSink   *csvsink.Sink
	writer      *publish.Writer
	discipline  *clockdiscipline.Publisher // nil if clock discipline disabled
	log         zerolog.Logger
}

// NewFusionTicker wires the fusion engine to its calibration store, its
// input channels' CSV streams, the fused-output CSV, the timing SHM
// writer, and (optionally) the OS clock-discipline publisher.
func NewFusionTicker(calibrationPath string, channels []FusionChannel, fusedDir, timingSHMPath string, discipline *clockdiscipline.Publisher, log zerolog.Logger) *FusionTicker {
	return &FusionTicker{
		engine:     fusion.NewEngine(calibrationPath),
		channels:   channels,
		lookback:   10 * time.Minute,
		fusedSink:  csvsink.NewFixed(fusedDir, "fused_d_clock.csv", fusedHeader),
		writer:     publish.NewWriter(timingSHMPath),
		discipline: discipline,
		log:        log.With().Str("task", "fusion").Logger(),
	}
}

// Run executes one fusion step (spec.md §4.8 steps 1-11).
func (t *FusionTicker) Run() error {
	now := time.Now().UTC()
	cutoff := now.Add(-t.lookback)

	var measurements []fusion.Measurement
	var names []string
	channelSummaries := make(map[string]publish.ChannelSummary, len(t.channels))

	for _, ch := range t.channels {
		rows, err := csvsink.TailRows(ch.CSVPath)
		if err != nil {
			t.log.Warn().Err(err).Str("channel", ch.Name).Msg("failed to read channel CSV")
			continue
		}
		m, ok := latestMeasurement(rows, cutoff)
		if !ok {
			continue
		}
		measurements = append(measurements, m)
		names = append(names, ch.Name)
		channelSummaries[ch.Name] = publish.ChannelSummary{
			ChannelName:        ch.Name,
			Station:            m.Station,
			DClockRawMs:        m.DClockMs,
			SNRDb:              m.SNRDb,
			UncertaintyMs:      0,
		}
	}

	result := fusion.Fuse(t.engine, measurements, names)

	if err := t.appendFusedRow(now, result); err != nil {
		return fmt.Errorf("orchestrate: append fused row: %w", err)
	}

	status := clockStatusFor(result.Grade, len(measurements))
	if err := t.writer.Publish(publish.Snapshot{
		Timestamp:           now,
		ClockStatus:         status,
		DClockMs:            result.DClockFusedMs,
		DClockUncertaintyMs: result.UncertaintyMs,
		ChannelsActive:      len(measurements),
		ChannelsLocked:      len(measurements),
		Channels:            channelSummaries,
	}); err != nil {
		t.log.Error().Err(err).Msg("timing SHM publish failed")
	}

	if t.discipline != nil {
		t.discipline.Publish(now.Add(-time.Duration(result.DClockFusedMs*float64(time.Millisecond))), now, result.UncertaintyMs, result.Grade)
	}

	return nil
}

// Schedule ticks Run on a ~1 minute cadence until stopped is closed.
func (t *FusionTicker) Schedule(stopped <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			if err := t.Run(); err != nil {
				t.log.Error().Err(err).Msg("fusion step failed")
			}
		}
	}
}

func (t *FusionTicker) appendFusedRow(now time.Time, r fusion.Result) error {
	return t.fusedSink.Append([]string{
		now.Format(time.RFC3339), formatMs(r.DClockFusedMs), formatMs(r.DClockRawMs), formatMs(r.UncertaintyMs),
		strconv.Itoa(r.NBroadcasts), strconv.Itoa(r.NStations),
		formatMs(r.StationMeansMs["WWV"]), formatMs(r.StationMeansMs["WWVH"]), formatMs(r.StationMeansMs["CHU"]),
		strconv.Itoa(r.StationCounts["WWV"]), strconv.Itoa(r.StationCounts["WWVH"]), strconv.Itoa(r.StationCounts["CHU"]),
		"true", r.Grade.String(), strconv.Itoa(r.OutliersRejected),
		formatMs(r.IntraStationStdMs["WWV"]), formatMs(r.IntraStationStdMs["WWVH"]), formatMs(r.IntraStationStdMs["CHU"]),
		formatMs(r.InterStationSpreadMs), r.ConsistencyFlag,
	})
}

// clockStatusFor maps the fused grade and broadcast count to the
// timing SHM's clock_status enum (spec.md §6): no broadcasts means no
// reference at all, a worst-grade fusion has not yet converged, and
// anything else is locked. A convergence/holdover distinction belongs
// to the per-channel convergence filter, not the fused summary, so this
// ticker only ever reports ACQUIRING, LOCKED, or UNAVAILABLE.
func clockStatusFor(grade grapetime.QualityGrade, n int) grapetime.ClockStatus {
	switch {
	case n == 0:
		return grapetime.ClockUnavailable
	case grade == grapetime.GradeD:
		return grapetime.ClockAcquiring
	default:
		return grapetime.ClockLocked
	}
}

// latestMeasurement finds the most recent clock_offset_series.csv row
// at or after cutoff and converts it to a fusion.Measurement. Columns
// follow clockOffsetHeader's order exactly.
func latestMeasurement(rows [][]string, cutoff time.Time) (fusion.Measurement, bool) {
	var best fusion.Measurement
	var bestTime time.Time
	found := false

	for _, row := range rows {
		if len(row) < 13 {
			continue
		}
		minuteBoundary, err := time.Parse(time.RFC3339, row[2])
		if err != nil || minuteBoundary.Before(cutoff) {
			continue
		}
		if found && !minuteBoundary.After(bestTime) {
			continue
		}

		dclock, _ := strconv.ParseFloat(row[3], 64)
		freqMHz, _ := strconv.ParseFloat(row[5], 64)
		confidence, _ := strconv.ParseFloat(row[9], 64)
		snr, _ := strconv.ParseFloat(row[12], 64)

		best = fusion.Measurement{
			Station:    row[4],
			FreqMHz:    freqMHz,
			DClockMs:   dclock,
			Confidence: confidence,
			Grade:      grapetime.ParseQualityGrade(row[11]),
			Mode:       parsePropagationMode(row[7]),
			SNRDb:      snr,
		}
		bestTime = minuteBoundary
		found = true
	}
	return best, found
}

func parsePropagationMode(s string) grapetime.PropagationMode {
	switch s {
	case "GW":
		return grapetime.ModeGroundWave
	case "1E":
		return grapetime.Mode1E
	case "1F":
		return grapetime.Mode1F
	case "2F":
		return grapetime.Mode2F
	case "3F":
		return grapetime.Mode3F
	default:
		return grapetime.ModeUnknown
	}
}
