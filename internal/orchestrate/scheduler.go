// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package orchestrate

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/internal/archive"
	"github.com/gracentral/grapetime/internal/convergence"
	"github.com/gracentral/grapetime/internal/csvsink"
	"github.com/gracentral/grapetime/internal/discrim"
	"github.com/gracentral/grapetime/internal/metrics"
	"github.com/gracentral/grapetime/internal/solver"
	"github.com/gracentral/grapetime/internal/tone"
)

// Provenance labels the source of a time anchor (spec.md §3
// TimeReference: "a confidence weight and a provenance label"). GPS is
// the SDR's own gps_time<->rtp_timestamp mapping, not one of the
// spec's four listed degraded sources, and always carries Confidence 1.
const (
	ProvenanceGPS               = "gps"
	ProvenanceNTPFallback       = "ntp_fallback"
	ProvenanceWallclockFallback = "wallclock_fallback"
)

// Anchor is a TimeReference (spec.md §3): the SDR's (gps_time,
// rtp_timestamp) mapping when available, refreshed whenever
// discover_channels() reports an updated pair, or a degraded-confidence
// estimate built from the channel's own most recently arrived packet
// when no GPS mapping exists yet. A zero Anchor (empty Provenance)
// means no packet has arrived at all.
type Anchor struct {
	GPSUnixSeconds float64
	RTPTimestamp   uint32
	Confidence     float64
	Provenance     string
}

// rtpAt returns the RTP sample index corresponding to wall-clock time t,
// projected linearly from the anchor at the channel's sample rate.
func (a Anchor) rtpAt(t time.Time, sampleRateHz int) uint32 {
	deltaSec := t.Sub(time.Unix(0, int64(a.GPSUnixSeconds*1e9))).Seconds()
	return a.RTPTimestamp + uint32(deltaSec*float64(sampleRateHz))
}

// MinuteTask runs one channel's per-minute analytics pipeline: tone
// detection, station discrimination (shared-frequency channels only),
// the transmission-time solver, and the convergence filter, appending
// CSV rows at each stage (spec.md §4.10 "Minute scheduler").
type MinuteTask struct {
	spec       grapetime.ChannelSpec
	reader     *archive.Reader
	detector   *tone.Detector
	discrim    *discrim.Discriminator // nil unless spec.WWVHCapable
	conv       *convergence.Filter
	receiver   solver.LatLon
	getAnchor  func() Anchor
	lag        time.Duration // how far behind real-time to read (default 2m)
	offsetSink *csvsink.Sink
	powerSink  *csvsink.Sink
	voteSink   *csvsink.Sink

	metrics *metrics.Registry // optional; nil disables export
	log     zerolog.Logger
}

var clockOffsetHeader = []string{
	"system_time", "utc_time", "minute_boundary_utc", "clock_offset_ms",
	"station", "frequency_mhz", "propagation_delay_ms", "propagation_mode",
	"n_hops", "confidence", "uncertainty_ms", "quality_grade", "snr_db",
	"utc_verified", "rtp_timestamp", "processed_at",
}

var carrierPowerHeader = []string{
	"timestamp", "utc_time", "power_db", "snr_db", "wwv_tone_db", "wwvh_tone_db",
	"station", "quality_grade",
}

var voteSummaryHeader = []string{
	"timestamp", "minute_of_hour", "dominant_station", "confidence", "disagreement",
}

// NewMinuteTask wires up one channel's analytics task. csvDir is the
// channel's own output directory (spec.md §6 "Per-channel CSV outputs").
func NewMinuteTask(spec grapetime.ChannelSpec, reader *archive.Reader, conv *convergence.Filter, receiver solver.LatLon, getAnchor func() Anchor, csvDir string, reg *metrics.Registry, log zerolog.Logger) *MinuteTask {
	t := &MinuteTask{
		spec:       spec,
		reader:     reader,
		detector:   tone.NewDetector(spec.SampleRate),
		conv:       conv,
		receiver:   receiver,
		getAnchor:  getAnchor,
		lag:        2 * time.Minute,
		offsetSink: csvsink.NewFixed(csvDir, "clock_offset_series.csv", clockOffsetHeader),
		metrics:    reg,
		log:        log.With().Str("channel", spec.Name).Logger(),
	}
	t.powerSink = csvsink.NewDaily(csvDir, "carrier_power", carrierPowerHeader)
	if spec.WWVHCapable {
		t.discrim = discrim.NewDiscriminator(spec.Name)
		t.voteSink = csvsink.NewDaily(csvDir, "discrimination_votes", voteSummaryHeader)
	}
	return t
}

// Schedule ticks once a minute, processing the minute boundary that is
// t.lag behind the current wall clock (default 2 minutes, "to ensure
// archive completeness", spec.md §4.10). It blocks until stopped is
// closed. A processing error for one minute is logged and does not
// prevent the next minute from being attempted — one channel's analytics
// failure must not affect others or halt its own schedule (spec.md §5).
func (t *MinuteTask) Schedule(stopped <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastProcessed time.Time
	for {
		select {
		case <-stopped:
			return
		case now := <-ticker.C:
			boundary := now.Add(-t.lag).Truncate(time.Minute)
			if !boundary.After(lastProcessed) {
				continue
			}
			if err := t.Run(boundary); err != nil {
				t.log.Error().Err(err).Time("minute", boundary).Msg("minute analytics failed")
			}
			lastProcessed = boundary
		}
	}
}

// Run processes the one minute of samples starting at minuteBoundary.
// Schedule supplies boundaries lagged behind real time and calls Run at
// most once per boundary; Run itself does not check for repeats.
func (t *MinuteTask) Run(minuteBoundary time.Time) error {
	anchor := t.getAnchor()
	startRTP := anchor.rtpAt(minuteBoundary, t.spec.SampleRate)
	count := t.spec.SampleRate * 60

	samples, gaps, err := t.reader.Read(startRTP, count)
	if err != nil {
		return fmt.Errorf("orchestrate: read minute %s: %w", minuteBoundary, err)
	}
	if unavailableFraction(gaps, count) > 0.5 {
		t.log.Debug().Time("minute", minuteBoundary).Msg("archive not yet available for this minute")
		return nil
	}

	station := t.spec.Family.String()
	var det tone.Detection
	var snrDb float64
	utcVerified := anchor.Provenance == ProvenanceGPS

	if t.spec.WWVHCapable {
		wwv, errW := t.detector.Detect("WWV", samples, 0, 0, 500)
		wwvh, errH := t.detector.Detect("WWVH", samples, 0, 0, 500)

		result := t.discrim.Decide(t.buildDiscrimInput(minuteBoundary, samples, wwv, errW, wwvh, errH))
		if err := t.recordVotes(minuteBoundary, result); err != nil {
			t.log.Warn().Err(err).Msg("failed to record discrimination vote")
		}

		chosen := dominantStation(result, errW, errH)
		if chosen == "WWVH" && errH == nil {
			det, station = wwvh, "WWVH"
		} else if errW == nil {
			det, station = wwv, "WWV"
		} else {
			return nil
		}
	} else {
		d, derr := t.detector.Detect(station, samples, 0, 0, 500)
		if derr != nil {
			t.log.Debug().Err(derr).Msg("tone detection failed")
			return nil
		}
		det = d
	}
	snrDb = det.SNRdB

	if !det.Accepted {
		t.log.Debug().Str("reason", det.Reason).Msg("detection below threshold")
		if t.metrics != nil {
			t.metrics.DetectionsBelowThreshold.WithLabelValues(t.spec.Name).Inc()
		}
		return t.appendPowerRow(minuteBoundary, det, station, grapetime.GradeD)
	}

	distanceKm, ok := DistanceToStationKm(t.receiver, station)
	if !ok {
		return fmt.Errorf("orchestrate: no known location for station %q", station)
	}

	solved := solver.Solve(solver.Input{
		Station:         station,
		CenterFreqMHz:   t.spec.FrequencyMHz(),
		ArrivalOffsetMs: det.ArrivalOffsetMs,
		DistanceKm:      distanceKm,
	})

	out, err := t.conv.Update(convergence.Measurement{
		DClockMs:      solved.DClockMs,
		UncertaintyMs: solved.UncertaintyMs,
		Time:          minuteBoundary,
	})
	if err != nil {
		t.log.Error().Err(err).Msg("convergence persist failed")
		if t.metrics != nil {
			t.metrics.PersistenceCorruption.WithLabelValues(t.spec.Name).Inc()
		}
	}

	grade := gradeForMeasurement(solved, out)
	now := time.Now().UTC()

	if t.metrics != nil {
		locked := 0.0
		if t.conv.State() == convergence.StateLocked {
			locked = 1.0
		}
		t.metrics.ChannelsLocked.WithLabelValues(t.spec.Name).Set(locked)
		t.metrics.ClockOffsetMs.WithLabelValues(t.spec.Name).Set(solved.DClockMs)
		if grade == grapetime.GradeD {
			t.metrics.SolverUnresolved.WithLabelValues(t.spec.Name).Inc()
		}
	}

	if err := t.offsetSink.Append([]string{
		now.Format(time.RFC3339), minuteBoundary.UTC().Format(time.RFC3339),
		minuteBoundary.UTC().Format(time.RFC3339), formatMs(solved.DClockMs),
		station, formatMs(t.spec.FrequencyMHz()), formatMs(solved.PropagationDelayMs),
		solved.Mode.String(), strconv.Itoa(solved.Mode.Hops()), formatMs(solved.Confidence),
		formatMs(out.UncertaintyMs), grade.String(), formatMs(snrDb),
		strconv.FormatBool(utcVerified), strconv.FormatUint(uint64(startRTP), 10),
		now.Format(time.RFC3339),
	}); err != nil {
		return err
	}

	return t.appendPowerRow(minuteBoundary, det, station, grade)
}

func (t *MinuteTask) appendPowerRow(minuteBoundary time.Time, det tone.Detection, station string, grade grapetime.QualityGrade) error {
	now := time.Now().UTC()
	return t.powerSink.Append([]string{
		now.Format(time.RFC3339), minuteBoundary.UTC().Format(time.RFC3339),
		formatMs(20 * logOrZero(det.PeakMagnitude)), formatMs(det.SNRdB),
		"", "", station, grade.String(),
	})
}

func (t *MinuteTask) buildDiscrimInput(minuteBoundary time.Time, minuteBuf []complex64, wwv tone.Detection, errW error, wwvh tone.Detection, errH error) discrim.Input {
	bcd := tone.EncodeMinute(minuteBoundary, t.spec.SampleRate)
	corr := bcd.Correlate(tone.Envelope(minuteBuf))

	in := discrim.Input{
		MinuteOfHour: minuteBoundary.Minute(),
		BCDCorrWWV:   corr,
		BCDCorrWWVH:  corr,
	}
	if errW == nil {
		w := wwv
		in.ToneWWV = &w
	}
	if errH == nil {
		h := wwvh
		in.ToneWWVH = &h
	}
	return in
}

// dominantStation resolves which station's detection to solve against.
// A confident, agreeing vote is trusted as-is; a low-confidence or
// disagreeing minute instead falls back to solver.StationPriority,
// which always prefers a direct-reference station (WWV, CHU) over
// WWVH's back-calculated delay (spec.md §4.6 "Station priority for
// selection").
func dominantStation(result discrim.Result, errW, errH error) string {
	if result.Confidence != discrim.ConfidenceLow && !result.Disagreement {
		return result.DominantStation
	}

	var available []string
	if errW == nil {
		available = append(available, "WWV")
	}
	if errH == nil {
		available = append(available, "WWVH")
	}
	ordered := solver.StationPriority(available)
	if len(ordered) == 0 {
		return result.DominantStation
	}
	return ordered[0]
}

func (t *MinuteTask) recordVotes(minuteBoundary time.Time, result discrim.Result) error {
	if t.voteSink == nil {
		return nil
	}
	return t.voteSink.Append([]string{
		minuteBoundary.UTC().Format(time.RFC3339), strconv.Itoa(minuteBoundary.Minute()),
		result.DominantStation, result.Confidence.String(), strconv.FormatBool(result.Disagreement),
	})
}

// unavailableFraction is the proportion of count samples covered by an
// "unavailable" gap rather than actual data.
func unavailableFraction(gaps []archive.SidecarGap, count int) float64 {
	var unavailable uint32
	for _, g := range gaps {
		if g.Fill == "unavailable" {
			unavailable += g.Length
		}
	}
	return float64(unavailable) / float64(count)
}

// gradeForMeasurement derives the per-minute quality grade from solver
// confidence and the convergence filter's anomaly flag: an anomalous
// minute is never graded above C regardless of the solver's own
// confidence, since the convergence filter itself has flagged the
// measurement as inconsistent with recent history.
func gradeForMeasurement(s solver.Result, out convergence.Output) grapetime.QualityGrade {
	switch {
	case out.Anomaly:
		return grapetime.GradeC
	case s.Confidence >= 0.8 && out.UncertaintyMs < 0.5:
		return grapetime.GradeA
	case s.Confidence >= 0.6 && out.UncertaintyMs < 1.5:
		return grapetime.GradeB
	case s.Confidence >= 0.3:
		return grapetime.GradeC
	default:
		return grapetime.GradeD
	}
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func logOrZero(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Log10(v)
}
