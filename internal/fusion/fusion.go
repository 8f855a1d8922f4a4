// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package fusion implements spec.md §4.8's multi-broadcast fusion engine:
// it combines per-channel D_clock measurements across all active WWV,
// WWVH, and CHU broadcasts into a single fused estimate that converges
// toward UTC(NIST).
package fusion

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/internal/calib"
)

// Measurement is one channel's contribution to a fusion step.
type Measurement struct {
	Station    string // WWV, WWVH, CHU
	FreqMHz    float64
	DClockMs   float64
	Confidence float64
	Grade      grapetime.QualityGrade
	Mode       grapetime.PropagationMode
	SNRDb      float64
}

// snrFactor maps SNR to the fusion weight factor (spec.md §4.8 step 2).
func snrFactor(snrDb float64) float64 {
	switch {
	case snrDb >= 10:
		return 1.0
	case snrDb >= 5:
		return 0.8
	default:
		return 0.5
	}
}

// weight computes a measurement's fusion weight: the product of
// detection confidence, grade weight, mode weight, and SNR factor
// (spec.md §4.8 step 2).
func weight(m Measurement) float64 {
	return m.Confidence * m.Grade.Weight() * m.Mode.Weight() * snrFactor(m.SNRDb)
}

// Result is spec.md §4.8's fusion output for one minute.
type Result struct {
	DClockFusedMs     float64
	DClockRawMs       float64
	UncertaintyMs     float64
	NBroadcasts       int
	NStations         int
	OutliersRejected  int
	Grade             grapetime.QualityGrade
	ConsistencyFlag   string // OK or DISCRIMINATION_SUSPECT
	StationMeansMs    map[string]float64
	StationCounts     map[string]int
	IntraStationStdMs map[string]float64
	InterStationSpreadMs float64
	SuspectChannels   []string
}

const (
	consistencyOK                  = "OK"
	consistencyDiscriminationSuspect = "DISCRIMINATION_SUSPECT"
	intraStationAlarmMs             = 5.0
	suspectSigmaThreshold            = 1.5
)

// Engine runs fusion steps for one receiver site, holding per-broadcast
// calibration state and the scalar Kalman smoother across minutes
// (spec.md §4.8).
type Engine struct {
	calib    *calib.Store
	smoother *smoother
}

// NewEngine constructs a fusion engine persisting calibration to
// calibrationPath (spec.md §4.8 step 4, "Calibration persists on disk").
func NewEngine(calibrationPath string) *Engine {
	return &Engine{
		calib:    calib.Open(calibrationPath),
		smoother: newSmoother(),
	}
}

// Fuse runs one fusion step over measurements younger than the caller's
// lookback window (spec.md §4.8 steps 2-9). channelNames gives each
// measurement's originating channel name by index, used only to label
// suspect channels in the result.
func Fuse(e *Engine, measurements []Measurement, channelNames []string) Result {
	if len(measurements) == 0 {
		return Result{Grade: grapetime.GradeD, ConsistencyFlag: consistencyOK}
	}

	weights := make([]float64, len(measurements))
	raw := make([]float64, len(measurements))
	for i, m := range measurements {
		weights[i] = weight(m)
		raw[i] = m.DClockMs
	}

	kept, keptWeights, outliers := rejectOutliers(raw, weights)
	if len(kept) == 0 {
		return Result{Grade: grapetime.GradeD, ConsistencyFlag: consistencyOK, OutliersRejected: outliers}
	}

	calibrated := make([]float64, len(kept))
	keptMeasurements := make([]Measurement, 0, len(kept))
	now := time.Now()
	for idx, origIdx := range kept {
		m := measurements[origIdx]
		offset := e.calib.Update(m.Station, m.FreqMHz, m.DClockMs, now)
		calibrated[idx] = m.DClockMs + offset
		keptMeasurements = append(keptMeasurements, m)
	}

	weightedMean, weightedStd := weightedMeanStd(calibrated, keptWeights)

	uncertaintyFloor := math.Max(0.1, weightedStd/math.Sqrt(float64(len(kept))))
	smoothed, smoothedUncertainty := e.smoother.update(weightedMean, math.Max(weightedStd, uncertaintyFloor))

	stationVals := map[string][]float64{}
	stationChannels := map[string][]string{}
	for i, m := range keptMeasurements {
		stationVals[m.Station] = append(stationVals[m.Station], calibrated[i])
		if origIdx := kept[i]; origIdx < len(channelNames) {
			stationChannels[m.Station] = append(stationChannels[m.Station], channelNames[origIdx])
		}
	}

	stationMeans := map[string]float64{}
	stationCounts := map[string]int{}
	intraStd := map[string]float64{}
	for station, vals := range stationVals {
		mean := meanOf(vals)
		stationMeans[station] = mean
		stationCounts[station] = len(vals)
		intraStd[station] = stddevOf(vals, mean)
	}

	interSpread := spreadOf(stationMeans)

	flag := consistencyOK
	var suspects []string
	alarmed := false
	for station, sd := range intraStd {
		if sd > intraStationAlarmMs {
			alarmed = true
			mean := stationMeans[station]
			for i, v := range stationVals[station] {
				if math.Abs(v-mean) > suspectSigmaThreshold*sd {
					suspects = append(suspects, stationChannels[station][i])
				}
			}
		}
	}

	if alarmed {
		flag = consistencyDiscriminationSuspect
		clean, cleanWeights := excludeSuspects(calibrated, keptWeights, keptMeasurements, channelNames, kept, suspects)
		if len(clean) >= 3 {
			weightedMean, weightedStd = weightedMeanStd(clean, cleanWeights)
			uncertaintyFloor = math.Max(0.1, weightedStd/math.Sqrt(float64(len(clean))))
			smoothed, smoothedUncertainty = e.smoother.update(weightedMean, math.Max(weightedStd, uncertaintyFloor))
		}
	}

	grade := gradeFor(len(kept), smoothedUncertainty)

	return Result{
		DClockFusedMs:        smoothed,
		DClockRawMs:          meanOf(raw),
		UncertaintyMs:        smoothedUncertainty,
		NBroadcasts:          len(kept),
		NStations:            len(stationMeans),
		OutliersRejected:     outliers,
		Grade:                grade,
		ConsistencyFlag:      flag,
		StationMeansMs:       stationMeans,
		StationCounts:        stationCounts,
		IntraStationStdMs:    intraStd,
		InterStationSpreadMs: interSpread,
		SuspectChannels:      suspects,
	}
}

// excludeSuspects drops suspect channels from the kept set before
// recomputing the fused value (spec.md §4.8 step 8).
func excludeSuspects(calibrated []float64, weights []float64, measurements []Measurement, channelNames []string, kept []int, suspects []string) ([]float64, []float64) {
	suspectSet := map[string]bool{}
	for _, s := range suspects {
		suspectSet[s] = true
	}
	var clean, cleanWeights []float64
	for i, origIdx := range kept {
		if origIdx < len(channelNames) && suspectSet[channelNames[origIdx]] {
			continue
		}
		clean = append(clean, calibrated[i])
		cleanWeights = append(cleanWeights, weights[i])
	}
	return clean, cleanWeights
}

// rejectOutliers computes the weighted median and weighted MAD, then
// drops measurements whose deviation exceeds 3xMAD (spec.md §4.8 step 3).
// Returns the surviving original indices, their weights, and the reject
// count.
func rejectOutliers(values, weights []float64) (kept []int, keptWeights []float64, rejected int) {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	sortedVals := make([]float64, len(values))
	sortedWeights := make([]float64, len(values))
	for i, j := range idx {
		sortedVals[i] = values[j]
		sortedWeights[i] = weights[j]
	}

	median := stat.Quantile(0.5, stat.Empirical, sortedVals, sortedWeights)

	deviation := make([]float64, len(values))
	for i, v := range values {
		deviation[i] = math.Abs(v - median)
	}

	devIdx := make([]int, len(values))
	for i := range devIdx {
		devIdx[i] = i
	}
	sort.Slice(devIdx, func(a, b int) bool { return deviation[devIdx[a]] < deviation[devIdx[b]] })
	sortedDev := make([]float64, len(values))
	sortedDevWeights := make([]float64, len(values))
	for i, j := range devIdx {
		sortedDev[i] = deviation[j]
		sortedDevWeights[i] = weights[j]
	}
	mad := stat.Quantile(0.5, stat.Empirical, sortedDev, sortedDevWeights) * 1.4826

	for i, d := range deviation {
		if mad > 0 && d > 3*mad {
			rejected++
			continue
		}
		kept = append(kept, i)
		keptWeights = append(keptWeights, weights[i])
	}
	return kept, keptWeights, rejected
}

func weightedMeanStd(values, weights []float64) (mean, std float64) {
	mean = stat.Mean(values, weights)
	variance := stat.Variance(values, weights)
	return mean, math.Sqrt(math.Max(variance, 0))
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func stddevOf(v []float64, mean float64) float64 {
	if len(v) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)-1))
}

func spreadOf(means map[string]float64) float64 {
	if len(means) < 2 {
		return 0
	}
	vals := make([]float64, 0, len(means))
	for _, m := range means {
		vals = append(vals, m)
	}
	mean := meanOf(vals)
	return stddevOf(vals, mean)
}

// gradeFor implements spec.md §4.8 step 9.
func gradeFor(n int, uncertaintyMs float64) grapetime.QualityGrade {
	switch {
	case n >= 8 && uncertaintyMs < 0.5:
		return grapetime.GradeA
	case n >= 5 && uncertaintyMs < 1.0:
		return grapetime.GradeB
	case n >= 3 && uncertaintyMs < 2.0:
		return grapetime.GradeC
	default:
		return grapetime.GradeD
	}
}
