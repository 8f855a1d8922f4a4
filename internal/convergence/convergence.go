// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package convergence implements spec.md §4.7's per-channel clock
// convergence filter: a 2-state (offset, drift) Kalman filter with an
// ACQUIRING/CONVERGING/LOCKED/REACQUIRE/HOLDOVER state machine, backed
// by atomic JSON persistence.
package convergence

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"
)

// State is the convergence filter's state-machine label (spec.md §4.7).
type State int

const (
	StateAcquiring State = iota
	StateConverging
	StateLocked
	StateReacquire
	StateHoldover
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "ACQUIRING"
	case StateConverging:
		return "CONVERGING"
	case StateLocked:
		return "LOCKED"
	case StateReacquire:
		return "REACQUIRE"
	case StateHoldover:
		return "HOLDOVER"
	default:
		return "UNKNOWN"
	}
}

// Config tunes the filter (spec.md §4.7 defaults).
type Config struct {
	LockThresholdMs        float64 // default 1.0
	MinSamplesForLock      int     // default 30
	AnomalySigma           float64 // default 3
	MaxConsecutiveAnomalies int    // default 5
	HoldoverGrace          time.Duration
	ProcessNoise           float64 // Q scale; smaller for GPSDO, larger for free-running TCXO
}

func DefaultConfig() Config {
	return Config{
		LockThresholdMs:         1.0,
		MinSamplesForLock:       30,
		AnomalySigma:            3,
		MaxConsecutiveAnomalies: 5,
		HoldoverGrace:           5 * time.Minute,
		ProcessNoise:            1e-4,
	}
}

// persisted is the full filter state serialized to JSON on every update
// (spec.md §4.7 "Persistence").
type persisted struct {
	X                   [2]float64 `json:"x"` // [offset_ms, drift_ms_per_min]
	P                   [4]float64 `json:"p"` // row-major 2x2 covariance
	SampleCount         int        `json:"sample_count"`
	ConsecutiveAnomalies int       `json:"consecutive_anomalies"`
	State               string     `json:"state"`
	LastUpdate          time.Time  `json:"last_update"`
}

// Measurement is one minute's D_clock estimate fed to the filter.
type Measurement struct {
	DClockMs      float64
	UncertaintyMs float64
	Time          time.Time
}

// Output is spec.md §4.7's per-measurement output.
type Output struct {
	FilteredDClockMs   float64
	UncertaintyMs      float64
	ConvergenceProgress float64 // in [0, 1]
	ResidualMs         float64
	Anomaly            bool
	State              State
}

// Filter is one channel's convergence filter.
type Filter struct {
	cfg  Config
	path string

	x *mat.VecDense // [offset, drift]
	p *mat.Dense    // 2x2 covariance

	sampleCount          int
	consecutiveAnomalies int
	state                State
	lastUpdate           time.Time
}

// NewFilter constructs a filter for persistPath, loading prior state if
// present (spec.md §4.7 "reloaded on startup").
func NewFilter(persistPath string, cfg Config) *Filter {
	f := &Filter{
		cfg:   cfg,
		path:  persistPath,
		x:     mat.NewVecDense(2, []float64{0, 0}),
		p:     mat.NewDense(2, 2, []float64{1e6, 0, 0, 1e6}),
		state: StateAcquiring,
	}
	f.load()
	return f
}

func (f *Filter) load() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		// PersistenceCorruption (spec.md §7): rename aside, start fresh.
		_ = os.Rename(f.path, f.path+".bad")
		return
	}
	f.x.SetVec(0, p.X[0])
	f.x.SetVec(1, p.X[1])
	f.p.Set(0, 0, p.P[0])
	f.p.Set(0, 1, p.P[1])
	f.p.Set(1, 0, p.P[2])
	f.p.Set(1, 1, p.P[3])
	f.sampleCount = p.SampleCount
	f.consecutiveAnomalies = p.ConsecutiveAnomalies
	f.lastUpdate = p.LastUpdate
	f.state = stateFromString(p.State)
}

func stateFromString(s string) State {
	switch s {
	case "CONVERGING":
		return StateConverging
	case "LOCKED":
		return StateLocked
	case "REACQUIRE":
		return StateReacquire
	case "HOLDOVER":
		return StateHoldover
	default:
		return StateAcquiring
	}
}

func (f *Filter) persist() error {
	p := persisted{
		X:                    [2]float64{f.x.AtVec(0), f.x.AtVec(1)},
		P:                    [4]float64{f.p.At(0, 0), f.p.At(0, 1), f.p.At(1, 0), f.p.At(1, 1)},
		SampleCount:          f.sampleCount,
		ConsecutiveAnomalies: f.consecutiveAnomalies,
		State:                f.state.String(),
		LastUpdate:           f.lastUpdate,
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Update runs one minute's Kalman predict+update and advances the state
// machine, persisting the result (spec.md §4.7).
func (f *Filter) Update(m Measurement) (Output, error) {
	dt := 1.0
	if !f.lastUpdate.IsZero() {
		dt = m.Time.Sub(f.lastUpdate).Minutes()
		if dt <= 0 {
			dt = 1.0
		}
	}

	f.predict(dt)

	innovation := m.DClockMs - f.x.AtVec(0)
	s := f.p.At(0, 0) + m.UncertaintyMs*m.UncertaintyMs
	normalizedInnovation := math.Abs(innovation) / math.Sqrt(s)

	anomaly := f.state == StateLocked && normalizedInnovation > f.cfg.AnomalySigma

	if anomaly {
		f.consecutiveAnomalies++
	} else {
		f.consecutiveAnomalies = 0
		f.applyKalmanGain(innovation, s)
	}

	f.sampleCount++
	f.lastUpdate = m.Time
	f.advanceState()

	if f.consecutiveAnomalies >= f.cfg.MaxConsecutiveAnomalies {
		f.reacquire()
	}

	out := Output{
		FilteredDClockMs:    f.x.AtVec(0),
		UncertaintyMs:       math.Sqrt(f.p.At(0, 0)),
		ConvergenceProgress: f.convergenceProgress(),
		ResidualMs:          innovation,
		Anomaly:             anomaly,
		State:               f.state,
	}

	return out, f.persist()
}

// predict advances the state [offset, drift] by F = [[1, dt],[0, 1]]
// and inflates covariance by process noise Q (spec.md §4.7).
func (f *Filter) predict(dtMin float64) {
	offset := f.x.AtVec(0) + f.x.AtVec(1)*dtMin
	drift := f.x.AtVec(1)
	f.x.SetVec(0, offset)
	f.x.SetVec(1, drift)

	var fMat mat.Dense
	fMat.CloneFrom(mat.NewDense(2, 2, []float64{1, dtMin, 0, 1}))

	var tmp, pNext mat.Dense
	tmp.Mul(&fMat, f.p)
	pNext.Mul(&tmp, fMat.T())

	q := f.cfg.ProcessNoise
	pNext.Set(0, 0, pNext.At(0, 0)+q)
	pNext.Set(1, 1, pNext.At(1, 1)+q*0.1)
	f.p = &pNext
}

// applyKalmanGain applies the scalar-measurement Kalman update with
// H = [1, 0] (spec.md §4.7).
func (f *Filter) applyKalmanGain(innovation, s float64) {
	k0 := f.p.At(0, 0) / s
	k1 := f.p.At(1, 0) / s

	f.x.SetVec(0, f.x.AtVec(0)+k0*innovation)
	f.x.SetVec(1, f.x.AtVec(1)+k1*innovation)

	p00, p01, p10, p11 := f.p.At(0, 0), f.p.At(0, 1), f.p.At(1, 0), f.p.At(1, 1)
	f.p.Set(0, 0, p00-k0*p00)
	f.p.Set(0, 1, p01-k0*p01)
	f.p.Set(1, 0, p10-k1*p00)
	f.p.Set(1, 1, p11-k1*p01)
}

func (f *Filter) advanceState() {
	switch {
	case f.sampleCount < 10:
		f.state = StateAcquiring
	case math.Sqrt(f.p.At(0, 0)) > f.cfg.LockThresholdMs || f.sampleCount < f.cfg.MinSamplesForLock:
		if f.state != StateReacquire {
			f.state = StateConverging
		}
	default:
		f.state = StateLocked
	}
}

// reacquire reinitializes covariance and the sample counter after too
// many consecutive anomalies (spec.md §4.7).
func (f *Filter) reacquire() {
	f.p = mat.NewDense(2, 2, []float64{1e6, 0, 0, 1e6})
	f.sampleCount = 0
	f.consecutiveAnomalies = 0
	f.state = StateReacquire
}

// Holdover marks the filter as holding its last locked state when
// measurements have been unavailable beyond the configured grace period
// (spec.md §4.7), without touching the Kalman state itself.
func (f *Filter) Holdover(now time.Time) {
	if now.Sub(f.lastUpdate) > f.cfg.HoldoverGrace {
		f.state = StateHoldover
	}
}

func (f *Filter) convergenceProgress() float64 {
	sigma := math.Sqrt(f.p.At(0, 0))
	if sigma <= f.cfg.LockThresholdMs {
		return 1
	}
	progress := f.cfg.LockThresholdMs / sigma
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}
	return progress
}

func (f *Filter) State() State { return f.state }

func (f *Filter) CovarianceOffset() float64 { return f.p.At(0, 0) }
