// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package decim

import "fmt"

// rateConfig describes one registered (input rate, CIC factor) pair: the
// CIC stage must bring the input down to exactly 400 Hz, per spec.md
// §4.3's "new rates are added by registering (input_rate, cic_R) pairs
// such that input_rate / cic_R = 400."
type rateConfig struct {
	inputRate int
	cicR      int
}

var registeredRates = map[int]rateConfig{
	20000: {inputRate: 20000, cicR: 50},
	16000: {inputRate: 16000, cicR: 40},
}

// RegisterRate adds a new (inputRate, cicR) pair, validating that it
// decimates to the pipeline's fixed 400 Hz intermediate rate.
func RegisterRate(inputRate, cicR int) error {
	if inputRate%cicR != 0 || inputRate/cicR != 400 {
		return fmt.Errorf("decim: rate %d with CIC factor %d does not reduce to 400 Hz", inputRate, cicR)
	}
	registeredRates[inputRate] = rateConfig{inputRate: inputRate, cicR: cicR}
	return nil
}

const (
	intermediateRateHz  = 400
	outputRateHz        = 10
	finalDecimation     = intermediateRateHz / outputRateHz // 40
	compFIRTaps         = 63
	compPassbandHz      = 5
	antiAliasCutoffHz   = 5
	antiAliasTransition = 1
	antiAliasStopbandDb = 90
	antiAliasMaxTaps    = 401
	cicStages           = 4

	// minInputSamples is the conservative minimum input length below
	// which the pipeline declines to produce output (spec.md §4.3/§7
	// FilterStarvation): shorter than this and even the first CIC/FIR
	// stage has not filled its delay lines enough to be meaningful.
	minInputSamples = 1000
)

// Pipeline is spec.md §4.3's three-stage decimator: CIC (rate/R -> 400 Hz),
// a 63-tap droop-compensation FIR at 400 Hz, and a Kaiser-windowed
// anti-alias FIR decimating 400 Hz -> 10 Hz. All stage state persists
// across Process calls.
type Pipeline struct {
	cfg      rateConfig
	cic      *cicDecimator
	compFIR  *statefulFIR
	aaFIR    *statefulFIR
	pending  []complex64 // samples buffered when a call is below minInputSamples
}

// NewPipeline constructs a decimation pipeline for a registered input
// sample rate (20000 or 16000 Hz by default; see RegisterRate).
func NewPipeline(inputRateHz int) (*Pipeline, error) {
	cfg, ok := registeredRates[inputRateHz]
	if !ok {
		return nil, fmt.Errorf("decim: unregistered input rate %d Hz", inputRateHz)
	}

	compTaps := designCompensationFIR(compFIRTaps, intermediateRateHz, compPassbandHz, cfg.cicR, cicStages)
	aaTaps := designAntiAliasFIR(antiAliasCutoffHz, antiAliasTransition, antiAliasStopbandDb, intermediateRateHz, antiAliasMaxTaps)

	return &Pipeline{
		cfg:     cfg,
		cic:     newCICDecimator(cfg.cicR),
		compFIR: newStatefulFIR(compTaps, 1),
		aaFIR:   newStatefulFIR(aaTaps, finalDecimation),
	}, nil
}

// Process decimates in (at the pipeline's configured input rate) down to
// 10 Hz, returning zero or more output samples. An input shorter than the
// pipeline's minimum is buffered and combined with the next call rather
// than discarded, per spec.md §4.3's "too-short" edge case and §7's
// FilterStarvation policy (state is kept, not an error).
func (p *Pipeline) Process(in []complex64) []complex64 {
	combined := in
	if len(p.pending) > 0 {
		combined = append(append([]complex64{}, p.pending...), in...)
	}
	if len(combined) < minInputSamples {
		p.pending = append([]complex64{}, combined...)
		return nil
	}
	p.pending = nil

	stage1 := p.cic.process(combined)
	stage2 := p.compFIR.process(stage1)
	stage3 := p.aaFIR.process(stage2)
	return stage3
}

// InputRate reports the pipeline's configured input sample rate in Hz.
func (p *Pipeline) InputRate() int { return p.cfg.inputRate }
