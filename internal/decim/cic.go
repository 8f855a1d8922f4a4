// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package decim implements spec.md §4.3's three-stage decimation pipeline:
// a CIC-equivalent boxcar decimator, a droop-compensation FIR, and a
// Kaiser-windowed anti-alias FIR, cascaded to take 20 kHz (or 16 kHz)
// complex IQ down to 10 Hz while preserving filter state across calls so
// concatenated minute buffers produce one continuous output stream.
package decim

// boxcarStage is a single-section moving-sum filter: output[n] is the sum
// of the R most recent inputs (including history carried from the
// previous call). Four cascaded boxcar stages followed by downsampling by
// R approximate a 4th-order CIC decimator's sinc^4 response.
type boxcarStage struct {
	r    int
	ring []complex64
	pos  int
	sum  complex64
}

func newBoxcarStage(r int) *boxcarStage {
	return &boxcarStage{r: r, ring: make([]complex64, r)}
}

func (b *boxcarStage) process(in, out []complex64) {
	for i, x := range in {
		old := b.ring[b.pos]
		b.ring[b.pos] = x
		b.sum += x - old
		b.pos++
		if b.pos == b.r {
			b.pos = 0
		}
		out[i] = b.sum
	}
}

// cicDecimator cascades four boxcarStage filters at rate R then downsamples
// by R, carrying decimation phase across calls so a stream split into
// arbitrary-length chunks decimates identically to one long call.
type cicDecimator struct {
	r         int
	stages    [4]*boxcarStage
	scratch   [4][]complex64
	phase     int // samples consumed since the last kept output, mod R
}

func newCICDecimator(r int) *cicDecimator {
	d := &cicDecimator{r: r}
	for i := range d.stages {
		d.stages[i] = newBoxcarStage(r)
	}
	return d
}

// gain is the CIC's DC gain, R^(number of stages), used to normalize the
// decimated output back to unit gain.
func (d *cicDecimator) gain() float64 {
	g := 1.0
	for i := 0; i < len(d.stages); i++ {
		g *= float64(d.r)
	}
	return g
}

func (d *cicDecimator) ensureScratch(n int) {
	for i := range d.scratch {
		if cap(d.scratch[i]) < n {
			d.scratch[i] = make([]complex64, n)
		}
		d.scratch[i] = d.scratch[i][:n]
	}
}

// process filters in through the four cascaded boxcar stages, then keeps
// every r-th sample, continuing the decimation phase from the previous
// call. Returns the decimated, gain-normalized output.
func (d *cicDecimator) process(in []complex64) []complex64 {
	if len(in) == 0 {
		return nil
	}
	d.ensureScratch(len(in))

	cur := in
	for i, stage := range d.stages {
		stage.process(cur, d.scratch[i])
		cur = d.scratch[i]
	}

	gain := complex64(complex(d.gain(), 0))
	out := make([]complex64, 0, len(in)/d.r+1)
	for i, x := range cur {
		if (d.phase+i)%d.r == 0 {
			out = append(out, x/gain)
		}
	}
	d.phase = (d.phase + len(in)) % d.r
	return out
}
