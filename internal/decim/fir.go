// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package decim

// statefulFIR is a causal FIR filter that carries its delay line across
// calls, optionally decimating its output by a fixed factor while
// carrying decimation phase across calls too, so a stream split across
// calls filters identically to one contiguous call (spec.md §8
// "Decimation boundary freedom").
type statefulFIR struct {
	taps     []complex64
	tail     []complex64 // last len(taps)-1 inputs from the previous call
	decimate int         // 1 = no decimation
	phase    int
}

func newStatefulFIR(taps []float64, decimate int) *statefulFIR {
	if decimate < 1 {
		decimate = 1
	}
	c := make([]complex64, len(taps))
	for i, t := range taps {
		c[i] = complex(float32(t), 0)
	}
	return &statefulFIR{
		taps:     c,
		tail:     make([]complex64, len(c)-1),
		decimate: decimate,
	}
}

func (f *statefulFIR) process(in []complex64) []complex64 {
	m := len(f.taps)
	tailLen := m - 1
	ext := make([]complex64, tailLen+len(in))
	copy(ext, f.tail)
	copy(ext[tailLen:], in)

	filtered := make([]complex64, len(in))
	for n := range in {
		var acc complex64
		for k := 0; k < m; k++ {
			acc += f.taps[k] * ext[n+tailLen-k]
		}
		filtered[n] = acc
	}

	if tailLen > 0 {
		if len(ext) >= tailLen {
			copy(f.tail, ext[len(ext)-tailLen:])
		}
	}

	if f.decimate == 1 {
		return filtered
	}

	out := make([]complex64, 0, len(filtered)/f.decimate+1)
	for i, x := range filtered {
		if (f.phase+i)%f.decimate == 0 {
			out = append(out, x)
		}
	}
	f.phase = (f.phase + len(filtered)) % f.decimate
	return out
}
