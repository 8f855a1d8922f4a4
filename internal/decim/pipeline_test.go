// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package decim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticTone(n int, sampleRateHz, toneHz float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		phase := 2 * math.Pi * toneHz * float64(i) / sampleRateHz
		out[i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
	}
	return out
}

func TestPipelineConstantInputConverges(t *testing.T) {
	p, err := NewPipeline(20000)
	require.NoError(t, err)

	const n = 20000 * 3
	in := make([]complex64, n)
	for i := range in {
		in[i] = complex(1, 0)
	}

	out := p.Process(in)
	require.NotEmpty(t, out)

	// After the delay lines have filled, the output should have settled
	// near the DC value (unity).
	tail := out[len(out)-20:]
	for _, s := range tail {
		assert.InDelta(t, 1.0, real(s), 0.05)
		assert.InDelta(t, 0.0, imag(s), 0.05)
	}
}

func TestPipelineTooShortInputProducesNoOutputYet(t *testing.T) {
	p, err := NewPipeline(20000)
	require.NoError(t, err)

	out := p.Process(make([]complex64, 10))
	assert.Empty(t, out)

	// The buffered short input should combine with a later call rather
	// than being lost.
	out = p.Process(make([]complex64, 20000))
	assert.NotEmpty(t, out)
}

func TestPipelineUnregisteredRateErrors(t *testing.T) {
	_, err := NewPipeline(44100)
	assert.Error(t, err)
}

// TestPipelineBoundaryFreedom is spec.md §8 "Decimation boundary
// freedom": filtering one long block gives the same output as filtering
// it split into sub-blocks with state preserved across calls.
func TestPipelineBoundaryFreedom(t *testing.T) {
	const totalSamples = 20000 * 10 // 10 seconds at 20 kHz
	input := syntheticTone(totalSamples, 20000, 3.0)

	oneShot, err := NewPipeline(20000)
	require.NoError(t, err)
	wantOut := oneShot.Process(input)
	require.NotEmpty(t, wantOut)

	chunked, err := NewPipeline(20000)
	require.NoError(t, err)
	var gotOut []complex64
	chunkSize := 3700 // deliberately not a multiple of the CIC factor
	for start := 0; start < len(input); start += chunkSize {
		end := start + chunkSize
		if end > len(input) {
			end = len(input)
		}
		gotOut = append(gotOut, chunked.Process(input[start:end])...)
	}

	require.Equal(t, len(wantOut), len(gotOut))
	for i := range wantOut {
		assert.InDelta(t, real(wantOut[i]), real(gotOut[i]), 1e-4)
		assert.InDelta(t, imag(wantOut[i]), imag(gotOut[i]), 1e-4)
	}
}

func TestRegisterRateRejectsBadFactor(t *testing.T) {
	err := RegisterRate(12000, 40) // 12000/40 = 300, not 400
	assert.Error(t, err)

	require.NoError(t, RegisterRate(8000, 20)) // 8000/20 = 400, valid
}
