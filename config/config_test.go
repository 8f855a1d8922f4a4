// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
station_id: W1ABC
instrument_id: recorder01
sdr_control_url: http://127.0.0.1:8888
receiver_grid_square: EM19
channels:
  - name: wwv10
    frequency_hz: 10000000
  - name: wwv15
    frequency_hz: 15000000
    sample_rate: 8000
    encoding: int16
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "W1ABC", cfg.StationID)
	assert.Equal(t, 5*60_000_000_000, int(cfg.QuotaInterval))
	assert.Equal(t, 20000, cfg.Channels[0].SampleRate)
	assert.Equal(t, "iq", cfg.Channels[0].Preset)
	assert.Equal(t, 8000, cfg.Channels[1].SampleRate)
}

func TestLoadResolvesGridSquare(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)

	loc, err := cfg.ReceiverLocation()
	require.NoError(t, err)
	assert.InDelta(t, 41.0, loc.LatDeg, 2.0)
}

func TestLoadRejectsMissingStationID(t *testing.T) {
	_, err := Load(writeTemp(t, `
sdr_control_url: http://x
channels:
  - name: wwv10
    frequency_hz: 10000000
`))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidSampleRate(t *testing.T) {
	_, err := Load(writeTemp(t, `
station_id: W1ABC
instrument_id: recorder01
sdr_control_url: http://x
receiver_grid_square: EM19
channels:
  - name: wwv10
    frequency_hz: 10000000
    sample_rate: -1
`))
	assert.Error(t, err)
}

func TestLoadRejectsUnresolvableReceiverLocation(t *testing.T) {
	_, err := Load(writeTemp(t, `
station_id: W1ABC
instrument_id: recorder01
sdr_control_url: http://x
channels:
  - name: wwv10
    frequency_hz: 10000000
`))
	assert.Error(t, err)
}

func TestWireEncodingDefaultsToFloat32(t *testing.T) {
	c := ChannelConfig{}
	assert.Equal(t, "float32-iq", c.WireEncoding().String())
}
