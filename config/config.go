// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package config loads the recorder and fusion daemons' YAML
// configuration (spec.md §6 CLI surface: "the recorder daemon takes a
// configuration path"), applying defaults over the partially-zero
// struct the way diago.go's NewDiago applies transport/media defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/internal/rtpio"
	"github.com/gracentral/grapetime/internal/solver"
)

// ChannelConfig is one configured SDR channel (spec.md §3 ChannelSpec
// plus the SDR-facing parameters §6 create_channel needs).
type ChannelConfig struct {
	Name        string  `yaml:"name"`
	FrequencyHz float64 `yaml:"frequency_hz"`
	SampleRate  int     `yaml:"sample_rate"`
	Description string  `yaml:"description"`
	Preset      string  `yaml:"preset"`
	Encoding    string  `yaml:"encoding"` // "float32" or "int16"
}

// Spec converts the configured channel to the core's ChannelSpec,
// inferring station family from frequency.
func (c ChannelConfig) Spec() grapetime.ChannelSpec {
	return grapetime.NewChannelSpec(c.Name, c.FrequencyHz, c.SampleRate, c.Description)
}

// WireEncoding maps the configured encoding name to rtpio.Encoding,
// defaulting to float32 per spec.md §4.10 step 1 ("encoding (float32
// preferred)").
func (c ChannelConfig) WireEncoding() rtpio.Encoding {
	if c.Encoding == "int16" {
		return rtpio.EncodingInt16IQ
	}
	return rtpio.EncodingFloat32IQ
}

// Config is the recorder daemon's full configuration (spec.md §6).
type Config struct {
	StationID    string `yaml:"station_id"`
	InstrumentID string `yaml:"instrument_id"`

	SDRControlURL string `yaml:"sdr_control_url"`
	MulticastPort int    `yaml:"multicast_port"`

	ReceiverGridSquare string  `yaml:"receiver_grid_square"`
	ReceiverLatDeg     float64 `yaml:"receiver_lat_deg"`
	ReceiverLonDeg     float64 `yaml:"receiver_lon_deg"`

	Channels []ChannelConfig `yaml:"channels"`

	DataRoot          string        `yaml:"data_root"`
	Retention         time.Duration `yaml:"retention"`
	RolloverInterval  time.Duration `yaml:"rollover_interval"`
	SilenceThreshold  time.Duration `yaml:"silence_threshold"`
	PresenceInterval  time.Duration `yaml:"presence_interval"`
	QuotaInterval     time.Duration `yaml:"quota_interval"`
	SDRTimeout        time.Duration `yaml:"sdr_timeout"`

	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// Load reads and parses path, applying defaults over any field left
// unset (spec.md §6 "a configuration path"). A missing or malformed
// file is a FatalMisconfiguration (spec.md §7): the caller is expected
// to abort startup on the returned error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SDRTimeout <= 0 {
		cfg.SDRTimeout = 5 * time.Second
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 30 * time.Second
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = 30 * time.Second
	}
	if cfg.QuotaInterval <= 0 {
		cfg.QuotaInterval = 5 * time.Minute
	}
	if cfg.RolloverInterval <= 0 {
		cfg.RolloverInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.DataRoot == "" {
		cfg.DataRoot = "."
	}
	if cfg.MulticastPort == 0 {
		cfg.MulticastPort = 5004
	}
	for i := range cfg.Channels {
		if cfg.Channels[i].Preset == "" {
			cfg.Channels[i].Preset = "iq"
		}
		if cfg.Channels[i].SampleRate == 0 {
			cfg.Channels[i].SampleRate = 20000
		}
	}
}

// Validate reports a FatalMisconfiguration (spec.md §7): an invalid
// sample rate, an unresolvable receiver location, or no configured
// channels at all.
func (c Config) Validate() error {
	if c.StationID == "" || c.InstrumentID == "" {
		return fmt.Errorf("config: station_id and instrument_id are required")
	}
	if c.SDRControlURL == "" {
		return fmt.Errorf("config: sdr_control_url is required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("config: at least one channel is required")
	}
	for _, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("config: channel missing name")
		}
		if ch.SampleRate <= 0 {
			return fmt.Errorf("config: channel %s: invalid sample rate %d", ch.Name, ch.SampleRate)
		}
		if ch.FrequencyHz <= 0 {
			return fmt.Errorf("config: channel %s: invalid frequency", ch.Name)
		}
	}
	if _, err := c.ReceiverLocation(); err != nil {
		return err
	}
	return nil
}

// ReceiverLocation resolves the configured receiver position, preferring
// an explicit lat/lon pair and falling back to the Maidenhead grid
// square (spec.md DOMAIN STACK: "stations are typically configured by
// grid square rather than raw coordinates").
func (c Config) ReceiverLocation() (solver.LatLon, error) {
	if c.ReceiverLatDeg != 0 || c.ReceiverLonDeg != 0 {
		return solver.LatLon{LatDeg: c.ReceiverLatDeg, LonDeg: c.ReceiverLonDeg}, nil
	}
	if c.ReceiverGridSquare == "" {
		return solver.LatLon{}, fmt.Errorf("config: receiver location unresolvable: no grid square or lat/lon configured")
	}
	lat, lon, err := solver.ParseMaidenhead(c.ReceiverGridSquare)
	if err != nil {
		return solver.LatLon{}, fmt.Errorf("config: receiver location unresolvable: %w", err)
	}
	return solver.LatLon{LatDeg: lat, LonDeg: lon}, nil
}
