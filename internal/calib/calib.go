// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package calib persists per-broadcast calibration offsets, keyed by
// STATION_FREQMHZ (spec.md §6 "Calibration file"), to a single JSON
// file rewritten atomically on every update.
package calib

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

// Key builds the STATION_FREQMHZ calibration key (spec.md §6).
func Key(station string, freqMHz float64) string {
	return fmt.Sprintf("%s_%.2f", station, freqMHz)
}

// Entry is one broadcast's learned calibration (spec.md §6 "Calibration
// file" schema).
type Entry struct {
	Station         string    `json:"station"`
	FrequencyMHz    float64   `json:"frequency_mhz"`
	OffsetMs        float64   `json:"offset_ms"`
	UncertaintyMs   float64   `json:"uncertainty_ms"`
	NSamples        int       `json:"n_samples"`
	LastUpdated     time.Time `json:"last_updated"`
	ReferenceStation string   `json:"reference_station"`
}

// Store is a persisted table of per-broadcast Entry values. Empty on
// first run; learned entirely from data (spec.md §6: "Empty on first
// run; learned").
type Store struct {
	path string
	mu   sync.Mutex
	data map[string]Entry
}

// Open loads path if present, or starts with an empty table. A
// corrupt file is renamed aside and a fresh table is used in its place
// (spec.md §7 PersistenceCorruption).
func Open(path string) *Store {
	s := &Store{path: path, data: map[string]Entry{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		_ = os.Rename(path, path+".bad")
		s.data = map[string]Entry{}
	}
	return s
}

// Offset returns the current calibration offset for key, 0 if unknown.
func (s *Store) Offset(key string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key].OffsetMs
}

// Entry returns the full calibration entry for key, and whether it
// exists.
func (s *Store) Entry(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	return e, ok
}

// Update applies one EMA step toward driving rawDClockMs's mean to
// zero: alpha = max(0.1, min(0.3, 10/n)) (spec.md §4.8 step 4). Returns
// the post-update offset to apply to the measurement that produced
// rawDClockMs (step 5).
func (s *Store) Update(station string, freqMHz, rawDClockMs float64, now time.Time) float64 {
	key := Key(station, freqMHz)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.data[key]
	entry.Station = station
	entry.FrequencyMHz = freqMHz
	entry.NSamples++

	alpha := math.Max(0.1, math.Min(0.3, 10/float64(entry.NSamples)))
	target := -rawDClockMs
	entry.OffsetMs = alpha*target + (1-alpha)*entry.OffsetMs
	entry.UncertaintyMs = math.Max(0.1, entry.UncertaintyMs*(1-alpha)+math.Abs(target-entry.OffsetMs)*alpha)
	entry.LastUpdated = now

	s.data[key] = entry
	_ = s.persistLocked()
	return entry.OffsetMs
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
