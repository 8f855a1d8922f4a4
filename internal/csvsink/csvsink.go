// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package csvsink implements the line-atomic append-only CSV outputs
// named in spec.md §6: per-channel clock-offset series, daily carrier
// power and discrimination-method files, and the fused D_clock series.
// Each sink owns its header and its file handle; writers never truncate
// and readers tolerate a partial trailing line by discarding it
// (spec.md §5's shared-resource contract for per-channel CSV outputs).
package csvsink

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Sink appends rows to a single CSV file, writing the header once on
// first creation and re-opening across day boundaries when dated.
type Sink struct {
	mu      sync.Mutex
	dir     string
	stem    string // e.g. "carrier_power"; "" for a fixed, non-dated file
	fixed   string // full fixed filename when stem == ""
	header  []string
	daily   bool

	f        *os.File
	w        *csv.Writer
	openName string
}

// NewFixed opens (or prepares to open) a single non-dated file at
// dir/name, e.g. "clock_offset_series.csv".
func NewFixed(dir, name string, header []string) *Sink {
	return &Sink{dir: dir, fixed: name, header: header}
}

// NewDaily opens (or prepares to open) a file named stem_<YYYYMMDD>.csv
// under dir, rotating when the UTC date changes, e.g. "carrier_power".
func NewDaily(dir, stem string, header []string) *Sink {
	return &Sink{dir: dir, stem: stem, header: header, daily: true}
}

func (s *Sink) targetName(now time.Time) string {
	if !s.daily {
		return s.fixed
	}
	return fmt.Sprintf("%s_%s.csv", s.stem, now.UTC().Format("20060102"))
}

// Append writes one row, opening or rotating the underlying file as
// needed, and flushes immediately so every write is a complete line on
// disk (spec.md §5: "all writes are line-atomic").
func (s *Sink) Append(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	name := s.targetName(now)
	if s.f == nil || name != s.openName {
		if err := s.rotate(name); err != nil {
			return err
		}
	}

	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("csvsink: write %s: %w", name, err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *Sink) rotate(name string) error {
	if s.f != nil {
		s.w.Flush()
		_ = s.f.Close()
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("csvsink: mkdir %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, name)

	_, statErr := os.Stat(path)
	alreadyExists := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("csvsink: open %s: %w", path, err)
	}

	s.f = f
	s.w = csv.NewWriter(f)
	s.openName = name

	if !alreadyExists && len(s.header) > 0 {
		if err := s.w.Write(s.header); err != nil {
			return fmt.Errorf("csvsink: write header %s: %w", path, err)
		}
		s.w.Flush()
	}
	return s.w.Error()
}

// Close flushes and closes the underlying file, if open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := s.f.Close()
	s.f = nil
	return err
}

// TailRows reads every complete row from path, discarding a partial
// trailing line (spec.md §5: "readers tolerate partial trailing lines
// by discarding them"). It returns nil, nil if the file does not yet
// exist.
func TailRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("csvsink: open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	// A scanner error here (e.g. a line exceeding the buffer) is treated
	// the same as a torn trailing line: drop it and keep what parsed.

	if len(lines) == 0 {
		return nil, nil
	}

	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		r := csv.NewReader(strings.NewReader(line))
		row, err := r.Read()
		if err != nil {
			continue // partial/corrupt trailing line: discard
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		rows = rows[1:] // drop header
	}
	return rows, nil
}
