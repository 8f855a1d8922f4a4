// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package publish implements spec.md §4.9's timing shared-memory
// publisher and client: the fused timing result is written to a small
// JSON document at a well-known path, rewritten atomically on every
// update, and read by other processes with at-most-500ms freshness
// caching (spec.md §4.9, §6 "Timing SHM").
package publish

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	grapetime "github.com/gracentral/grapetime"
)

// DefaultPath is the conventional timing SHM path (spec.md §6).
const DefaultPath = "/dev/shm/grape_timing"

// staleAfter is the freshness threshold past which a snapshot is
// reported unhealthy (spec.md §4.9).
const staleAfter = 120 * time.Second

// ChannelSummary is one channel's entry in the timing document
// (spec.md §6 "Timing SHM" schema).
type ChannelSummary struct {
	ChannelName        string  `json:"channel_name"`
	Station            string  `json:"station"`
	Confidence         string  `json:"confidence"`
	DClockRawMs        float64 `json:"d_clock_raw_ms"`
	PropagationDelayMs float64 `json:"propagation_delay_ms"`
	PropagationMode    string  `json:"propagation_mode"`
	SNRDb              float64 `json:"snr_db"`
	UncertaintyMs      float64 `json:"uncertainty_ms"`
}

// document is the on-disk JSON schema (spec.md §6 "Timing SHM").
type document struct {
	GeneratedAt         float64                   `json:"generated_at"`
	Timestamp           float64                   `json:"timestamp"`
	ClockStatus         string                    `json:"clock_status"`
	DClockMs            float64                   `json:"d_clock_ms"`
	DClockUncertaintyMs float64                   `json:"d_clock_uncertainty_ms"`
	ChannelsActive      int                       `json:"channels_active"`
	ChannelsLocked      int                       `json:"channels_locked"`
	Channels            map[string]ChannelSummary `json:"channels"`
}

// Snapshot is the state handed to Writer.Publish for one fusion tick.
type Snapshot struct {
	Timestamp           time.Time
	ClockStatus         grapetime.ClockStatus
	DClockMs            float64
	DClockUncertaintyMs float64
	ChannelsActive      int
	ChannelsLocked      int
	Channels            map[string]ChannelSummary
}

// Writer publishes Snapshots to path, atomically (spec.md §4.9 "Writer:
// serialize to a temp path alongside the canonical path and rename
// atomically").
type Writer struct {
	path string
}

// NewWriter constructs a Writer for path (use DefaultPath in production).
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Publish atomically rewrites the timing document.
func (w *Writer) Publish(s Snapshot) error {
	doc := document{
		GeneratedAt:         float64(time.Now().UnixNano()) / 1e9,
		Timestamp:           float64(s.Timestamp.UnixNano()) / 1e9,
		ClockStatus:         s.ClockStatus.String(),
		DClockMs:            s.DClockMs,
		DClockUncertaintyMs: s.DClockUncertaintyMs,
		ChannelsActive:      s.ChannelsActive,
		ChannelsLocked:      s.ChannelsLocked,
		Channels:            s.Channels,
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

// TimingSnapshot is the client-facing read-only view of the published
// document, matching the original Python client's TimingSnapshot.
type TimingSnapshot struct {
	Timestamp           time.Time
	DClockMs            float64
	DClockUncertaintyMs float64
	ClockStatus         grapetime.ClockStatus
	ChannelsActive      int
	ChannelsLocked      int
	AgeSeconds          float64
}

// IsFresh reports whether the snapshot is recent enough to be trusted
// (spec.md §4.9, default maxAge 120s).
func (s TimingSnapshot) IsFresh(maxAge time.Duration) bool {
	return s.AgeSeconds < maxAge.Seconds()
}

// Client reads the timing SHM document, caching reads for up to 500ms
// (spec.md §4.9 "Client ... at-most-500 ms freshness caching").
type Client struct {
	path string

	mu       sync.Mutex
	cached   *document
	cachedAt time.Time
	cacheTTL time.Duration
}

// NewClient constructs a Client for path (use DefaultPath in production).
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultPath
	}
	return &Client{path: path, cacheTTL: 500 * time.Millisecond}
}

func (c *Client) read() *document {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		return c.cached
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	c.cached = &doc
	c.cachedAt = time.Now()
	return c.cached
}

// Available reports whether the timing SHM file exists.
func (c *Client) Available() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// IsAvailable reports whether timing data can currently be trusted
// (locked or holdover).
func (c *Client) IsAvailable() bool {
	status := c.clockStatus()
	return status == grapetime.ClockLocked || status == grapetime.ClockHoldover
}

// IsLocked reports whether the publisher currently has lock.
func (c *Client) IsLocked() bool {
	return c.clockStatus() == grapetime.ClockLocked
}

func (c *Client) clockStatus() grapetime.ClockStatus {
	doc := c.read()
	if doc == nil {
		return grapetime.ClockUnavailable
	}
	return parseClockStatus(doc.ClockStatus)
}

func parseClockStatus(s string) grapetime.ClockStatus {
	switch s {
	case "ACQUIRING":
		return grapetime.ClockAcquiring
	case "LOCKED":
		return grapetime.ClockLocked
	case "HOLDOVER":
		return grapetime.ClockHoldover
	case "UNLOCKED":
		return grapetime.ClockUnlocked
	default:
		return grapetime.ClockUnavailable
	}
}

// GetDClock returns the current fused D_clock, or (0, false) if
// unavailable (spec.md §4.9).
func (c *Client) GetDClock() (float64, bool) {
	doc := c.read()
	if doc == nil {
		return 0, false
	}
	status := parseClockStatus(doc.ClockStatus)
	if status != grapetime.ClockLocked && status != grapetime.ClockHoldover {
		return 0, false
	}
	return doc.DClockMs, true
}

// GetStation returns the identified station for channelName, or
// ("", false) if unavailable.
func (c *Client) GetStation(channelName string) (string, bool) {
	doc := c.read()
	if doc == nil {
		return "", false
	}
	if ch, ok := doc.Channels[channelName]; ok {
		return ch.Station, true
	}
	return "", false
}

// GetSnapshot returns a complete point-in-time view of the publisher's
// state, suitable for logging or decision-making.
func (c *Client) GetSnapshot() TimingSnapshot {
	doc := c.read()
	if doc == nil {
		return TimingSnapshot{
			Timestamp:           time.Now(),
			DClockUncertaintyMs: 999,
			ClockStatus:         grapetime.ClockUnavailable,
			AgeSeconds:          999,
		}
	}

	age := 999.0
	if doc.GeneratedAt > 0 {
		age = time.Since(time.Unix(0, int64(doc.GeneratedAt*1e9))).Seconds()
	}

	return TimingSnapshot{
		Timestamp:           time.Unix(0, int64(doc.Timestamp*1e9)),
		DClockMs:            doc.DClockMs,
		DClockUncertaintyMs: doc.DClockUncertaintyMs,
		ClockStatus:         parseClockStatus(doc.ClockStatus),
		ChannelsActive:      doc.ChannelsActive,
		ChannelsLocked:      doc.ChannelsLocked,
		AgeSeconds:          age,
	}
}

// GetUTCTime returns system_time - d_clock/1000 when available, and the
// raw system time otherwise (spec.md §4.9).
func (c *Client) GetUTCTime() time.Time {
	now := time.Now()
	dClock, ok := c.GetDClock()
	if !ok {
		return now
	}
	return now.Add(-time.Duration(dClock * float64(time.Millisecond)))
}

// WaitForLock polls until the publisher reports LOCKED or timeout
// elapses (spec.md §4.9).
func (c *Client) WaitForLock(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsLocked() {
			return true
		}
		time.Sleep(time.Second)
	}
	return c.IsLocked()
}

// EnsureParentDir creates path's parent directory if needed; useful in
// tests and non-/dev/shm deployments.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
