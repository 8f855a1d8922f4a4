// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// Package orchestrate implements spec.md §4.10: per-channel lifecycle,
// the per-minute analytics scheduler, and the independent fusion ticker.
package orchestrate

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/internal/archive"
	"github.com/gracentral/grapetime/internal/metrics"
	"github.com/gracentral/grapetime/internal/rtpio"
)

// ChannelConfig is one channel's static lifecycle configuration
// (spec.md §3 ChannelSpec plus the SDR-facing parameters spec.md §6
// names for create_channel).
type ChannelConfig struct {
	Spec        grapetime.ChannelSpec
	Preset      string
	Destination string // our deterministic multicast destination
	Encoding    rtpio.Encoding

	SilenceThreshold time.Duration // default 30s, spec.md §4.10 step 3
	PresenceInterval time.Duration // default 30s
	QuotaInterval    time.Duration // default 5m
	Retention        time.Duration // minimum raw-archive retention window
	RawArchiveDir    string
	Rollover         time.Duration
	Metrics          *metrics.Registry // optional; nil disables export
}

// Channel owns one SDR channel's full ingest path: ingress resequencing,
// raw archive writing, and periodic presence/quota maintenance
// (spec.md §4.10).
type Channel struct {
	cfg ChannelConfig
	sdr SDRController
	grp *rtpio.Group
	log zerolog.Logger

	mu         sync.Mutex
	ssrc       uint32
	seq        *rtpio.Sequencer
	writer     *archive.Writer
	lastPacket time.Time
	lastRTP    uint32
	prevStats  rtpio.Stats
}

// NewChannel creates the channel in the SDR (or adopts an existing
// owned one), wires up the resequencer and archive writer, and
// subscribes to the RTP group (spec.md §4.10 lifecycle steps 1-2).
func NewChannel(cfg ChannelConfig, sdr SDRController, grp *rtpio.Group, log zerolog.Logger) (*Channel, error) {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 30 * time.Second
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = 30 * time.Second
	}
	if cfg.QuotaInterval <= 0 {
		cfg.QuotaInterval = 5 * time.Minute
	}

	ssrc, err := ensureChannel(sdr, cfg.Spec.FrequencyHz, cfg.Preset, cfg.Spec.SampleRate, cfg.Destination, cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: ensure channel %s: %w", cfg.Spec.Name, err)
	}

	writer, err := archive.NewWriter(cfg.RawArchiveDir, cfg.Spec.Name, cfg.Spec.SampleRate, cfg.Rollover, log)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: archive writer %s: %w", cfg.Spec.Name, err)
	}

	c := &Channel{
		cfg:    cfg,
		sdr:    sdr,
		grp:    grp,
		log:    log.With().Str("channel", cfg.Spec.Name).Logger(),
		ssrc:   ssrc,
		seq:    rtpio.NewSequencer(cfg.Spec.SampleRate, 60),
		writer: writer,
	}

	grp.Subscribe(ssrc, cfg.Spec.Name, rtpio.PacketSinkFunc(c.onPacket))
	return c, nil
}

func (c *Channel) onPacket(h rtpio.Header, payload []complex64, wallclockNanos int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastPacket = time.Now()
	c.lastRTP = h.Timestamp
	emits := c.seq.Push(h.SequenceNumber, h.Timestamp, payload, wallclockNanos)
	for _, e := range emits {
		if e.Block != nil {
			if err := c.writer.WriteBlock(e.Block.RTPTimestamp, e.Block.Samples, nil); err != nil {
				c.log.Warn().Err(err).Msg("archive write failed")
				c.countDroppedWriteLocked()
			}
		}
		if e.Gap != nil {
			if err := c.writer.WriteBlock(e.Gap.RTPStart, make([]complex64, e.Gap.Length), e.Gap); err != nil {
				c.log.Warn().Err(err).Msg("archive gap write failed")
				c.countDroppedWriteLocked()
			}
		}
	}
	stats := c.seq.Stats()
	c.writer.RecordStreamHealth(stats)
	c.reportMetricsLocked(stats)
}

// reportMetricsLocked mirrors the resequencer's cumulative counters into
// the optional Prometheus registry as deltas since the last packet,
// since rtpio.Stats is a running total and prometheus.Counter only
// accepts non-negative increments. Must be called with c.mu held.
func (c *Channel) reportMetricsLocked(stats rtpio.Stats) {
	if c.cfg.Metrics == nil {
		return
	}
	name := c.cfg.Spec.Name
	c.cfg.Metrics.PacketsReceived.WithLabelValues(name).Add(float64(stats.PacketsReceived - c.prevStats.PacketsReceived))
	c.cfg.Metrics.PacketsDropped.WithLabelValues(name).Add(float64(stats.PacketsDropped - c.prevStats.PacketsDropped))
	c.cfg.Metrics.PacketsOOO.WithLabelValues(name).Add(float64(stats.PacketsOOO - c.prevStats.PacketsOOO))
	c.cfg.Metrics.Resyncs.WithLabelValues(name).Add(float64(stats.Resyncs - c.prevStats.Resyncs))
	c.cfg.Metrics.ChannelsActive.WithLabelValues(name).Set(1)
	c.prevStats = stats
}

// countDroppedWriteLocked counts an archive write dropped by the
// filesystem as a DiskExhaustion event (spec.md §7: "if still exhausted,
// writes are dropped and counted"). Must be called with c.mu held.
func (c *Channel) countDroppedWriteLocked() {
	if c.cfg.Metrics == nil {
		return
	}
	c.cfg.Metrics.DiskExhaustionDrops.WithLabelValues(c.cfg.Spec.Name).Inc()
}

// Reader opens a fresh reader over this channel's raw archive, for the
// analytics task (spec.md §5: one writer, one lagging reader).
func (c *Channel) Reader() *archive.Reader {
	return archive.NewReader(c.cfg.RawArchiveDir, c.cfg.Spec.Name)
}

// LastArrival reports the RTP timestamp and wallclock time of the most
// recently received packet, for building a degraded-confidence time
// anchor when no GPS-backed mapping is available (spec.md §3
// TimeReference's ntp_fallback/wallclock_fallback provenance). ok is
// false until at least one packet has arrived.
func (c *Channel) LastArrival() (rtp uint32, wallclock time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRTP, c.lastPacket, !c.lastPacket.IsZero()
}

// CheckPresence implements lifecycle step 3: verify the SDR still
// reports this channel and that packets have arrived recently; if
// either check fails, recreate the channel and resubscribe under the
// (possibly new) SSRC.
func (c *Channel) CheckPresence() error {
	c.mu.Lock()
	ssrc := c.ssrc
	silent := !c.lastPacket.IsZero() && time.Since(c.lastPacket) > c.cfg.SilenceThreshold
	c.mu.Unlock()

	table, err := c.sdr.DiscoverChannels()
	if err != nil {
		return fmt.Errorf("orchestrate: discover channels: %w", err)
	}
	present := findChannel(table, c.cfg.Spec.FrequencyHz) != nil

	if present && !silent {
		return nil
	}

	c.log.Warn().Bool("present", present).Bool("silent", silent).Msg("channel unhealthy, recreating")
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ChannelsActive.WithLabelValues(c.cfg.Spec.Name).Set(0)
	}
	c.grp.Unsubscribe(ssrc)

	newSSRC, err := ensureChannel(c.sdr, c.cfg.Spec.FrequencyHz, c.cfg.Preset, c.cfg.Spec.SampleRate, c.cfg.Destination, c.cfg.Encoding)
	if err != nil {
		return fmt.Errorf("orchestrate: recreate channel %s: %w", c.cfg.Spec.Name, err)
	}

	c.mu.Lock()
	c.ssrc = newSSRC
	c.seq = rtpio.NewSequencer(c.cfg.Spec.SampleRate, 60)
	c.prevStats = rtpio.Stats{}
	c.mu.Unlock()

	c.grp.Subscribe(newSSRC, c.cfg.Spec.Name, rtpio.PacketSinkFunc(c.onPacket))
	return nil
}

// EnforceQuota implements lifecycle step 4: delete the oldest raw
// archive files beyond the minimum retention window.
func (c *Channel) EnforceQuota(now time.Time) error {
	return enforceRetention(c.cfg.RawArchiveDir, c.cfg.Spec.Name, c.cfg.Retention, now)
}

// Run starts the presence-check and quota-enforcement tickers; it
// blocks until stopped is closed (spec.md §5: "one orchestration task
// performing health checks and quota enforcement on coarse timers").
func (c *Channel) Run(stopped <-chan struct{}) {
	presenceTicker := time.NewTicker(c.cfg.PresenceInterval)
	quotaTicker := time.NewTicker(c.cfg.QuotaInterval)
	defer presenceTicker.Stop()
	defer quotaTicker.Stop()

	for {
		select {
		case <-stopped:
			return
		case <-presenceTicker.C:
			if err := c.CheckPresence(); err != nil {
				c.log.Error().Err(err).Msg("presence check failed")
			}
		case <-quotaTicker.C:
			if err := c.EnforceQuota(time.Now()); err != nil {
				c.log.Error().Err(err).Msg("quota enforcement failed")
			}
		}
	}
}

// Close flushes the archive writer and unsubscribes from the RTP group.
func (c *Channel) Close() error {
	c.mu.Lock()
	ssrc := c.ssrc
	c.mu.Unlock()
	c.grp.Unsubscribe(ssrc)
	return c.writer.Close()
}
