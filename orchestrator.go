// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

package grapetime

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gracentral/grapetime/internal/calib"
	"github.com/gracentral/grapetime/internal/convergence"
	"github.com/gracentral/grapetime/internal/metrics"
	"github.com/gracentral/grapetime/internal/ntpfallback"
	"github.com/gracentral/grapetime/internal/orchestrate"
	"github.com/gracentral/grapetime/internal/publish/clockdiscipline"
	"github.com/gracentral/grapetime/internal/rtpio"
	"github.com/gracentral/grapetime/internal/sdrctl"
	"github.com/gracentral/grapetime/internal/solver"
)

// OrchestratorChannel is one channel's static wiring input, mirroring
// config.ChannelConfig without importing the config package (which
// itself depends on nothing here) — kept as plain fields so callers
// outside cmd/recorderd can construct an Orchestrator directly.
type OrchestratorChannel struct {
	Spec     ChannelSpec
	Preset   string
	Encoding rtpio.Encoding
}

// OrchestratorConfig is the root orchestrator's wiring configuration (spec.md §6,
// §4.10). Analogous to diago.go's functional-options inputs, but
// expressed as a single struct since every field here is required
// wiring, not an optional override.
type OrchestratorConfig struct {
	StationID    string
	InstrumentID string

	SDRControlURL string
	SDRTimeout    time.Duration
	MulticastPort int

	Receiver solver.LatLon
	Channels []OrchestratorChannel

	DataRoot         string
	Retention        time.Duration
	RolloverInterval time.Duration
	SilenceThreshold time.Duration
	PresenceInterval time.Duration
	QuotaInterval    time.Duration

	Metrics *metrics.Registry // optional; nil disables export
}

// OrchestratorOption customizes an Orchestrator at construction time,
// the functional-options pattern diago.go's DiagoOption uses.
type OrchestratorOption func(*Orchestrator)

// WithLogger overrides the default logger, zerolog's global log.Logger.
func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics attaches a Prometheus registry; nil disables export.
func WithMetrics(reg *metrics.Registry) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = reg }
}

// Orchestrator owns one station's full fleet: the SDR control client,
// the multicast ingress group, one Channel+MinuteTask pair per
// configured carrier, and the independent fusion ticker (spec.md §4.10,
// "was diago.go" in the module map).
type Orchestrator struct {
	cfg OrchestratorConfig
	log zerolog.Logger

	sdr     *sdrctl.Client
	health  *sdrctl.HealthChecker
	grp     *rtpio.Group
	ntp     *ntpfallback.Environment
	metrics *metrics.Registry

	calibPath      string
	fusionChannels []orchestrate.FusionChannel
	timingSHMPath  string

	channels []*orchestrate.Channel
	tasks    []*orchestrate.MinuteTask
	fusion   *orchestrate.FusionTicker
}

// NewOrchestrator wires every component for cfg: it joins the ingress
// multicast group, creates the output and state directories, and, through
// orchestrate.NewChannel, ensures each channel exists in the SDR and opens
// its archive writer (spec.md §4.10 lifecycle steps 1-2). No task runs
// until Run is called.
func NewOrchestrator(cfg OrchestratorConfig, opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:     cfg,
		log:     log.Logger,
		metrics: cfg.Metrics,
	}
	for _, opt := range opts {
		opt(o)
	}

	destination := sdrctl.DeriveDestination(cfg.StationID, cfg.InstrumentID)
	mcastAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", destination, cfg.MulticastPort))
	if err != nil {
		return nil, fmt.Errorf("grapetime: resolve multicast destination %s: %w", destination, err)
	}

	o.sdr = sdrctl.NewClient(cfg.SDRControlURL, cfg.SDRTimeout, o.log)
	o.health = sdrctl.NewHealthChecker(o.sdr, o.log)
	o.ntp = ntpfallback.New()

	grp, err := rtpio.NewGroup(mcastAddr, o.log)
	if err != nil {
		return nil, fmt.Errorf("grapetime: join ingress multicast: %w", err)
	}
	o.grp = grp

	destWithPort := fmt.Sprintf("%s:%d", destination, cfg.MulticastPort)

	var fusionChannels []orchestrate.FusionChannel
	for _, ch := range cfg.Channels {
		channelDir := filepath.Join(cfg.DataRoot, "csv", ch.Spec.Name)
		if err := os.MkdirAll(channelDir, 0o755); err != nil {
			return nil, fmt.Errorf("grapetime: create channel output dir %s: %w", channelDir, err)
		}

		cc := orchestrate.ChannelConfig{
			Spec:             ch.Spec,
			Preset:           ch.Preset,
			Destination:      destWithPort,
			Encoding:         ch.Encoding,
			SilenceThreshold: cfg.SilenceThreshold,
			PresenceInterval: cfg.PresenceInterval,
			QuotaInterval:    cfg.QuotaInterval,
			Retention:        cfg.Retention,
			RawArchiveDir:    filepath.Join(cfg.DataRoot, "raw_archive"),
			Rollover:         cfg.RolloverInterval,
			Metrics:          o.metrics,
		}

		channel, err := orchestrate.NewChannel(cc, o.sdr, o.grp, o.log)
		if err != nil {
			return nil, fmt.Errorf("grapetime: wire channel %s: %w", ch.Spec.Name, err)
		}
		o.channels = append(o.channels, channel)

		convPath := filepath.Join(cfg.DataRoot, "state", ch.Spec.Name+"_convergence.json")
		if err := os.MkdirAll(filepath.Dir(convPath), 0o755); err != nil {
			return nil, fmt.Errorf("grapetime: create state dir: %w", err)
		}
		conv := convergence.NewFilter(convPath, convergence.DefaultConfig())

		getAnchor := o.anchorFunc(ch.Spec.FrequencyHz, channel)
		task := orchestrate.NewMinuteTask(ch.Spec, channel.Reader(), conv, cfg.Receiver, getAnchor, channelDir, o.metrics, o.log)
		o.tasks = append(o.tasks, task)

		fusionChannels = append(fusionChannels, orchestrate.FusionChannel{
			Name:    ch.Spec.Name,
			Station: ch.Spec.Family.String(),
			FreqMHz: ch.Spec.FrequencyMHz(),
			CSVPath: filepath.Join(channelDir, "clock_offset_series.csv"),
		})
	}

	o.calibPath = filepath.Join(cfg.DataRoot, "state", "calibration.json")
	if err := os.MkdirAll(filepath.Dir(o.calibPath), 0o755); err != nil {
		return nil, fmt.Errorf("grapetime: create state dir: %w", err)
	}
	// calib.Open is used directly by internal/fusion (via fusion.NewEngine);
	// this Open call here only validates the file is readable at startup,
	// matching §7 PersistenceCorruption's "rename aside, start fresh" policy.
	_ = calib.Open(o.calibPath)

	o.fusionChannels = fusionChannels
	o.timingSHMPath = filepath.Join(cfg.DataRoot, "state", "timing_snapshot.json")
	o.fusion = orchestrate.NewFusionTicker(o.calibPath, o.fusionChannels, filepath.Join(cfg.DataRoot, "csv"), o.timingSHMPath, nil, o.log)

	return o, nil
}

// EnableClockDiscipline attaches an NTP SHM publisher (unit 0 by
// default) so the fusion ticker also disciplines the OS clock, per
// spec.md §4.9 and the fusion daemon's optional clock-discipline flag
// (spec.md §6 CLI surface).
func (o *Orchestrator) EnableClockDiscipline(unit int) error {
	pub, err := clockdiscipline.Attach(unit)
	if err != nil {
		return fmt.Errorf("grapetime: attach clock discipline: %w", err)
	}
	o.fusion = orchestrate.NewFusionTicker(
		o.calibPath, o.fusionChannels, filepath.Join(o.cfg.DataRoot, "csv"),
		o.timingSHMPath, pub, o.log,
	)
	return nil
}

// anchorFunc returns a closure MinuteTask calls each minute to resolve
// the channel's current TimeReference (spec.md §3) by asking the SDR's
// discover_channels table for a gps_time<->rtp_timestamp mapping
// (spec.md §5 "Clock sources"). When no GPS-backed entry is present yet,
// it falls back to the channel's own most recently arrived packet,
// corrected by the cached NTP offset when available (ntp_fallback,
// spec.md §3), or used as-is when it is not (wallclock_fallback); both
// fallbacks carry reduced Confidence so downstream consumers can tell
// the anchor is degraded.
func (o *Orchestrator) anchorFunc(freqHz float64, ch *orchestrate.Channel) func() orchestrate.Anchor {
	return func() orchestrate.Anchor {
		table, err := o.sdr.DiscoverChannels()
		if err != nil {
			o.log.Warn().Err(err).Msg("anchor refresh: discover channels failed")
		} else {
			for _, entry := range table {
				if entry.FrequencyHz == freqHz && entry.GPSTime != 0 {
					return orchestrate.Anchor{
						GPSUnixSeconds: entry.GPSTime,
						RTPTimestamp:   entry.RTPTime,
						Confidence:     1.0,
						Provenance:     orchestrate.ProvenanceGPS,
					}
				}
			}
		}

		rtp, wallclock, ok := ch.LastArrival()
		if !ok {
			return orchestrate.Anchor{}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		o.ntp.Refresh(ctx)
		cancel()

		if status := o.ntp.Status(); status.Available {
			correctedUTC := wallclock.Add(-time.Duration(status.OffsetMs * float64(time.Millisecond)))
			confidence := 0.5
			if status.Synced {
				confidence = 0.7
			}
			return orchestrate.Anchor{
				GPSUnixSeconds: float64(correctedUTC.UnixNano()) / 1e9,
				RTPTimestamp:   rtp,
				Confidence:     confidence,
				Provenance:     orchestrate.ProvenanceNTPFallback,
			}
		}

		return orchestrate.Anchor{
			GPSUnixSeconds: float64(wallclock.UnixNano()) / 1e9,
			RTPTimestamp:   rtp,
			Confidence:     0.2,
			Provenance:     orchestrate.ProvenanceWallclockFallback,
		}
	}
}

// runHealthProbe periodically checks SDR reachability independent of
// any single channel's silence detection, logging transitions between
// alive and unreachable (the radiod_health.go-derived supplement to
// spec.md §4.10's per-channel presence check).
func (o *Orchestrator) runHealthProbe(stopped <-chan struct{}) {
	ticker := time.NewTicker(o.cfg.PresenceInterval)
	defer ticker.Stop()

	wasAlive := true
	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			status := o.health.Check()
			if status.Alive != wasAlive {
				o.log.Warn().Bool("alive", status.Alive).Err(status.Err).Msg("SDR reachability changed")
			}
			wasAlive = status.Alive
		}
	}
}

// Run starts ingress, every channel's lifecycle task, every minute
// analytics task, and the fusion ticker; it blocks until ctx is
// canceled, then closes everything down (spec.md §6 CLI surface: "runs
// until signaled").
func (o *Orchestrator) Run(ctx context.Context) error {
	stopped := make(chan struct{})
	var wg sync.WaitGroup

	ingressErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ingressErr <- o.grp.Run()
	}()

	for _, ch := range o.channels {
		ch := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Run(stopped)
		}()
	}
	for _, t := range o.tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.Schedule(stopped)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.fusion.Schedule(stopped)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.runHealthProbe(stopped)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-ingressErr:
		runErr = fmt.Errorf("grapetime: ingress group stopped: %w", err)
	}

	close(stopped)
	_ = o.grp.Close()
	for _, ch := range o.channels {
		if err := ch.Close(); err != nil {
			o.log.Warn().Err(err).Msg("channel close failed")
		}
	}
	wg.Wait()
	return runErr
}
