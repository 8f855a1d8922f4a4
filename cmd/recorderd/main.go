// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// recorderd is the per-station recorder daemon: it loads a configuration
// file, wires one Orchestrator, and runs until signaled (spec.md §6 "The
// recorder daemon takes a configuration path and runs until signaled").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	grapetime "github.com/gracentral/grapetime"
	"github.com/gracentral/grapetime/config"
	"github.com/gracentral/grapetime/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = pflag.StringP("config", "c", "recorderd.yaml", "Path to the recorder configuration file.")
		verbose     = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
		metricsAddr = pflag.StringP("metrics-addr", "m", "", "Listen address for the Prometheus metrics endpoint. Empty disables it.")
		help        = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "recorderd - per-station HF time-signal recorder daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: recorderd [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("configuration error")
		return 1
	}

	var reg *metrics.Registry
	if *metricsAddr != "" {
		reg = metrics.New()
		go serveMetrics(*metricsAddr, reg, log)
	}

	orch, err := buildOrchestrator(cfg, reg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize orchestrator")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		log.Error().Err(err).Msg("recorder stopped with error")
		return 1
	}
	return 0
}

func buildOrchestrator(cfg config.Config, reg *metrics.Registry, log zerolog.Logger) (*grapetime.Orchestrator, error) {
	receiver, err := cfg.ReceiverLocation()
	if err != nil {
		return nil, err
	}

	channels := make([]grapetime.OrchestratorChannel, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels = append(channels, grapetime.OrchestratorChannel{
			Spec:     ch.Spec(),
			Preset:   ch.Preset,
			Encoding: ch.WireEncoding(),
		})
	}

	return grapetime.NewOrchestrator(grapetime.OrchestratorConfig{
		StationID:        cfg.StationID,
		InstrumentID:     cfg.InstrumentID,
		SDRControlURL:    cfg.SDRControlURL,
		SDRTimeout:       cfg.SDRTimeout,
		MulticastPort:    cfg.MulticastPort,
		Receiver:         receiver,
		Channels:         channels,
		DataRoot:         cfg.DataRoot,
		Retention:        cfg.Retention,
		RolloverInterval: cfg.RolloverInterval,
		SilenceThreshold: cfg.SilenceThreshold,
		PresenceInterval: cfg.PresenceInterval,
		QuotaInterval:    cfg.QuotaInterval,
		Metrics:          reg,
	}, grapetime.WithLogger(log))
}

// serveMetrics exposes reg on /metrics, in the manner of go-tcpinfo's
// exporter examples (promhttp.Handler over a dedicated mux, rather than
// the DefaultServeMux prometheus.MustRegister uses, since reg owns its
// own private *prometheus.Registry).
func serveMetrics(addr string, reg *metrics.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
