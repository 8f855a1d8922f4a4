// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2026 GRAPE Core Contributors

// fusiond is the multi-broadcast fusion service: it watches a data
// root's per-channel clock_offset_series.csv files and runs spec.md
// §4.8's fusion step on its own cadence, independent of any recorder
// (spec.md §6 "The fusion service takes a data-root path, a tick
// interval, and an optional flag to enable clock discipline").
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/gracentral/grapetime/internal/orchestrate"
	"github.com/gracentral/grapetime/internal/publish/clockdiscipline"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dataRoot        = pflag.StringP("data-root", "d", ".", "Data root containing csv/<channel>/clock_offset_series.csv.")
		tickInterval    = pflag.DurationP("interval", "i", time.Minute, "Fusion tick interval.")
		clockDiscipline = pflag.BoolP("clock-discipline", "k", false, "Publish the fused reference time to the OS's NTP SHM refclock.")
		shmUnit         = pflag.IntP("shm-unit", "u", 0, "NTP SHM refclock unit number.")
		verbose         = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
		help            = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fusiond - multi-broadcast clock-offset fusion service.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: fusiond [options]\n")
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

	channels, err := discoverFusionChannels(*dataRoot)
	if err != nil {
		log.Error().Err(err).Msg("failed to discover channel CSVs")
		return 1
	}
	if len(channels) == 0 {
		log.Error().Str("data_root", *dataRoot).Msg("no channel CSVs found")
		return 1
	}

	var discipline *clockdiscipline.Publisher
	if *clockDiscipline {
		discipline, err = clockdiscipline.Attach(*shmUnit)
		if err != nil {
			log.Error().Err(err).Msg("failed to attach clock discipline")
			return 1
		}
		defer discipline.Close()
	}

	ticker := orchestrate.NewFusionTicker(
		filepath.Join(*dataRoot, "state", "calibration.json"),
		channels,
		filepath.Join(*dataRoot, "csv"),
		filepath.Join(*dataRoot, "state", "timing_snapshot.json"),
		discipline,
		log,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stopped)
	}()

	t := time.NewTicker(*tickInterval)
	defer t.Stop()
	for {
		select {
		case <-stopped:
			return 0
		case <-t.C:
			if err := ticker.Run(); err != nil {
				log.Error().Err(err).Msg("fusion step failed")
			}
		}
	}
}

// discoverFusionChannels lists dataRoot/csv/<channel>/clock_offset_series.csv
// for every channel subdirectory present, since fusiond runs independent
// of any recorder's own channel configuration (spec.md §6).
func discoverFusionChannels(dataRoot string) ([]orchestrate.FusionChannel, error) {
	csvDir := filepath.Join(dataRoot, "csv")
	entries, err := os.ReadDir(csvDir)
	if err != nil {
		return nil, fmt.Errorf("fusiond: read %s: %w", csvDir, err)
	}

	var channels []orchestrate.FusionChannel
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(csvDir, e.Name(), "clock_offset_series.csv")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		channels = append(channels, orchestrate.FusionChannel{
			Name:    e.Name(),
			CSVPath: path,
		})
	}
	return channels, nil
}
