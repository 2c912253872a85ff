package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ericogr/allsky-acquire/pkg/acquire"
	"github.com/ericogr/allsky-acquire/pkg/config"
	"github.com/ericogr/allsky-acquire/pkg/logging"
	"github.com/ericogr/allsky-acquire/pkg/metrics"
	"github.com/ericogr/allsky-acquire/pkg/output"
	"github.com/ericogr/allsky-acquire/pkg/output/console"
	"github.com/ericogr/allsky-acquire/pkg/output/influx"
	mqttout "github.com/ericogr/allsky-acquire/pkg/output/mqtt"
	"github.com/ericogr/allsky-acquire/pkg/sensor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "allsky-acquire",
		Usage: "Acquire all-sky camera exposures with magnetometer and temperature measurements",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration document (JSON, YAML or TOML)",
				Sources: cli.EnvVars("ALLSKY_CONFIG"),
				Value:   "allsky.json",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "now",
				Usage: "Start immediately, ignoring observation_start_time",
			},
			&cli.BoolFlag{
				Name:  "print-config",
				Usage: "Print the effective configuration and exit",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) (err error) {
	log := logging.New(cmd.ErrWriter, cmd.Bool("verbose"))
	defer func() {
		if err != nil {
			log.Error().Err(err).Msg("acquisition aborted")
		}
	}()

	path := cmd.String("config")
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, config.ErrNotFound):
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return err
	}
	if cmd.Bool("print-config") {
		return cfg.Dump(cmd.Writer)
	}

	startAt, err := acquire.NextStart(time.Now(), cfg.ObservationStartTime)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log = log.With().Str("run_id", runID).Logger()

	rig, err := sensor.Open(cfg, logging.Component(log, "sensor"))
	if err != nil {
		return fmt.Errorf("sensor startup: %w", err)
	}
	defer rig.Close()
	rig.SelfTest(ctx, logging.Component(log, "sensor"), cfg.MeasurementTimeout())

	fanout := output.NewFanout(logging.Component(log, "output"), initOutputs(cfg, runID, log)...)
	defer fanout.Close()

	if !cmd.Bool("now") && startAt.After(time.Now()) {
		log.Info().Time("start", startAt).Msg("waiting for observation start")
		if err := acquire.WaitUntil(ctx, clock.RealClock{}, startAt); err != nil {
			log.Info().Msg("interrupted before observation start")
			return nil
		}
	}

	loop := acquire.New(cfg, rig, log, acquire.WithRunID(runID), acquire.WithPublisher(fanout))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// the metrics server follows the loop
		defer cancel()
		return loop.Run(gctx)
	})
	if cfg.MetricsAddress != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, cfg.MetricsAddress, logging.Component(log, "metrics")); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
			return nil
		})
	}
	return g.Wait()
}

// initOutputs builds the configured telemetry sinks. A sink that cannot be
// set up is logged and left out.
func initOutputs(cfg config.Config, runID string, log zerolog.Logger) []output.Entry {
	var entries []output.Entry
	for i, o := range cfg.Outputs {
		var out output.Output
		var err error
		kind := strings.ToLower(o.Type)
		switch kind {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			if o.MQTT == nil {
				err = errors.New("missing mqtt section")
				break
			}
			out, err = mqttout.NewMQTT(*o.MQTT, log)
		case "influx":
			if o.Influx == nil {
				err = errors.New("missing influx section")
				break
			}
			out, err = influx.NewInflux(*o.Influx, runID, log)
		default:
			err = fmt.Errorf("unknown output type %q", o.Type)
		}
		if err != nil {
			log.Warn().Err(err).Int("index", i).Str("type", o.Type).Msg("output disabled")
			continue
		}
		entries = append(entries, output.Entry{Name: kind, Output: out})
	}
	return entries
}
