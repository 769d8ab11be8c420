// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package train implements the maestro train command: it assembles the
// checkpoint store, telemetry sinks and model backend from the experiment
// config, then hands everything to the training supervisor.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/tombee/maestro/internal/checkpoint"
	"github.com/tombee/maestro/internal/cli/prompt"
	"github.com/tombee/maestro/internal/commands/shared"
	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/log"
	"github.com/tombee/maestro/internal/model"
	"github.com/tombee/maestro/internal/telemetry"
	"github.com/tombee/maestro/internal/train"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

type options struct {
	configPath  string
	tpu         string
	tpuRegion   string
	preemptible bool
	backend     string
	fresh       bool
	yes         bool
}

// NewCommand creates the train command.
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Start or resume a training run",
		Long: `Start a training run from the experiment config, resuming from the latest
checkpoint when one exists. The supervisor restarts the pipeline on any
failure; only an interrupt (Ctrl-C or SIGTERM) stops the run.

Pass --new to discard existing checkpoint data and start from scratch.
This is destructive and asks for confirmation unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}

	addFlags(cmd.Flags(), opts)
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func addFlags(fs *pflag.FlagSet, opts *options) {
	fs.StringVarP(&opts.configPath, "config", "c", "", "Experiment config file (required)")
	fs.StringVar(&opts.tpu, "tpu", "", "Accelerator slice name")
	fs.StringVar(&opts.tpuRegion, "tpu-region", "", "Accelerator region")
	fs.BoolVar(&opts.preemptible, "preemptible", false, "Treat the accelerator as preemptible capacity")
	fs.StringVar(&opts.backend, "backend", "sim", "Model backend")
	fs.BoolVar(&opts.fresh, "new", false, "Delete existing checkpoints and start from scratch")
	fs.BoolVarP(&opts.yes, "yes", "y", false, "Skip confirmation prompts")
}

func runTrain(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(logConfig())

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	if opts.fresh && !opts.yes {
		ok, err := confirmFresh(ctx, cfg)
		if err != nil {
			return err
		}
		if !ok {
			cmd.Println("Aborted.")
			return nil
		}
	}

	store, err := checkpoint.Open(ctx, cfg.CheckpointLocation())
	if err != nil {
		return maestroerrors.Wrap(err, "opening checkpoint store")
	}

	sink, cleanup, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.MetricsListen != "" {
		go serveMetrics(cfg.MetricsListen, logger)
	}

	supervisor := train.NewSupervisor(train.SupervisorConfig{
		Config: cfg,
		Store:  store,
		Sink:   sink,
		Model: model.Options{
			Backend:     opts.backend,
			TPU:         opts.tpu,
			Region:      opts.tpuRegion,
			Preemptible: opts.preemptible,
		},
		CleanStart: opts.fresh,
		Logger:     logger,
	})

	err = supervisor.Run(ctx)
	if maestroerrors.IsInterrupt(err) {
		// Operator interrupts are a clean shutdown, not a failure.
		return nil
	}
	return err
}

// logConfig derives the logging configuration from the environment, with the
// global --verbose flag forcing debug level on top.
func logConfig() *log.Config {
	cfg := log.FromEnv()
	if shared.GetVerbose() {
		cfg.Level = "debug"
	}
	return cfg
}

// confirmFresh asks before wiping checkpoint data. Refuses rather than
// guesses when no terminal is attached.
func confirmFresh(ctx context.Context, cfg *config.Config) (bool, error) {
	p := prompt.NewSurveyPrompter(prompt.StdinIsTerminal())
	if !p.IsInteractive() {
		return false, maestroerrors.Wrap(prompt.ErrNotInteractive,
			"--new deletes existing checkpoints; pass --yes to confirm")
	}
	message := fmt.Sprintf("Delete all checkpoint data at %s and start from scratch?",
		cfg.CheckpointLocation())
	return p.Confirm(ctx, message, false)
}

// buildSinks assembles the telemetry fan-out: structured logs, Prometheus
// gauges, and (when run_db is set) the durable SQLite history.
func buildSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (telemetry.Sink, func(), error) {
	sinks := []telemetry.Sink{
		telemetry.NewLogSink(log.WithComponent(logger, "telemetry")),
		telemetry.NewPromSink(cfg.Name, prometheus.DefaultRegisterer),
	}

	cleanup := func() {}
	if cfg.RunDB != "" {
		store, err := telemetry.NewStore(cfg.RunDB)
		if err != nil {
			return nil, nil, maestroerrors.Wrap(err, "opening run database")
		}
		dump, err := yaml.Marshal(cfg)
		if err != nil {
			store.Close()
			return nil, nil, maestroerrors.Wrap(err, "serializing config for run record")
		}
		if err := store.StartRun(ctx, uuid.NewString(), cfg.Name, string(dump)); err != nil {
			store.Close()
			return nil, nil, maestroerrors.Wrap(err, "recording run start")
		}
		sinks = append(sinks, store)
		cleanup = func() { store.Close() }
	}

	return telemetry.NewMultiSink(sinks...), cleanup, nil
}

// serveMetrics exposes the Prometheus endpoint. Failures are logged; metrics
// are never worth taking training down for.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics listener failed", log.Error(err))
	}
}
