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

// Package train contains the training core: the per-attempt runner that
// drives the step loop, and the supervisor that restarts it on failure.
package train

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/tombee/maestro/internal/checkpoint"
	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/dataset"
	"github.com/tombee/maestro/internal/eval"
	"github.com/tombee/maestro/internal/eval/tasks"
	"github.com/tombee/maestro/internal/log"
	"github.com/tombee/maestro/internal/model"
	"github.com/tombee/maestro/internal/telemetry"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// AttemptConfig carries everything one attempt needs. The supervisor builds
// one per attempt; only CleanStart varies between attempts of the same run.
type AttemptConfig struct {
	Config *config.Config
	Store  checkpoint.Store
	Sink   telemetry.Sink
	Model  model.Options

	// CleanStart authorizes deleting any existing checkpoint data and
	// initializing from scratch. It is only ever granted on the first
	// attempt of an operator-requested fresh run, never on a restart.
	CleanStart bool

	Logger *slog.Logger
}

// Runner executes one attempt: it builds the pipeline fresh, initializes or
// resumes run state, and advances the step loop until an error or
// cancellation. A Runner is never reused across attempts.
type Runner struct {
	cfg    *config.Config
	state  RunState
	model  model.Handle
	train  dataset.Provider
	ckpts  *checkpoint.Manager
	sched  *eval.Scheduler
	sink   telemetry.Sink
	logger *slog.Logger
}

// NewRunner builds the full pipeline for one attempt and establishes its
// starting state, either by writing the initial checkpoint or by resuming
// from the latest one.
func NewRunner(ctx context.Context, ac AttemptConfig) (*Runner, error) {
	logger := ac.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := model.Build(ac.Config, ac.Model)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "building model")
	}

	r := &Runner{
		cfg:    ac.Config,
		model:  m,
		ckpts:  checkpoint.NewManager(ac.Store, ac.Config.CkptEvery, ac.Config.KeepEvery, logger),
		sink:   ac.Sink,
		logger: logger,
	}

	cursor, err := r.establish(ctx, ac.CleanStart)
	if err != nil {
		return nil, err
	}

	if err := r.buildData(cursor); err != nil {
		return nil, err
	}
	if err := r.buildEval(); err != nil {
		return nil, err
	}

	return r, nil
}

// establish initializes or resumes run state and returns the dataset cursor
// to resume from, nil for a fresh start.
func (r *Runner) establish(ctx context.Context, cleanStart bool) (*dataset.Cursor, error) {
	params, err := r.model.Snapshot()
	if err != nil {
		return nil, maestroerrors.Wrap(err, "snapshotting initial parameters")
	}

	err = r.ckpts.Init(ctx, params, cleanStart)
	if err == nil {
		r.logger.Info("initialized fresh run", slog.Uint64(log.StepKey, 0))
		return nil, nil
	}

	var exists *maestroerrors.CheckpointExistsError
	if !maestroerrors.As(err, &exists) {
		return nil, maestroerrors.Wrap(err, "initializing checkpoint store")
	}

	cp, err := r.ckpts.Latest(ctx)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "loading latest checkpoint")
	}
	if err := r.model.Restore(cp.Params); err != nil {
		return nil, maestroerrors.Wrapf(err, "restoring parameters from step %d", cp.Step)
	}

	r.state.Step = cp.Step
	r.state.Resumed = true

	if cp.Cursor == nil {
		r.logger.Warn("checkpoint carries no dataset cursor; data order will not resume exactly",
			slog.Uint64(log.StepKey, cp.Step))
		return nil, nil
	}

	r.logger.Info("resuming from checkpoint",
		slog.Uint64(log.StepKey, cp.Step),
		slog.String(log.DatasetKey, cp.Cursor.String()))
	return cp.Cursor, nil
}

// buildData constructs the training provider, resuming from cursor when one
// is available. A cursor that no longer matches the configured dataset is
// downgraded to a fresh pass rather than failing the attempt.
func (r *Runner) buildData(cursor *dataset.Cursor) error {
	shape := dataset.BatchShape{
		AccumSteps: r.cfg.GradientAccumulationSteps,
		BatchSize:  r.cfg.GlobalBatch(),
		SeqLen:     r.cfg.Seq,
	}
	path := filepath.Join(r.cfg.DataDir, r.cfg.TrainSet)

	provider, err := dataset.NewRecordProvider(path, shape, cursor)
	if err != nil {
		var verr *maestroerrors.ValidationError
		if cursor != nil && maestroerrors.As(err, &verr) {
			r.logger.Warn("checkpoint cursor does not match configured dataset; starting a fresh pass",
				slog.String(log.DatasetKey, cursor.String()), log.Error(err))
			provider, err = dataset.NewRecordProvider(path, shape, nil)
		}
		if err != nil {
			return maestroerrors.Wrap(err, "opening training dataset")
		}
	}

	r.train = provider
	return nil
}

// buildEval constructs the validation sets and benchmark tasks and wires them
// into the evaluation scheduler. Validation sets are ordered by name so every
// round reports them identically.
func (r *Runner) buildEval() error {
	shape := dataset.BatchShape{
		AccumSteps: 1,
		BatchSize:  r.cfg.GlobalBatch(),
		SeqLen:     r.cfg.Seq,
	}

	names := make([]string, 0, len(r.cfg.ValSet))
	for name := range r.cfg.ValSet {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]eval.ValSet, 0, len(names))
	for _, name := range names {
		path := filepath.Join(r.cfg.DataDir, r.cfg.ValSet[name])
		provider, err := dataset.NewRecordProvider(path, shape, nil)
		if err != nil {
			return maestroerrors.Wrapf(err, "opening validation set %s", name)
		}
		sets = append(sets, eval.ValSet{Name: name, Provider: provider})
	}

	suite, err := tasks.Build(r.cfg)
	if err != nil {
		return maestroerrors.Wrap(err, "building benchmark tasks")
	}

	r.sched = eval.NewScheduler(eval.SchedulerConfig{
		ValEvery:   r.cfg.ValEvery,
		ValBatches: r.cfg.ValBatches,
		BatchSize:  r.cfg.GlobalBatch(),
		Sets:       sets,
		Tasks:      suite,
		Sink:       r.sink,
		Logger:     r.logger,
	})
	return nil
}

// State returns a copy of the runner's current progress record.
func (r *Runner) State() RunState {
	return r.state
}

// warmUp runs one training update and one evaluation pass before the step
// loop starts, so backend compilation cost lands here instead of inflating
// the first measured step. The consumed batch advances the cursor like any
// other.
func (r *Runner) warmUp(ctx context.Context) error {
	started := time.Now()
	batch, err := r.train.Next(ctx)
	if err != nil {
		return maestroerrors.Wrap(err, "reading warm-up batch")
	}
	if _, err := r.model.Train(ctx, batch); err != nil {
		return maestroerrors.Wrap(err, "warm-up train step")
	}
	r.logger.Info("compiled train step",
		slog.Int64(log.DurationKey, time.Since(started).Milliseconds()))

	started = time.Now()
	if _, err := r.model.Eval(ctx, batch); err != nil {
		return maestroerrors.Wrap(err, "warm-up eval step")
	}
	r.logger.Info("compiled eval step",
		slog.Int64(log.DurationKey, time.Since(started).Milliseconds()))
	return nil
}

// Step executes one full iteration at the current step: train on the next
// batch, report losses, then apply the checkpoint and evaluation schedules
// for this step, and finally advance.
func (r *Runner) Step(ctx context.Context) error {
	step := r.state.Step

	batch, err := r.train.Next(ctx)
	if err != nil {
		return maestroerrors.Wrapf(err, "reading batch at step %d", step)
	}

	result, err := r.model.Train(ctx, batch)
	if err != nil {
		return maestroerrors.Wrapf(err, "train update at step %d", step)
	}
	r.state.RunningLoss = result.Loss

	stepsTotal.Inc()
	currentStep.Set(float64(step))
	trainLoss.Set(result.LastLoss)
	r.report(ctx, step, map[string]float64{
		"train/loss":      result.Loss,
		"train/last_loss": result.LastLoss,
	})

	if r.ckpts.Due(step) {
		if err := r.writeCheckpoint(ctx, step); err != nil {
			return err
		}
	}

	if r.sched.Due(step) {
		if _, err := r.sched.RunRound(ctx, step, r.model); err != nil {
			return maestroerrors.Wrapf(err, "evaluation round at step %d", step)
		}
	}

	r.state.Step++
	return nil
}

// writeCheckpoint snapshots parameters and the dataset cursor together so the
// persisted step, parameters and data position always agree.
func (r *Runner) writeCheckpoint(ctx context.Context, step uint64) error {
	params, err := r.model.Snapshot()
	if err != nil {
		return maestroerrors.Wrapf(err, "snapshotting parameters at step %d", step)
	}
	cursor := r.train.Cursor()

	started := time.Now()
	if err := r.ckpts.Write(ctx, &checkpoint.Checkpoint{
		Step:   step,
		Params: params,
		Cursor: &cursor,
	}); err != nil {
		return err
	}

	r.logger.Info("wrote checkpoint",
		slog.Uint64(log.StepKey, step),
		slog.String(log.DatasetKey, cursor.String()),
		slog.Int64(log.DurationKey, time.Since(started).Milliseconds()))
	return nil
}

// Run drives the step loop until the context is cancelled or a step fails.
// Cancellation is honored at iteration boundaries; no step is ever left half
// applied.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.warmUp(ctx); err != nil {
		return err
	}

	r.logger.Info("entering step loop",
		slog.Uint64(log.StepKey, r.state.Step),
		slog.Bool("resumed", r.state.Resumed))

	for {
		select {
		case <-ctx.Done():
			return maestroerrors.ErrInterrupted
		default:
		}

		if err := r.Step(ctx); err != nil {
			return err
		}
	}
}

// RunAttempt builds a Runner and drives it to completion. It is the unit of
// work the supervisor retries.
func RunAttempt(ctx context.Context, ac AttemptConfig) error {
	r, err := NewRunner(ctx, ac)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

func (r *Runner) report(ctx context.Context, step uint64, metrics map[string]float64) {
	if err := r.sink.Log(ctx, step, metrics); err != nil {
		r.logger.Warn("telemetry sink failed", slog.Uint64(log.StepKey, step), log.Error(err))
	}
}
