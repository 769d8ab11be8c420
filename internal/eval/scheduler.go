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

package eval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/maestro/internal/dataset"
	"github.com/tombee/maestro/internal/log"
	"github.com/tombee/maestro/internal/model"
	"github.com/tombee/maestro/internal/telemetry"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// ValSet is one named validation dataset. Sets are evaluated in slice order.
type ValSet struct {
	Name     string
	Provider dataset.Provider
}

// SchedulerConfig configures an evaluation Scheduler.
type SchedulerConfig struct {
	// ValEvery is the evaluation interval in steps. Rounds fire whenever
	// step % ValEvery == 0, including step 0.
	ValEvery uint64

	// ValBatches bounds how many batches each validation set contributes
	// per round.
	ValBatches int

	// BatchSize is the global evaluation batch size handed to tasks.
	BatchSize int

	// Sets are the validation datasets, in reporting order.
	Sets []ValSet

	// Tasks are the benchmark tasks, in the order they run each round.
	Tasks []Task

	// Sink receives every result. Required.
	Sink telemetry.Sink

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler decides when evaluation rounds run and executes them. Within a
// round, validation losses always come before benchmark tasks, and both keep
// their configured order. A failing task is recorded and skipped past, never
// allowed to take the rest of the round down with it.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger
}

// NewScheduler creates an evaluation scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, logger: logger}
}

// Due reports whether an evaluation round runs at step. Unlike checkpoints,
// rounds do fire at step 0 so a fresh run gets a baseline measurement.
func (s *Scheduler) Due(step uint64) bool {
	return step%s.cfg.ValEvery == 0
}

// Round holds every result of one evaluation round, attributed to one step.
type Round struct {
	Step uint64

	// ValLoss maps validation set name to mean loss over the drained batches.
	ValLoss map[string]float64

	// TaskMetrics maps task name to the metrics it reported.
	TaskMetrics map[string]map[string]float64

	// Errors holds the task-local (and set-local) failures of the round,
	// keyed by task or set name. A failure here never aborts the round.
	Errors map[string]error
}

// RunRound executes one full evaluation round at step and reports results to
// the sink as they land. Only a cancelled context aborts the round early;
// individual set or task failures are isolated into Round.Errors.
func (s *Scheduler) RunRound(ctx context.Context, step uint64, m model.Handle) (*Round, error) {
	round := &Round{
		Step:        step,
		ValLoss:     make(map[string]float64),
		TaskMetrics: make(map[string]map[string]float64),
		Errors:      make(map[string]error),
	}

	for _, set := range s.cfg.Sets {
		if err := ctx.Err(); err != nil {
			return round, err
		}

		loss, err := s.valLoss(ctx, set, m)
		if err != nil {
			if maestroerrors.IsInterrupt(err) {
				return round, err
			}
			s.logger.Warn("validation set failed",
				slog.String(log.DatasetKey, set.Name),
				slog.Uint64(log.StepKey, step),
				log.Error(err))
			round.Errors[set.Name] = err
			continue
		}

		round.ValLoss[set.Name] = loss
		s.logger.Info("validation loss",
			slog.String(log.DatasetKey, set.Name),
			slog.Uint64(log.StepKey, step),
			slog.Float64("loss", loss))
		s.report(ctx, step, map[string]float64{"val/loss_" + set.Name: loss})
	}

	for _, task := range s.cfg.Tasks {
		if err := ctx.Err(); err != nil {
			return round, err
		}

		started := time.Now()
		metrics, err := s.runTask(ctx, step, task, m)
		if err != nil {
			if maestroerrors.IsInterrupt(err) {
				return round, err
			}
			s.logger.Warn("benchmark task failed",
				slog.String(log.TaskKey, task.Name()),
				slog.Uint64(log.StepKey, step),
				log.Error(err))
			round.Errors[task.Name()] = err
			taskFailures.WithLabelValues(task.Name()).Inc()
			continue
		}

		round.TaskMetrics[task.Name()] = metrics
		s.logger.Info("benchmark task finished",
			slog.String(log.TaskKey, task.Name()),
			slog.Uint64(log.StepKey, step),
			slog.Int64(log.DurationKey, time.Since(started).Milliseconds()))
		s.report(ctx, step, metrics)
	}

	roundsCompleted.Inc()
	return round, nil
}

// valLoss drains up to ValBatches batches from a validation set and returns
// the arithmetic mean loss. The provider is rewound first: validation passes
// are stateless.
func (s *Scheduler) valLoss(ctx context.Context, set ValSet, m model.Handle) (float64, error) {
	set.Provider.Reset()

	var sum float64
	for i := 0; i < s.cfg.ValBatches; i++ {
		batch, err := set.Provider.Next(ctx)
		if err != nil {
			return 0, maestroerrors.Wrapf(err, "reading validation batch %d of set %s", i, set.Name)
		}
		loss, err := m.Eval(ctx, batch)
		if err != nil {
			return 0, maestroerrors.Wrapf(err, "evaluating batch %d of set %s", i, set.Name)
		}
		sum += loss
	}
	return sum / float64(s.cfg.ValBatches), nil
}

// runTask invokes one benchmark task, converting panics and errors into
// *errors.TaskError so one misbehaving task cannot sink the round.
func (s *Scheduler) runTask(ctx context.Context, step uint64, task Task, m model.Handle) (metrics map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &maestroerrors.TaskError{
				Task:  task.Name(),
				Step:  step,
				Cause: fmt.Errorf("panic: %v", r),
			}
		}
	}()

	metrics, err = task.Run(ctx, s.cfg.BatchSize, m)
	if err != nil {
		if maestroerrors.IsInterrupt(err) {
			return nil, err
		}
		return nil, &maestroerrors.TaskError{Task: task.Name(), Step: step, Cause: err}
	}
	return metrics, nil
}

func (s *Scheduler) report(ctx context.Context, step uint64, metrics map[string]float64) {
	if err := s.cfg.Sink.Log(ctx, step, metrics); err != nil {
		s.logger.Warn("telemetry sink failed", slog.Uint64(log.StepKey, step), log.Error(err))
	}
}
