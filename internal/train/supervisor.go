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

package train

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tombee/maestro/internal/checkpoint"
	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/log"
	"github.com/tombee/maestro/internal/model"
	"github.com/tombee/maestro/internal/telemetry"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// defaultRestartInterval throttles back-to-back restarts so a failure that
// reproduces instantly (bad config, unreachable storage) cannot spin the
// supervisor into a tight crash loop.
const defaultRestartInterval = 10 * time.Second

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Config *config.Config
	Store  checkpoint.Store
	Sink   telemetry.Sink
	Model  model.Options

	// CleanStart requests a destructive fresh start. It is honored on the
	// first attempt only; every restart after a failure resumes from the
	// latest checkpoint no matter what the operator asked for.
	CleanStart bool

	// RestartInterval is the minimum spacing between attempt starts.
	// Zero selects the default.
	RestartInterval time.Duration

	Logger *slog.Logger

	// attempt is swapped in tests.
	attempt func(ctx context.Context, ac AttemptConfig) error
}

// Supervisor owns the outer restart loop. Every attempt rebuilds the whole
// pipeline from scratch; any failure short of an operator interrupt tears the
// attempt down and starts the next one from the latest checkpoint. This is
// the mechanism that makes preemptible capacity usable: preemption is just
// one more failure to restart past.
type Supervisor struct {
	cfg     SupervisorConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	attempt func(ctx context.Context, ac AttemptConfig) error
}

// NewSupervisor creates a training supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	interval := cfg.RestartInterval
	if interval <= 0 {
		interval = defaultRestartInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempt := cfg.attempt
	if attempt == nil {
		attempt = RunAttempt
	}
	return &Supervisor{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger,
		attempt: attempt,
	}
}

// Run drives attempts until the run is interrupted. It only ever returns on
// an operator interrupt (or cancelled context); every other failure restarts
// the pipeline.
func (s *Supervisor) Run(ctx context.Context) error {
	first := true

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return maestroerrors.ErrInterrupted
		}

		attemptID := uuid.NewString()[:8]
		logger := log.WithAttempt(s.logger, attemptID)

		// Destructive initialization requires both the operator's request
		// and this being the first attempt. A restart never wipes data.
		cleanStart := s.cfg.CleanStart && first
		first = false

		logger.Info("starting attempt",
			slog.String(log.RunKey, s.cfg.Config.Name),
			slog.Bool("clean_start", cleanStart))

		err := s.attempt(ctx, AttemptConfig{
			Config:     s.cfg.Config,
			Store:      s.cfg.Store,
			Sink:       s.cfg.Sink,
			Model:      s.cfg.Model,
			CleanStart: cleanStart,
			Logger:     logger,
		})
		if err == nil {
			// The step loop never ends on its own today; treat a clean
			// return as a finished run regardless.
			logger.Info("attempt finished")
			return nil
		}

		if maestroerrors.IsInterrupt(err) {
			logger.Info("run interrupted; shutting down")
			return maestroerrors.ErrInterrupted
		}

		restartsTotal.Inc()
		logger.Error("attempt failed; restarting from latest checkpoint", log.Error(err))
	}
}
