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

package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/maestro/internal/log"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// Manager applies the checkpoint schedule and retention policy on top of a
// Store. Checkpoints land every ckptEvery steps; those whose step is a
// multiple of keepEvery are milestones and retained indefinitely, the rest
// are transient and deleted once a newer checkpoint is durable.
type Manager struct {
	store     Store
	ckptEvery uint64
	keepEvery uint64
	logger    *slog.Logger
}

// NewManager creates a checkpoint lifecycle manager.
func NewManager(store Store, ckptEvery, keepEvery uint64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		ckptEvery: ckptEvery,
		keepEvery: keepEvery,
		logger:    logger,
	}
}

// Due reports whether a checkpoint must be written at step. Step 0 is covered
// by initialization, never by the schedule.
func (m *Manager) Due(step uint64) bool {
	return step != 0 && step%m.ckptEvery == 0
}

// Milestone reports whether a checkpoint at step is retained indefinitely.
func (m *Manager) Milestone(step uint64) bool {
	return step%m.keepEvery == 0
}

// Init writes the initial checkpoint at step 0. If the store already holds
// checkpoint data and overwrite is false, nothing is written and
// *errors.CheckpointExistsError is returned; the caller is expected to resume
// from Latest instead. With overwrite set, all prior checkpoints are deleted
// first. Overwrite authorization is the caller's responsibility and must
// never be granted on a crash-triggered restart.
func (m *Manager) Init(ctx context.Context, params []byte, overwrite bool) error {
	steps, err := m.store.List(ctx)
	if err != nil {
		return maestroerrors.Wrap(err, "checking for prior checkpoints")
	}

	if len(steps) > 0 {
		if !overwrite {
			return &maestroerrors.CheckpointExistsError{
				Location: m.store.Location(),
				Step:     steps[len(steps)-1],
			}
		}
		m.logger.Warn("deleting prior checkpoint data for clean start",
			slog.String("location", m.store.Location()),
			slog.Int("checkpoints", len(steps)))
		for _, step := range steps {
			if err := m.store.Delete(ctx, step); err != nil {
				return maestroerrors.Wrap(err, "deleting prior checkpoint")
			}
		}
	}

	return m.store.Save(ctx, &Checkpoint{
		Step:      0,
		Params:    params,
		CreatedAt: time.Now().UTC(),
	})
}

// Write durably persists a checkpoint, then deletes transient predecessors.
// The deletion sweep only runs after the new checkpoint is fully written: a
// failed write leaves every prior checkpoint intact. Sweep failures are
// logged, not returned, since the new checkpoint is already safe.
func (m *Manager) Write(ctx context.Context, cp *Checkpoint) error {
	cp.CreatedAt = time.Now().UTC()
	if err := m.store.Save(ctx, cp); err != nil {
		return maestroerrors.Wrapf(err, "writing checkpoint at step %d", cp.Step)
	}
	checkpointsWritten.Inc()
	checkpointStep.Set(float64(cp.Step))

	steps, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("cannot list checkpoints for retention sweep", log.Error(err))
		return nil
	}

	for _, step := range steps {
		if step >= cp.Step || m.Milestone(step) {
			continue
		}
		if err := m.store.Delete(ctx, step); err != nil {
			m.logger.Warn("cannot delete superseded checkpoint",
				slog.Uint64(log.StepKey, step), log.Error(err))
			continue
		}
		checkpointsDeleted.Inc()
		m.logger.Debug("deleted superseded checkpoint", slog.Uint64(log.StepKey, step))
	}

	return nil
}

// Latest loads the most recent checkpoint. Returns *errors.NotFoundError when
// the store is empty.
func (m *Manager) Latest(ctx context.Context) (*Checkpoint, error) {
	steps, err := m.store.List(ctx)
	if err != nil {
		return nil, maestroerrors.Wrap(err, "listing checkpoints")
	}
	if len(steps) == 0 {
		return nil, &maestroerrors.NotFoundError{
			Resource: "checkpoint",
			ID:       m.store.Location(),
		}
	}
	return m.store.Load(ctx, steps[len(steps)-1])
}
