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

package model

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"

	"github.com/tombee/maestro/internal/config"
	"github.com/tombee/maestro/internal/dataset"
	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

func init() {
	RegisterBackend("sim", func(cfg *config.Config, opts Options) (Handle, error) {
		return NewSim(), nil
	})
}

// Sim is a deterministic in-process model handle. It performs no real
// learning: losses are a pure function of the update count and the batch
// content, decaying as updates accumulate. This makes checkpoint round-trips
// and schedule behavior exactly reproducible, which is what the orchestration
// core and its tests need from a backend.
type Sim struct {
	updates uint64
	running float64
}

// simParams is the Snapshot serialization of a Sim.
type simParams struct {
	Updates uint64  `json:"updates"`
	Running float64 `json:"running"`
}

// NewSim creates a simulated model handle with fresh parameters.
func NewSim() *Sim {
	return &Sim{}
}

// Train performs one simulated optimizer update.
func (s *Sim) Train(ctx context.Context, batch dataset.Batch) (TrainResult, error) {
	if err := ctx.Err(); err != nil {
		return TrainResult{}, err
	}

	s.updates++
	last := s.lossFor(batch, 0)
	if s.running == 0 {
		s.running = last
	} else {
		s.running = 0.99*s.running + 0.01*last
	}

	return TrainResult{Loss: s.running, LastLoss: last}, nil
}

// Eval computes the mean simulated loss of the batch.
func (s *Sim) Eval(ctx context.Context, batch dataset.Batch) (float64, error) {
	losses, err := s.Losses(ctx, batch)
	if err != nil {
		return 0, err
	}

	var sum float64
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(losses)), nil
}

// Losses computes one simulated loss per sequence.
func (s *Sim) Losses(ctx context.Context, batch dataset.Batch) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(batch.Sequences) == 0 {
		return nil, maestroerrors.New("empty batch")
	}

	losses := make([]float64, len(batch.Sequences))
	for i := range batch.Sequences {
		losses[i] = s.lossFor(batch, i)
	}
	return losses, nil
}

// lossFor derives a loss from the update count and the sequence content.
// The first term decays with training; the second is stable per-sequence
// jitter so distinct candidates score distinctly.
func (s *Sim) lossFor(batch dataset.Batch, i int) float64 {
	h := fnv.New64a()
	seq := batch.Sequences[i]
	for j, tok := range seq {
		if batch.Masks != nil && batch.Masks[i] != nil && batch.Masks[i][j] == 0 {
			continue
		}
		var buf [4]byte
		buf[0] = byte(tok)
		buf[1] = byte(tok >> 8)
		buf[2] = byte(tok >> 16)
		buf[3] = byte(tok >> 24)
		h.Write(buf[:])
	}

	base := 10.0 / (1.0 + math.Sqrt(float64(s.updates)))
	jitter := float64(h.Sum64()%1000) / 1000.0
	return base + jitter
}

// Snapshot serializes the simulated parameters.
func (s *Sim) Snapshot() ([]byte, error) {
	return json.Marshal(simParams{Updates: s.updates, Running: s.running})
}

// Restore replaces the simulated parameters with a Snapshot payload.
func (s *Sim) Restore(params []byte) error {
	var p simParams
	if err := json.Unmarshal(params, &p); err != nil {
		return maestroerrors.Wrap(err, "restoring model parameters")
	}
	s.updates = p.Updates
	s.running = p.Running
	return nil
}
