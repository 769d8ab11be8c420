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

// Package model defines the contract between the training core and the
// model-execution backend. The backend owns the parameters, the replica
// topology and everything numeric; the core only drives it.
package model

import (
	"context"

	"github.com/tombee/maestro/internal/dataset"
)

// TrainResult is the loss pair reported for one optimizer update.
type TrainResult struct {
	// Loss is the smoothed running loss across recent updates.
	Loss float64

	// LastLoss is the instantaneous loss of this update.
	LastLoss float64
}

// Handle drives one model across the whole replica set. All calls are
// synchronous: Train and Eval block until every replica has contributed and
// return results as if computed atomically.
type Handle interface {
	// Train performs one optimizer update on the batch.
	Train(ctx context.Context, batch dataset.Batch) (TrainResult, error)

	// Eval computes the mean loss of the batch without updating parameters.
	Eval(ctx context.Context, batch dataset.Batch) (float64, error)

	// Losses computes one loss per sequence in the batch, honoring the
	// batch's masks. Benchmark tasks use it to score candidate completions.
	Losses(ctx context.Context, batch dataset.Batch) ([]float64, error)

	// Snapshot serializes the current parameters for checkpointing.
	Snapshot() ([]byte, error)

	// Restore replaces the current parameters with a Snapshot payload.
	Restore(params []byte) error
}
