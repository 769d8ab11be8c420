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

// Package dataset defines the batch and cursor contracts the training core
// consumes, plus a record-file provider implementation.
package dataset

import (
	"context"
	"fmt"
)

// BatchShape describes the geometry of batches a provider emits.
type BatchShape struct {
	// AccumSteps is the number of sub-batches folded into one optimizer
	// update. Validation providers use 1.
	AccumSteps int

	// BatchSize is the number of sequences per sub-batch, aggregated across
	// all replicas.
	BatchSize int

	// SeqLen is the token length every sequence is padded or trimmed to.
	SeqLen int
}

// Sequences returns the total number of sequences in one batch.
func (s BatchShape) Sequences() int {
	accum := s.AccumSteps
	if accum < 1 {
		accum = 1
	}
	return accum * s.BatchSize
}

// Batch is one bundle of training or evaluation sequences. Sequences are
// token IDs, already padded to Shape.SeqLen. Masks, when present, mark the
// positions that contribute to the loss (1 = scored); a nil mask scores every
// position.
type Batch struct {
	Shape     BatchShape
	Sequences [][]int32
	Masks     [][]int8
}

// Cursor is the minimal serializable state needed to resume iteration over a
// dataset at the exact point it was last left. It is bundled into every
// checkpoint so a restarted attempt neither replays nor skips training data.
type Cursor struct {
	// File is the dataset file the cursor points into.
	File string `json:"file"`

	// Record is the index of the next unread record.
	Record uint64 `json:"record"`

	// Epoch counts completed passes over the file.
	Epoch uint64 `json:"epoch"`
}

// String implements fmt.Stringer for log output.
func (c Cursor) String() string {
	return fmt.Sprintf("%s@%d (epoch %d)", c.File, c.Record, c.Epoch)
}

// Provider yields batches of examples. Training providers run endlessly,
// wrapping at end of data; validation providers are rewound with Reset before
// each pass.
type Provider interface {
	// Next returns the next batch. Training providers never exhaust; they
	// wrap to the beginning of the data and increment the cursor's epoch.
	Next(ctx context.Context) (Batch, error)

	// Cursor snapshots the provider's current position for inclusion in the
	// next checkpoint. The snapshot points at the first record Next has not
	// yet returned.
	Cursor() Cursor

	// Reset rewinds the provider to the beginning of its data.
	Reset()
}
