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

package tasks

import (
	"context"
	"math"

	"github.com/tombee/maestro/internal/dataset"
	"github.com/tombee/maestro/internal/model"
)

// Lambada scores last-word prediction: the loss over each example's held-out
// ending, reported as mean loss and perplexity.
type Lambada struct {
	seqLen   int
	examples []ClozeExample
}

// NewLambada loads the lambada examples file.
func NewLambada(path string, seqLen int) (*Lambada, error) {
	examples, err := LoadCloze(path, 0)
	if err != nil {
		return nil, err
	}
	return &Lambada{seqLen: seqLen, examples: examples}, nil
}

// Name implements eval.Task.
func (t *Lambada) Name() string { return "lambada" }

// Run implements eval.Task.
func (t *Lambada) Run(ctx context.Context, batchSize int, m model.Handle) (map[string]float64, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	var sum float64
	var count int

	for start := 0; start < len(t.examples); start += batchSize {
		end := min(start+batchSize, len(t.examples))
		chunk := t.examples[start:end]

		batch := dataset.Batch{
			Shape:     dataset.BatchShape{AccumSteps: 1, BatchSize: len(chunk), SeqLen: t.seqLen},
			Sequences: make([][]int32, len(chunk)),
			Masks:     make([][]int8, len(chunk)),
		}
		for i, ex := range chunk {
			mask := make([]int8, len(ex.Tokens))
			for j := ex.TargetStart; j < len(ex.Tokens); j++ {
				mask[j] = 1
			}
			batch.Sequences[i], batch.Masks[i] = fitTail(ex.Tokens, mask, t.seqLen)
		}

		losses, err := m.Losses(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, loss := range losses {
			sum += loss
			count++
		}
	}

	mean := sum / float64(count)
	return map[string]float64{
		"lambada/loss": mean,
		"lambada/ppl":  math.Exp(mean),
	}, nil
}
