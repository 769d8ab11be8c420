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

	"github.com/tombee/maestro/internal/dataset"
	"github.com/tombee/maestro/internal/model"
)

// choiceTask scores multiple-choice examples: every candidate continuation is
// scored against the context, and the candidate with the lowest loss wins.
// winogrande, piqa and hellaswag are all instances with different example
// files and choice counts.
type choiceTask struct {
	name     string
	seqLen   int
	examples []ChoiceExample
}

// NewWinogrande loads the winogrande examples file (two choices each).
func NewWinogrande(path string, seqLen int) (*choiceTask, error) {
	return newChoiceTask("winogrande", path, seqLen, 0, 2)
}

// NewPIQA loads the piqa examples file (two choices each).
func NewPIQA(path string, seqLen int) (*choiceTask, error) {
	return newChoiceTask("piqa", path, seqLen, 0, 2)
}

// NewHellaSwag loads the hellaswag examples file (four choices each),
// bounded to the first limit examples when limit > 0.
func NewHellaSwag(path string, seqLen, limit int) (*choiceTask, error) {
	return newChoiceTask("hellaswag", path, seqLen, limit, 4)
}

func newChoiceTask(name, path string, seqLen, limit, choices int) (*choiceTask, error) {
	examples, err := LoadChoice(path, limit, choices)
	if err != nil {
		return nil, err
	}
	return &choiceTask{name: name, seqLen: seqLen, examples: examples}, nil
}

// Name implements eval.Task.
func (t *choiceTask) Name() string { return t.name }

// Run implements eval.Task.
func (t *choiceTask) Run(ctx context.Context, batchSize int, m model.Handle) (map[string]float64, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	correct := 0
	for start := 0; start < len(t.examples); start += batchSize {
		end := min(start+batchSize, len(t.examples))
		chunk := t.examples[start:end]

		// One sequence per candidate; the mask scores only the candidate
		// span so shared context never biases the comparison.
		var sequences [][]int32
		var masks [][]int8
		for _, ex := range chunk {
			for _, choice := range ex.Choices {
				tokens := make([]int32, 0, len(ex.Context)+len(choice))
				tokens = append(tokens, ex.Context...)
				tokens = append(tokens, choice...)

				mask := make([]int8, len(tokens))
				for j := len(ex.Context); j < len(tokens); j++ {
					mask[j] = 1
				}

				seq, msk := fitTail(tokens, mask, t.seqLen)
				sequences = append(sequences, seq)
				masks = append(masks, msk)
			}
		}

		losses, err := m.Losses(ctx, dataset.Batch{
			Shape:     dataset.BatchShape{AccumSteps: 1, BatchSize: len(sequences), SeqLen: t.seqLen},
			Sequences: sequences,
			Masks:     masks,
		})
		if err != nil {
			return nil, err
		}

		offset := 0
		for _, ex := range chunk {
			best := 0
			for c := 1; c < len(ex.Choices); c++ {
				if losses[offset+c] < losses[offset+best] {
					best = c
				}
			}
			if best == ex.Answer {
				correct++
			}
			offset += len(ex.Choices)
		}
	}

	return map[string]float64{
		t.name + "/acc":   float64(correct) / float64(len(t.examples)),
		t.name + "/total": float64(len(t.examples)),
	}, nil
}
