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

// Package tasks implements the benchmark task suite: lambada, winogrande,
// piqa and hellaswag. Each task reads a pre-tokenized JSONL examples file and
// scores a model handle through its per-sequence loss surface.
package tasks

import (
	"bufio"
	"encoding/json"
	"os"

	maestroerrors "github.com/tombee/maestro/pkg/errors"
)

// ClozeExample is a sequence whose tail span is scored: the model's loss
// over [TargetStart, len) measures how well it predicts the held-out ending.
type ClozeExample struct {
	Tokens      []int32 `json:"tokens"`
	TargetStart int     `json:"target_start"`
}

// ChoiceExample is a context with candidate continuations; exactly one
// (Answer) is correct. The model picks the candidate with the lowest loss.
type ChoiceExample struct {
	Context []int32   `json:"context"`
	Choices [][]int32 `json:"choices"`
	Answer  int       `json:"answer"`
}

// loadJSONL reads up to limit records from a JSONL file (0 means all),
// decoding each line into T and rejecting records that fail validate.
func loadJSONL[T any](path string, limit int, validate func(T) error) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, maestroerrors.Wrapf(err, "opening task examples %s", path)
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ex T
		if err := json.Unmarshal(raw, &ex); err != nil {
			return nil, maestroerrors.Wrapf(err, "parsing %s line %d", path, line)
		}
		if err := validate(ex); err != nil {
			return nil, maestroerrors.Wrapf(err, "invalid example at %s line %d", path, line)
		}
		out = append(out, ex)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, maestroerrors.Wrapf(err, "reading %s", path)
	}
	if len(out) == 0 {
		return nil, &maestroerrors.ValidationError{
			Field:   "tasks",
			Message: "examples file " + path + " contains no examples",
		}
	}
	return out, nil
}

// LoadCloze reads cloze examples from a JSONL file.
func LoadCloze(path string, limit int) ([]ClozeExample, error) {
	return loadJSONL(path, limit, func(ex ClozeExample) error {
		if ex.TargetStart <= 0 || ex.TargetStart >= len(ex.Tokens) {
			return maestroerrors.New("target_start must fall inside tokens")
		}
		return nil
	})
}

// LoadChoice reads multiple-choice examples from a JSONL file. want bounds
// the number of choices per example; 0 accepts any count of two or more.
func LoadChoice(path string, limit, want int) ([]ChoiceExample, error) {
	return loadJSONL(path, limit, func(ex ChoiceExample) error {
		if len(ex.Choices) < 2 {
			return maestroerrors.New("example needs at least two choices")
		}
		if want > 0 && len(ex.Choices) != want {
			return maestroerrors.Wrapf(maestroerrors.New("wrong choice count"), "want %d choices, got %d", want, len(ex.Choices))
		}
		if ex.Answer < 0 || ex.Answer >= len(ex.Choices) {
			return maestroerrors.New("answer index out of range")
		}
		return nil
	})
}

// fitTail pads or left-trims a sequence and its mask to length n, preserving
// the scored tail.
func fitTail(tokens []int32, mask []int8, n int) ([]int32, []int8) {
	if len(tokens) > n {
		tokens = tokens[len(tokens)-n:]
		mask = mask[len(mask)-n:]
	}
	outTokens := make([]int32, n)
	outMask := make([]int8, n)
	copy(outTokens, tokens)
	copy(outMask, mask)
	return outTokens, outMask
}
